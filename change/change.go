// Package change defines the engine's two change-flow vocabularies:
// Change[T]/Batch, the typed delta a SyncableProvider emits, and
// RowChange, the untyped delta the storage backend's CDC stream emits.
// Both travel only in flight — a Change exists only as a stream payload,
// never as stored state (spec.md §3.5).
package change

import "github.com/nightscape/holon/schema"

// Kind distinguishes the three shapes a change can take.
type Kind int

const (
	Created Kind = iota
	Updated
	Deleted
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// OriginKind distinguishes a change that originated from a local
// operation (which must be echo-suppressed when it arrives back via
// sync) from one that arrived from a remote source.
type OriginKind int

const (
	Local OriginKind = iota
	Remote
)

// Origin propagates distributed-trace context and local/remote
// provenance alongside a change (spec.md §3.4).
type Origin struct {
	Kind        OriginKind
	OperationID string // opaque hex string
	TraceID     string // opaque hex string
}

// Change[T] is Created{data, origin} | Updated{id, data, origin} |
// Deleted{id, origin}. Which fields are meaningful depends on Kind: ID is
// set for Updated/Deleted, Data for Created/Updated.
type Change[T any] struct {
	Kind   Kind
	ID     string
	Data   T
	Origin Origin
}

func NewCreated[T any](data T, origin Origin) Change[T] {
	return Change[T]{Kind: Created, Data: data, Origin: origin}
}

func NewUpdated[T any](id string, data T, origin Origin) Change[T] {
	return Change[T]{Kind: Updated, ID: id, Data: data, Origin: origin}
}

func NewDeleted[T any](id string, origin Origin) Change[T] {
	return Change[T]{Kind: Deleted, ID: id, Origin: origin}
}

// SyncToken is a provider's opaque persisted position, paired with the
// provider that produced it.
type SyncToken struct {
	ProviderName string
	Position     []byte
}

// Metadata describes the batch a set of changes was published under.
// The presence of SyncToken signals that this batch and the provider's
// position update must commit atomically (spec.md §3.5).
type Metadata struct {
	RelationName string
	TraceContext string
	SyncToken    *SyncToken
}

// Batch groups changes published together under shared Metadata.
type Batch[T any] struct {
	Metadata Metadata
	Changes  []Change[T]
}

// RowChange is the storage backend's CDC payload: a row-level delta keyed
// by table, carrying the full row for Created/Updated and only the
// entity id for Deleted (spec.md §9 open question: always the entity id,
// never a SQL rowid).
type RowChange struct {
	Table string
	Kind  Kind
	Data  schema.Row
	ID    string
}

func NewRowCreated(table string, data schema.Row) RowChange {
	return RowChange{Table: table, Kind: Created, Data: data}
}

func NewRowUpdated(table string, data schema.Row) RowChange {
	return RowChange{Table: table, Kind: Updated, Data: data}
}

func NewRowDeleted(table, id string) RowChange {
	return RowChange{Table: table, Kind: Deleted, ID: id}
}
