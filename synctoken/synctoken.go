// Package synctoken persists each provider's sync position so a restart
// resumes from where it left off rather than replaying the whole
// history (spec.md §6.1: table `sync_states(provider_name pk, position
// blob, updated_at int)`). Token updates ride inside the same
// transaction as the data they describe by being issued through
// storage.Backend.ApplyBatch, so a crash between the two can never
// happen (spec.md §5: "atomic token+data commit is simply both updates
// within the same transaction").
//
// Grounded on the schema-plus-backend shape of storage.Backend itself,
// mirroring how other_examples' sync harness keeps a `sync_state` table
// alongside its entity tables.
package synctoken

import (
	"context"

	"github.com/nightscape/holon/change"
	"github.com/nightscape/holon/schema"
	"github.com/nightscape/holon/storage"
	"github.com/nightscape/holon/value"
)

// TableName is the reserved entity name for the persisted token table.
const TableName = "sync_states"

// Schema returns the sync_states table definition for Backend.Migrate.
func Schema() schema.Schema {
	return schema.Schema{
		Name:       TableName,
		PrimaryKey: "provider_name",
		Fields: []schema.Field{
			{Name: "provider_name", Type: schema.FieldText},
			{Name: "position", Type: schema.FieldText},
			{Name: "updated_at", Type: schema.FieldInteger, Indexed: true},
		},
	}
}

// Store reads and writes provider positions against a storage.Backend.
type Store struct {
	backend *storage.Backend
}

// New wraps backend. Callers must have already migrated Schema() into
// it.
func New(backend *storage.Backend) *Store {
	return &Store{backend: backend}
}

// Position returns the persisted position for providerName, or nil if
// the provider has never synced (the "Beginning" position of spec.md
// §4.4).
func (s *Store) Position(ctx context.Context, providerName string) ([]byte, error) {
	row, err := s.backend.GetByID(ctx, TableName, providerName)
	if err != nil {
		return nil, nil //nolint:nilerr // absent row means Beginning, not an error
	}
	return []byte(row["position"].MustString()), nil
}

// Mutation builds the storage.Mutation that advances providerName to
// newPosition at now (unix seconds), for the caller to include
// alongside its data mutations in a single storage.Backend.ApplyBatch
// call — this is what makes the token update atomic with the data it
// describes.
func Mutation(providerName string, newPosition []byte, now int64) storage.Mutation {
	row := schema.Row{
		"provider_name": value.String(providerName),
		"position":      value.String(string(newPosition)),
		"updated_at":    value.Integer(now),
	}
	return storage.Mutation{
		Table: TableName,
		Kind:  change.Updated, // storage applies Updated as an upsert, so the first sync inserts the row
		Row:   row,
		ID:    providerName,
	}
}

// ApplyPosition commits newPosition for providerName in its own
// transaction, inserting the row on first sync and updating it
// thereafter.
func (s *Store) ApplyPosition(ctx context.Context, providerName string, newPosition []byte, now int64) error {
	existing, err := s.backend.GetByID(ctx, TableName, providerName)
	kind := change.Updated
	if err != nil || existing == nil {
		kind = change.Created
	}
	m := Mutation(providerName, newPosition, now)
	m.Kind = kind
	return s.backend.ApplyBatch(ctx, []storage.Mutation{m})
}
