// Package provider defines the SyncableProvider contract (spec.md §4.4,
// C6): a pluggable external data source that polls or listens upstream,
// publishes typed Change batches on its own broadcast hubs, and
// advances an opaque position the caller persists via synctoken.
//
// Grounded on original_source's holon-todoist/todoist_sync_provider.rs
// and holon-orgmode/orgmode_sync_provider.rs (sync() → one upstream
// call → split into per-type batches → emit on typed broadcast
// channels → return new position), reworked from tokio::broadcast
// channels into this module's broadcast.Hub and from async-trait into
// a plain Go interface with context.Context.
package provider

import (
	"context"

	"github.com/nightscape/holon/operation"
)

// Position is a provider's opaque persisted sync cursor. A nil Position
// means "Beginning" (spec.md §4.4).
type Position []byte

// SyncableProvider is the contract every external data source
// implements. Name must be a stable lowercase identifier (spec.md §6.2).
type SyncableProvider interface {
	Name() string

	// Sync advances from current to a new Position, publishing zero or
	// more batches on the provider's own typed streams along the way.
	// Must be idempotent when called repeatedly with the same current
	// Position (spec.md §4.4).
	Sync(ctx context.Context, current Position) (Position, error)

	// Operations exposes the provider as an operation.Provider so the
	// dispatcher can route "<name>.sync" and any provider-specific
	// operations to it (spec.md §6.2).
	Operations() operation.Provider
}

// SyncOperationName is the wildcard-dispatchable operation every
// provider registers (spec.md §4.4: "a wildcard operation `sync` keyed
// by the synthetic entity name `<provider>.sync`").
const SyncOperationName = "sync"

// SyncEntityName returns the synthetic entity name a provider's sync
// operation is registered under.
func SyncEntityName(providerName string) string {
	return providerName + ".sync"
}
