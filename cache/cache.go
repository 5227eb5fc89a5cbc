// Package cache implements the queryable cache (spec.md §4.5, C7): the
// local materialization of one entity that every read and write actually
// goes through. A Cache serves get_all/get_by_id straight from its
// backend table, ingests a provider's change stream batch-by-batch
// (rows and sync token committed in the same transaction), and
// implements operation.CRUDStore for entities it owns locally. It is
// not itself an operation.Provider.
//
// Grounded on the teacher's worker/pool.go: one designated goroutine per
// queue processes jobs strictly in order. Here one designated goroutine
// per provider stream drains a broadcast.Subscription and applies
// batches strictly in arrival order, which is what gives "at-most-one
// concurrent ingest per cache".
package cache

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/nightscape/holon/broadcast"
	"github.com/nightscape/holon/change"
	"github.com/nightscape/holon/holonlog"
	"github.com/nightscape/holon/schema"
	"github.com/nightscape/holon/storage"
	"github.com/nightscape/holon/synctoken"
	"github.com/nightscape/holon/value"
)

// RowOf converts one provider-emitted change payload into the fields to
// store (excluding the primary key, which IDOf supplies separately so
// Updated/Deleted changes that carry no Data still resolve an id).
type RowOf[T any] func(data T) (fields map[string]value.Value, err error)

// IDOf extracts the primary key from a Created payload; Updated/Deleted
// changes already carry the id on change.Change itself.
type IDOf[T any] func(data T) string

// Cache materializes one entity's rows from a typed provider stream.
type Cache[T any] struct {
	backend      *storage.Backend
	schema       schema.Schema
	providerName string
	tokens       *synctoken.Store
	rowOf        RowOf[T]
	idOf         IDOf[T]
}

// New builds a Cache for schema, fed by providerName's stream. Callers
// must have migrated schema into backend already.
func New(backend *storage.Backend, sch schema.Schema, providerName string, tokens *synctoken.Store, rowOf RowOf[T], idOf IDOf[T]) *Cache[T] {
	return &Cache[T]{backend: backend, schema: sch, providerName: providerName, tokens: tokens, rowOf: rowOf, idOf: idOf}
}

// GetAll serves get_all straight from the backend table.
func (c *Cache[T]) GetAll(ctx context.Context) ([]schema.Row, error) {
	return c.backend.GetAll(ctx, c.schema.Name)
}

// GetByID serves get_by_id straight from the backend table.
func (c *Cache[T]) GetByID(ctx context.Context, id string) (schema.Row, error) {
	return c.backend.GetByID(ctx, c.schema.Name, id)
}

// Schema satisfies operation.CRUDStore.
func (c *Cache[T]) Schema() schema.Schema { return c.schema }

// Position returns the last persisted sync position for this cache's
// provider, for the caller to pass into SyncableProvider.Sync on
// startup.
func (c *Cache[T]) Position(ctx context.Context) ([]byte, error) {
	return c.tokens.Position(ctx, c.providerName)
}

// SetField satisfies operation.CRUDStore for locally-owned entities: it
// mutates the cache table directly (no round-trip through a provider).
func (c *Cache[T]) SetField(ctx context.Context, id, field string, v value.Value) error {
	row, err := c.backend.GetByID(ctx, c.schema.Name, id)
	if err != nil {
		return err
	}
	row[field] = v
	return c.backend.ApplyBatch(ctx, []storage.Mutation{
		{Table: c.schema.Name, Kind: change.Updated, Row: row, ID: id},
	})
}

// Create satisfies operation.CRUDStore for locally-owned entities.
// Callers must supply the primary key field themselves — the cache
// never invents ids for locally-owned entities.
func (c *Cache[T]) Create(ctx context.Context, fields map[string]value.Value) (string, error) {
	id := fields[c.schema.PrimaryKey].MustString()
	row := schema.Row{}
	for k, v := range fields {
		row[k] = v
	}
	if err := c.backend.ApplyBatch(ctx, []storage.Mutation{
		{Table: c.schema.Name, Kind: change.Created, Row: row, ID: id},
	}); err != nil {
		return "", err
	}
	return id, nil
}

// Delete satisfies operation.CRUDStore for locally-owned entities.
func (c *Cache[T]) Delete(ctx context.Context, id string) error {
	return c.backend.ApplyBatch(ctx, []storage.Mutation{
		{Table: c.schema.Name, Kind: change.Deleted, ID: id},
	})
}

// Ingest applies one provider batch: every Created/Updated/Deleted
// change in batch is folded into a storage.Mutation, the sync-token
// update (if the batch carries one) rides along as one more mutation in
// the same transaction, and the whole set is applied via a single
// ApplyBatch call so either all of it lands or none of it does (spec.md
// §4.5). A row that fails to convert is skipped with a warning; the rest
// of the batch still applies.
func (c *Cache[T]) Ingest(ctx context.Context, batch change.Batch[T], now int64) error {
	log := holonlog.For("cache").WithField("entity", c.schema.Name)

	var muts []storage.Mutation
	for _, ch := range batch.Changes {
		m, ok := c.toMutation(ch, log)
		if !ok {
			continue
		}
		muts = append(muts, m)
	}

	if tok := batch.Metadata.SyncToken; tok != nil {
		muts = append(muts, synctoken.Mutation(tok.ProviderName, tok.Position, now))
	}

	if len(muts) == 0 {
		return nil
	}
	if err := c.backend.ApplyBatch(ctx, muts); err != nil {
		log.WithError(err).Warn("ingest batch failed, token not advanced, will resend")
		return err
	}
	return nil
}

func (c *Cache[T]) toMutation(ch change.Change[T], log *logrus.Entry) (storage.Mutation, bool) {
	switch ch.Kind {
	case change.Deleted:
		return storage.Mutation{Table: c.schema.Name, Kind: change.Deleted, ID: ch.ID}, true
	default:
		fields, err := c.rowOf(ch.Data)
		if err != nil {
			log.WithError(err).Warn("skipping row that failed to parse")
			return storage.Mutation{}, false
		}
		id := ch.ID
		if id == "" {
			id = c.idOf(ch.Data)
		}
		row := schema.Row{c.schema.PrimaryKey: value.String(id)}
		for k, v := range fields {
			row[k] = v
		}
		return storage.Mutation{Table: c.schema.Name, Kind: ch.Kind, Row: row, ID: id}, true
	}
}

// RunIngest drains sub strictly in order until ctx is done, applying
// each batch via Ingest. A lag notification is logged and skipped rather
// than treated as fatal; the next full batch still arrives and is
// applied normally, so the cache's view only ever lags, never corrupts.
func (c *Cache[T]) RunIngest(ctx context.Context, sub *broadcast.Subscription[T], now func() int64) error {
	log := holonlog.For("cache").WithField("entity", c.schema.Name)
	for {
		ev, err := sub.Recv(ctx)
		if err != nil {
			return err
		}
		if ev.Batch == nil {
			log.WithField("lagged", ev.Lagged).Warn("stream lagged, continuing without advancing token")
			continue
		}
		if err := c.Ingest(ctx, *ev.Batch, now()); err != nil {
			continue
		}
	}
}

// DrainPending applies every batch already queued on sub without
// blocking for more, via Ingest. It is meant to run synchronously right
// after the owning provider's Sync call returns: broadcast.Hub.Publish
// has, by then, already queued whatever batches that call produced, so
// there is nothing left to wait for.
func (c *Cache[T]) DrainPending(ctx context.Context, sub *broadcast.Subscription[T], now int64) error {
	log := holonlog.For("cache").WithField("entity", c.schema.Name)
	for {
		ev, ok := sub.TryRecv()
		if !ok {
			return nil
		}
		if ev.Batch == nil {
			log.WithField("lagged", ev.Lagged).Warn("stream lagged, continuing without advancing token")
			continue
		}
		if err := c.Ingest(ctx, *ev.Batch, now); err != nil {
			return err
		}
	}
}

// AttachDrain adapts c and sub into the provider-name-keyed drain func
// engine.RegisterProviderCache stores, so SyncProvider can ingest
// whatever a provider's Sync call just published without the engine
// needing to know T (spec.md §4.5, C7 "Queryable cache").
func AttachDrain[T any](c *Cache[T], sub *broadcast.Subscription[T]) func(ctx context.Context, now int64) error {
	return func(ctx context.Context, now int64) error {
		return c.DrainPending(ctx, sub, now)
	}
}
