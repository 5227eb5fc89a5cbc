// Package engine wires the backend engine façade (spec.md §4.10, C13):
// storage → sync-token store → undo log → dispatcher → query, exposing
// the handful of entry points a frontend boundary (httpapi or a direct
// embedder) actually needs: compile_query, execute_query,
// query_and_watch, execute_operation, has_operation, plus undo/redo and
// provider sync.
//
// Grounded on storage/database.go's config-struct-then-constructor
// wiring style (one New* call per concern, assembled in a single
// top-level constructor) and on the teacher's top-level main.go, which
// wires its own repositories/services in the same declarative order
// this Engine follows: storage first, then everything that reads from
// it.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/nightscape/holon/broadcast"
	"github.com/nightscape/holon/cache"
	"github.com/nightscape/holon/change"
	"github.com/nightscape/holon/dispatcher"
	"github.com/nightscape/holon/engineconfig"
	"github.com/nightscape/holon/holonlog"
	"github.com/nightscape/holon/operation"
	"github.com/nightscape/holon/provider"
	"github.com/nightscape/holon/query"
	"github.com/nightscape/holon/query/querycache"
	"github.com/nightscape/holon/schema"
	"github.com/nightscape/holon/storage"
	"github.com/nightscape/holon/synctoken"
	"github.com/nightscape/holon/undo"
	"github.com/nightscape/holon/value"
)

// Engine is the assembled runtime: one storage.Backend, one
// dispatcher.Dispatcher, one undo.Log, one synctoken.Store, and the
// registered SyncableProviders driving it.
type Engine struct {
	cfg         engineconfig.Config
	backend     *storage.Backend
	distLock    *storage.DistLock                      // nil unless cfg.DistLockRedisURL is set
	relay       *broadcast.RedisRelay[change.RowChange] // nil unless cfg.BroadcastRelayRedisURL is set
	relayCancel context.CancelFunc
	dispatcher  *dispatcher.Dispatcher
	tokens      *synctoken.Store
	undoLog     *undo.Log
	cache       *querycache.DB // nil when no cache path is configured
	providers   map[string]provider.SyncableProvider
	// providerCaches holds, per provider name, one drain func per
	// cache.Cache[T] attached via RegisterProviderCache. SyncProvider
	// runs all of a provider's drains after Sync returns, so its
	// published batches land through cache.Cache[T].Ingest rather than
	// being discarded (spec.md §4.5/§5, C7).
	providerCaches map[string][]func(ctx context.Context, now int64) error
	clock          func() int64
}

// Option customizes Open before the engine's fixed schemas are
// migrated.
type Option func(*openOptions)

type openOptions struct {
	extraSchemas []schema.Schema
	cachePath    string
	clock        func() int64
}

// WithSchemas migrates additional entity schemas (blocks/tasks/whatever
// the caller's domain needs) alongside the engine's own reserved
// tables.
func WithSchemas(schemas ...schema.Schema) Option {
	return func(o *openOptions) { o.extraSchemas = append(o.extraSchemas, schemas...) }
}

// WithQueryCache enables the bbolt-backed compiled-query cache at path.
func WithQueryCache(path string) Option {
	return func(o *openOptions) { o.cachePath = path }
}

// WithClock overrides the engine's now() source; tests use this to get
// deterministic undo-log timestamps.
func WithClock(clock func() int64) Option {
	return func(o *openOptions) { o.clock = clock }
}

// Open assembles a ready Engine from cfg: opens storage, migrates the
// engine's own reserved tables plus any caller-supplied schemas, and
// wires the dispatcher, undo log, and sync-token store against it.
func Open(ctx context.Context, cfg engineconfig.Config, opts ...Option) (*Engine, error) {
	o := openOptions{clock: func() int64 { return time.Now().Unix() }}
	for _, opt := range opts {
		opt(&o)
	}

	backend, err := storage.Open(storage.Config{
		Path:                cfg.StoragePath,
		BroadcastBufferSize: cfg.BroadcastBufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: open storage: %w", err)
	}

	for _, s := range append([]schema.Schema{synctoken.Schema(), undo.Schema()}, o.extraSchemas...) {
		if err := backend.Migrate(ctx, s); err != nil {
			_ = backend.Close()
			return nil, fmt.Errorf("engine: migrate %s: %w", s.Name, err)
		}
	}

	tokens := synctoken.New(backend)
	undoLog, err := undo.New(ctx, backend, cfg.UndoLogMaxSize)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("engine: open undo log: %w", err)
	}

	var cache *querycache.DB
	if o.cachePath != "" {
		cache, err = querycache.Open(o.cachePath)
		if err != nil {
			_ = backend.Close()
			return nil, fmt.Errorf("engine: open query cache: %w", err)
		}
	}

	var distLock *storage.DistLock
	if cfg.DistLockRedisURL != "" {
		distLock, err = storage.NewDistLock(cfg.DistLockRedisURL, "engine:"+cfg.StoragePath)
		if err != nil {
			_ = backend.Close()
			return nil, fmt.Errorf("engine: open dist lock: %w", err)
		}
		held, err := distLock.Acquire(ctx, 30*time.Second)
		if err != nil {
			_ = backend.Close()
			return nil, fmt.Errorf("engine: acquire dist lock: %w", err)
		}
		if !held {
			_ = backend.Close()
			return nil, fmt.Errorf("engine: storage %q is already locked by another process", cfg.StoragePath)
		}
	}

	var relay *broadcast.RedisRelay[change.RowChange]
	var relayCancel context.CancelFunc
	if cfg.BroadcastRelayRedisURL != "" {
		relay, err = broadcast.NewRedisRelay[change.RowChange](cfg.BroadcastRelayRedisURL, cfg.BroadcastRelayChannel)
		if err != nil {
			_ = backend.Close()
			return nil, fmt.Errorf("engine: open broadcast relay: %w", err)
		}
		var relayCtx context.Context
		relayCtx, relayCancel = context.WithCancel(context.Background())
		go relay.Forward(relayCtx, backend.CDCHub())
	}

	disp := dispatcher.New()
	disp.AddObserver(dispatcher.NewOperationLogObserver())

	return &Engine{
		cfg:            cfg,
		backend:        backend,
		distLock:       distLock,
		relay:          relay,
		relayCancel:    relayCancel,
		dispatcher:     disp,
		tokens:         tokens,
		undoLog:        undoLog,
		cache:          cache,
		providers:      make(map[string]provider.SyncableProvider),
		providerCaches: make(map[string][]func(ctx context.Context, now int64) error),
		clock:          o.clock,
	}, nil
}

// Close releases the broadcast relay and dist lock (if held), the
// backend, and, if enabled, the query cache.
func (e *Engine) Close() error {
	if e.relayCancel != nil {
		e.relayCancel()
	}
	if e.relay != nil {
		_ = e.relay.Close()
	}
	if e.distLock != nil {
		_ = e.distLock.Release(context.Background())
		_ = e.distLock.Close()
	}
	if e.cache != nil {
		if err := e.cache.Close(); err != nil {
			return err
		}
	}
	return e.backend.Close()
}

// Backend exposes the raw storage backend for callers that need it
// directly (e.g. to build a LocalStore before registering a provider).
func (e *Engine) Backend() *storage.Backend { return e.backend }

// Dispatcher exposes the raw dispatcher for advanced wiring (additional
// observers beyond what Engine itself needs).
func (e *Engine) Dispatcher() *dispatcher.Dispatcher { return e.dispatcher }

// RegisterProvider registers p's own operations (including its
// synthetic "<name>.sync" entry) with the dispatcher and remembers it
// under its Name() for SyncProvider/SyncAll.
func (e *Engine) RegisterProvider(p provider.SyncableProvider) {
	e.dispatcher.Register(p.Operations())
	e.providers[p.Name()] = p
}

// RegisterProviderCache attaches a cache.Cache[T] to providerName's
// stream via sub (a subscription on the provider's own hub, e.g.
// p.Tasks().Subscribe()), so that a later SyncProvider call ingests
// whatever that provider's Sync publishes — rows and sync token
// together, through cache.Cache[T].Ingest — instead of discarding it
// (spec.md §4.5/§5, C7 "Queryable cache"). Must be called with schema
// already migrated into the engine's backend and c built against it.
//
// A function, not an Engine method, because Go methods cannot carry
// their own type parameters.
func RegisterProviderCache[T any](e *Engine, providerName string, c *cache.Cache[T], sub *broadcast.Subscription[T]) {
	e.providerCaches[providerName] = append(e.providerCaches[providerName], cache.AttachDrain(c, sub))
}

// RegisterOperationProvider registers a plain operation.Provider (e.g.
// NewCRUDProvider/NewBlockProvider/NewTaskProvider's outputs) with the
// dispatcher, for locally-owned entities that are not SyncableProviders.
func (e *Engine) RegisterOperationProvider(p operation.Provider) {
	e.dispatcher.Register(p)
}

// HasOperation reports whether entity has an operation named name
// registered, without attempting to execute it.
func (e *Engine) HasOperation(entity, name string) bool {
	for _, desc := range e.dispatcher.Operations() {
		if desc.EntityName == entity && desc.Name == name {
			return true
		}
	}
	return false
}

// ExecuteOperation dispatches one operation call and, unless it is
// irreversible, appends it to the undo log (spec.md §4.7/§4.8).
func (e *Engine) ExecuteOperation(ctx context.Context, call operation.Call) (int64, error) {
	undoAction, err := e.dispatcher.Execute(ctx, call.Entity, call.Name, call.Params)
	if err != nil {
		return 0, err
	}
	if undoAction.Kind == operation.Irreversible {
		return 0, nil
	}
	id, err := e.undoLog.Append(ctx, call, undoAction, e.clock())
	if err != nil {
		holonlog.For("engine").WithError(err).Warn("operation succeeded but undo log append failed")
		return 0, nil
	}
	return id, nil
}

// Undo replays the inverse of the most recent undoable entry, if any.
func (e *Engine) Undo(ctx context.Context) error {
	candidates, err := e.undoLog.UndoCandidates(ctx)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}
	entry := candidates[0]
	if entry.Inverse == nil {
		return nil
	}
	if _, err := e.dispatcher.Execute(ctx, entry.Inverse.Entity, entry.Inverse.Name, entry.Inverse.Params); err != nil {
		return err
	}
	return e.undoLog.MarkUndone(ctx, entry.ID)
}

// Redo re-applies the most recently undone entry's original operation.
func (e *Engine) Redo(ctx context.Context) error {
	candidates, err := e.undoLog.RedoCandidates(ctx)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}
	entry := candidates[0]
	if _, err := e.dispatcher.Execute(ctx, entry.Operation.Entity, entry.Operation.Name, entry.Operation.Params); err != nil {
		return err
	}
	return e.undoLog.MarkRedone(ctx, entry.ID)
}

// SyncProvider advances one registered provider from its persisted
// position. If caches were attached via RegisterProviderCache, their
// drains apply the batches Sync just published — committing each
// entity's rows and the sync token together inside cache.Cache[T].Ingest
// (spec.md §4.5/§5). A provider with no attached cache falls back to
// persisting the position directly, so sync still progresses for
// providers that own no cached entity.
func (e *Engine) SyncProvider(ctx context.Context, name string) error {
	p, ok := e.providers[name]
	if !ok {
		return fmt.Errorf("engine: no provider registered with name %q", name)
	}
	current, err := e.tokens.Position(ctx, name)
	if err != nil {
		return err
	}
	next, err := p.Sync(ctx, current)
	if err != nil {
		return err
	}

	drains := e.providerCaches[name]
	if len(drains) == 0 {
		return e.tokens.ApplyPosition(ctx, name, next, e.clock())
	}
	now := e.clock()
	for _, drain := range drains {
		if err := drain(ctx, now); err != nil {
			return err
		}
	}
	return nil
}

// SyncAll advances every registered provider, in no particular order,
// collecting (not short-circuiting on) individual failures.
func (e *Engine) SyncAll(ctx context.Context) error {
	log := holonlog.For("engine")
	var firstErr error
	for name := range e.providers {
		if err := e.SyncProvider(ctx, name); err != nil {
			log.WithError(err).WithField("provider", name).Warn("provider sync failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// schemaTableColumns adapts the backend's migrated schemas to
// query.Compile's tableColumns callback.
func (e *Engine) schemaTableColumns(table string) ([]string, error) {
	s, err := e.backend.SchemaFor(table)
	if err != nil {
		return nil, err
	}
	return s.FieldNames(), nil
}

func (e *Engine) findOperations(entity string, availableArgs map[string]value.Value) []operation.Descriptor {
	return e.dispatcher.FindOperations(entity, availableArgs)
}

// CompileQuery parses and compiles pipeline source against this
// engine's schemas and registered operations (spec.md §4.9), using the
// query cache when one is configured.
func (e *Engine) CompileQuery(source string) (query.Query, error) {
	if e.cache != nil {
		return query.CompileCached(e.cache, source, e.schemaTableColumns, e.findOperations)
	}
	return query.CompileQuery(source, e.schemaTableColumns, e.findOperations)
}

// ExecuteQuery compiles and runs source once, returning its rows.
func (e *Engine) ExecuteQuery(ctx context.Context, source string) (query.Query, []map[string]value.Value, error) {
	q, err := e.CompileQuery(source)
	if err != nil {
		return query.Query{}, nil, err
	}
	rows, err := q.Execute(ctx, e.backend)
	return q, rows, err
}

// QueryAndWatch compiles, runs, and subscribes source for live
// invalidation (spec.md §4.10).
func (e *Engine) QueryAndWatch(ctx context.Context, source string) (query.Query, []map[string]value.Value, *query.WatchSubscription, error) {
	return query.QueryAndWatch(ctx, e.backend, source, e.schemaTableColumns, e.findOperations)
}
