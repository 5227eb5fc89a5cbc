// Package query implements the pipeline query language (spec.md §4.9):
// a small hand-rolled lexer/parser/compiler that turns
// `from(...) | where(...) | select(...) | render(...)` text into SQL
// plus a render tree, and query_and_watch's CDC-backed live refresh
// (spec.md §4.10).
//
// Grounded on the teacher's workflow/parser.go dispatch-by-keyword
// shape, reworked from YAML-step dispatch into a recursive-descent
// parser over the tokens from lexer.go.
package query

import (
	"context"

	"github.com/nightscape/holon/broadcast"
	"github.com/nightscape/holon/change"
	"github.com/nightscape/holon/operation"
	"github.com/nightscape/holon/query/querycache"
	"github.com/nightscape/holon/schema"
	"github.com/nightscape/holon/storage"
	"github.com/nightscape/holon/value"
)

// Query is a fully compiled pipeline: SQL to run plus the render tree
// to hand rows through (spec.md §4.9 step 4).
type Query struct {
	Entity   string
	Compiled Compiled
	Render   Node
}

// CompileQuery parses and compiles pipeline source end to end.
func CompileQuery(source string, tableColumns func(table string) ([]string, error), findOps FindOperationsFunc) (Query, error) {
	pipelineText, renderExpr, err := Split(source)
	if err != nil {
		return Query{}, err
	}
	steps, err := ParsePipeline(pipelineText)
	if err != nil {
		return Query{}, err
	}
	compiled, err := Compile(steps, tableColumns)
	if err != nil {
		return Query{}, err
	}
	render, err := BuildRenderSpec(renderExpr, compiled.From, compiled.Lineage, findOps)
	if err != nil {
		return Query{}, err
	}
	return Query{Entity: compiled.From, Compiled: compiled, Render: render}, nil
}

// Execute runs the compiled SQL against backend and returns the raw
// rows (spec.md §4.9 step 4, the non-watching half).
func (q Query) Execute(ctx context.Context, backend *storage.Backend) ([]map[string]value.Value, error) {
	return backend.Query(ctx, q.Compiled.SQL, q.Compiled.Args...)
}

// WatchSubscription is a live query_and_watch handle: each Recv yields
// the CDC batch that invalidated the last result set, scoped to the
// query's source table (spec.md §4.10's query_and_watch).
type WatchSubscription struct {
	sub   *broadcast.Subscription[change.RowChange]
	table string
}

// Recv blocks until a CDC batch affecting this query's source table
// arrives, skipping batches for unrelated tables.
func (w *WatchSubscription) Recv(ctx context.Context) (change.Batch[change.RowChange], error) {
	for {
		ev, err := w.sub.Recv(ctx)
		if err != nil {
			return change.Batch[change.RowChange]{}, err
		}
		if ev.Batch == nil {
			continue
		}
		if ev.Batch.Metadata.RelationName != w.table {
			continue
		}
		return *ev.Batch, nil
	}
}

// Unsubscribe releases the underlying broadcast subscription.
func (w *WatchSubscription) Unsubscribe() { w.sub.Unsubscribe() }

// QueryAndWatch compiles source, runs it once, and returns a
// subscription that wakes on every subsequent CDC batch touching the
// query's source table — ApplyBatch publishes one single-change batch
// per mutation, tagged with its table, so filtering on
// Metadata.RelationName is sufficient
// (storage.Backend.ApplyBatch).
func QueryAndWatch(
	ctx context.Context,
	backend *storage.Backend,
	source string,
	tableColumns func(table string) ([]string, error),
	findOps FindOperationsFunc,
) (Query, []map[string]value.Value, *WatchSubscription, error) {
	q, err := CompileQuery(source, tableColumns, findOps)
	if err != nil {
		return Query{}, nil, nil, err
	}
	rows, err := q.Execute(ctx, backend)
	if err != nil {
		return Query{}, nil, nil, err
	}
	sub := backend.Subscribe()
	return q, rows, &WatchSubscription{sub: sub, table: q.Compiled.From}, nil
}

// TableColumnsFromDispatcher adapts a fixed schema map and a
// dispatcher's FindOperations into the two callbacks CompileQuery
// needs, for callers wiring the engine package together.
func TableColumnsFromDispatcher(schemas map[string]schema.Schema, findOps FindOperationsFunc) (
	func(table string) ([]string, error), FindOperationsFunc,
) {
	return SchemaTableColumns(schemas), findOps
}

// FindOperationsFrom adapts any operation.Provider-shaped
// FindOperations method (e.g. *dispatcher.Dispatcher) to
// FindOperationsFunc, giving callers a single named conversion point
// instead of an inline closure at every call site.
func FindOperationsFrom(f func(entity string, availableArgs map[string]value.Value) []operation.Descriptor) FindOperationsFunc {
	return FindOperationsFunc(f)
}

// CompileCached compiles the pipeline half of source through cache,
// re-lexing and re-parsing only on a cache miss. The render tree is
// rebuilt unconditionally since it carries operation.Descriptor values
// that are not meaningful to persist across process restarts.
func CompileCached(
	cache *querycache.DB,
	source string,
	tableColumns func(table string) ([]string, error),
	findOps FindOperationsFunc,
) (Query, error) {
	pipelineText, renderExpr, err := Split(source)
	if err != nil {
		return Query{}, err
	}

	var compiled Compiled
	if entry, ok, err := cache.Get(pipelineText); err == nil && ok {
		compiled = entryToCompiled(entry)
	} else {
		steps, err := ParsePipeline(pipelineText)
		if err != nil {
			return Query{}, err
		}
		compiled, err = Compile(steps, tableColumns)
		if err != nil {
			return Query{}, err
		}
		_ = cache.Put(pipelineText, compiledToEntry(compiled))
	}

	render, err := BuildRenderSpec(renderExpr, compiled.From, compiled.Lineage, findOps)
	if err != nil {
		return Query{}, err
	}
	return Query{Entity: compiled.From, Compiled: compiled, Render: render}, nil
}

func compiledToEntry(c Compiled) querycache.Entry {
	lineage := make(map[string]string, len(c.Lineage))
	for alias, l := range c.Lineage {
		lineage[alias] = querycache.Lineage(l.Table, l.Column)
	}
	return querycache.Entry{
		SQL:      c.SQL,
		Args:     c.Args,
		From:     c.From,
		Lineage:  lineage,
		Selected: c.Selected,
	}
}

func entryToCompiled(e querycache.Entry) Compiled {
	lineage := make(map[string]ColumnLineage, len(e.Lineage))
	for alias, encoded := range e.Lineage {
		table, column, err := querycache.SplitLineage(encoded)
		if err != nil {
			continue
		}
		lineage[alias] = ColumnLineage{Table: table, Column: column}
	}
	return Compiled{
		SQL:      e.SQL,
		Args:     e.Args,
		From:     e.From,
		Lineage:  lineage,
		Selected: e.Selected,
	}
}
