package query_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightscape/holon/operation"
	"github.com/nightscape/holon/query"
	"github.com/nightscape/holon/schema"
	"github.com/nightscape/holon/storage"
	"github.com/nightscape/holon/value"
)

func blocksSchema() schema.Schema {
	return schema.Schema{
		Name:       "blocks",
		PrimaryKey: "id",
		Fields: []schema.Field{
			{Name: "id", Type: schema.FieldText},
			{Name: "content", Type: schema.FieldText},
			{Name: "done", Type: schema.FieldBoolean},
			{Name: "sort_key", Type: schema.FieldFloat},
		},
	}
}

func openBlocks(t *testing.T) *storage.Backend {
	t.Helper()
	b, err := storage.Open(storage.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	require.NoError(t, b.Migrate(context.Background(), blocksSchema()))
	return b
}

func insertBlock(t *testing.T, b *storage.Backend, id, content string, done bool) {
	t.Helper()
	err := b.ApplyBatch(context.Background(), []storage.Mutation{
		{Table: "blocks", Row: schema.Row{
			"id":       value.String(id),
			"content":  value.String(content),
			"done":     value.Boolean(done),
			"sort_key": value.Float(0),
		}},
	})
	require.NoError(t, err)
}

func noOps(entity string, availableArgs map[string]value.Value) []operation.Descriptor { return nil }

func TestCompileQuerySelectsProjectedColumns(t *testing.T) {
	cols := func(table string) ([]string, error) {
		require.Equal(t, "blocks", table)
		return []string{"id", "content", "done"}, nil
	}
	q, err := query.CompileQuery(
		`from(blocks) | where(done == false) | select(id, content) | render(this.id)`,
		cols, noOps,
	)
	require.NoError(t, err)
	assert.Equal(t, "blocks", q.Entity)
	assert.Contains(t, q.Compiled.SQL, "SELECT")
	assert.Contains(t, q.Compiled.SQL, "FROM blocks")
	assert.Contains(t, q.Compiled.SQL, "WHERE")
	assert.ElementsMatch(t, []string{"id", "content"}, q.Compiled.Selected)
}

func TestCompileQueryRejectsMissingFromStep(t *testing.T) {
	cols := func(table string) ([]string, error) { return []string{"id"}, nil }
	_, err := query.CompileQuery(`where(id == "x") | render(this.id)`, cols, noOps)
	assert.Error(t, err)
}

func TestCompileQueryRejectsMissingRenderStep(t *testing.T) {
	cols := func(table string) ([]string, error) { return []string{"id"}, nil }
	_, err := query.CompileQuery(`from(blocks)`, cols, noOps)
	assert.Error(t, err)
}

func TestQueryExecuteReturnsMatchingRows(t *testing.T) {
	b := openBlocks(t)
	insertBlock(t, b, "b1", "buy milk", false)
	insertBlock(t, b, "b2", "done task", true)

	cols := func(table string) ([]string, error) { return []string{"id", "content", "done", "sort_key"}, nil }
	q, err := query.CompileQuery(
		`from(blocks) | where(done == false) | render(this.id)`,
		cols, noOps,
	)
	require.NoError(t, err)

	rows, err := q.Execute(context.Background(), b)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "b1", rows[0]["id"].MustString())
}

func TestBuildRenderSpecAnnotatesColumnWithOperations(t *testing.T) {
	desc := operation.Descriptor{EntityName: "blocks", Name: "set_field"}
	findOps := func(entity string, availableArgs map[string]value.Value) []operation.Descriptor {
		if entity == "blocks" {
			return []operation.Descriptor{desc}
		}
		return nil
	}
	cols := func(table string) ([]string, error) { return []string{"id", "done"}, nil }
	q, err := query.CompileQuery(
		`from(blocks) | render(checkbox(this.done))`,
		cols, findOps,
	)
	require.NoError(t, err)

	call, ok := q.Render.(query.FunctionCall)
	require.True(t, ok)
	require.Len(t, call.Args, 1)
	colRef, ok := call.Args[0].Node.(query.ColumnRefNode)
	require.True(t, ok)
	assert.Equal(t, "done", colRef.Name)
	require.Len(t, colRef.Operations, 1)
	assert.Equal(t, "set_field", colRef.Operations[0].Name)
}

func TestQueryAndWatchWakesOnSourceTableMutation(t *testing.T) {
	b := openBlocks(t)
	insertBlock(t, b, "b1", "buy milk", false)

	cols := func(table string) ([]string, error) { return []string{"id", "content", "done", "sort_key"}, nil }
	_, rows, sub, err := query.QueryAndWatch(
		context.Background(), b,
		`from(blocks) | render(this.id)`,
		cols, noOps,
	)
	require.NoError(t, err)
	defer sub.Unsubscribe()
	require.Len(t, rows, 1)

	insertBlock(t, b, "b2", "buy eggs", false)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	batch, err := sub.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "blocks", batch.Metadata.RelationName)
}
