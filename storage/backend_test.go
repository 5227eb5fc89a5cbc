package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightscape/holon/change"
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
			{Name: "done", Type: schema.FieldBoolean, Indexed: true},
		},
	}
}

func openTestBackend(t *testing.T) *storage.Backend {
	t.Helper()
	b, err := storage.Open(storage.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	require.NoError(t, b.Migrate(context.Background(), blocksSchema()))
	return b
}

func TestApplyBatchInsertAndRead(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()

	err := b.ApplyBatch(ctx, []storage.Mutation{
		{
			Table: "blocks",
			Kind:  change.Created,
			Row: schema.Row{
				"id":      value.String("b1"),
				"content": value.String("hello"),
				"done":    value.Boolean(false),
			},
		},
	})
	require.NoError(t, err)

	row, err := b.GetByID(ctx, "blocks", "b1")
	require.NoError(t, err)
	assert.Equal(t, "hello", row["content"].MustString())
	assert.False(t, row["done"].MustBoolean())
}

func TestApplyBatchRollsBackOnFailure(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()

	err := b.ApplyBatch(ctx, []storage.Mutation{
		{Table: "blocks", Kind: change.Created, Row: schema.Row{
			"id": value.String("b1"), "content": value.String("x"), "done": value.Boolean(false),
		}},
		{Table: "unknown_table", Kind: change.Created, Row: schema.Row{"id": value.String("x")}},
	})
	require.Error(t, err)

	_, err = b.GetByID(ctx, "blocks", "b1")
	assert.Error(t, err, "the first mutation must not have been committed")
}

func TestSubscribeReceivesCommittedChanges(t *testing.T) {
	b := openTestBackend(t)
	ctx := context.Background()

	sub := b.Subscribe()
	defer sub.Unsubscribe()

	require.NoError(t, b.ApplyBatch(ctx, []storage.Mutation{
		{Table: "blocks", Kind: change.Created, Row: schema.Row{
			"id": value.String("b1"), "content": value.String("hi"), "done": value.Boolean(false),
		}},
	}))

	ev, err := sub.Recv(ctx)
	require.NoError(t, err)
	require.NotNil(t, ev.Batch)
	require.Len(t, ev.Batch.Changes, 1)
	assert.Equal(t, "b1", ev.Batch.Changes[0].ID)
	assert.Equal(t, change.Created, ev.Batch.Changes[0].Kind)
}

func TestGetByIDNotFound(t *testing.T) {
	b := openTestBackend(t)
	_, err := b.GetByID(context.Background(), "blocks", "missing")
	assert.Error(t, err)
}
