package cache_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightscape/holon/broadcast"
	"github.com/nightscape/holon/cache"
	"github.com/nightscape/holon/change"
	"github.com/nightscape/holon/schema"
	"github.com/nightscape/holon/storage"
	"github.com/nightscape/holon/synctoken"
	"github.com/nightscape/holon/value"
)

type note struct {
	ID   string
	Text string
}

func notesSchema() schema.Schema {
	return schema.Schema{
		Name:       "notes",
		PrimaryKey: "id",
		Fields: []schema.Field{
			{Name: "id", Type: schema.FieldText},
			{Name: "text", Type: schema.FieldText},
		},
	}
}

func openTestCache(t *testing.T) (*storage.Backend, *cache.Cache[note]) {
	t.Helper()
	b, err := storage.Open(storage.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	require.NoError(t, b.Migrate(context.Background(), notesSchema()))
	require.NoError(t, b.Migrate(context.Background(), synctoken.Schema()))

	tokens := synctoken.New(b)
	c := cache.New(b, notesSchema(), "notesprovider", tokens,
		func(n note) (map[string]value.Value, error) {
			if n.Text == "" {
				return nil, fmt.Errorf("empty text")
			}
			return map[string]value.Value{"text": value.String(n.Text)}, nil
		},
		func(n note) string { return n.ID },
	)
	return b, c
}

func TestCacheIngestAppliesRowsAndAdvancesToken(t *testing.T) {
	_, c := openTestCache(t)
	ctx := context.Background()

	batch := change.Batch[note]{
		Metadata: change.Metadata{
			RelationName: "notes",
			SyncToken:    &change.SyncToken{ProviderName: "notesprovider", Position: []byte("pos1")},
		},
		Changes: []change.Change[note]{
			change.NewCreated(note{ID: "n1", Text: "hello"}, change.Origin{}),
		},
	}
	require.NoError(t, c.Ingest(ctx, batch, 100))

	row, err := c.GetByID(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "hello", row["text"].MustString())

	pos, err := c.Position(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("pos1"), pos)
}

func TestCacheIngestSkipsUnparseableRowButAppliesRest(t *testing.T) {
	_, c := openTestCache(t)
	ctx := context.Background()

	batch := change.Batch[note]{
		Changes: []change.Change[note]{
			change.NewCreated(note{ID: "bad", Text: ""}, change.Origin{}),
			change.NewCreated(note{ID: "good", Text: "ok"}, change.Origin{}),
		},
	}
	require.NoError(t, c.Ingest(ctx, batch, 1))

	_, err := c.GetByID(ctx, "bad")
	assert.Error(t, err)

	row, err := c.GetByID(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, "ok", row["text"].MustString())
}

func TestCacheIngestDeleteRemovesRow(t *testing.T) {
	_, c := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Ingest(ctx, change.Batch[note]{
		Changes: []change.Change[note]{change.NewCreated(note{ID: "n1", Text: "x"}, change.Origin{})},
	}, 1))
	require.NoError(t, c.Ingest(ctx, change.Batch[note]{
		Changes: []change.Change[note]{change.NewDeleted("n1", change.Origin{})},
	}, 2))

	_, err := c.GetByID(ctx, "n1")
	assert.Error(t, err)
}

func TestCacheRunIngestAppliesPublishedBatches(t *testing.T) {
	_, c := openTestCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := broadcast.NewHub[note](10)
	sub := hub.Subscribe()
	defer sub.Unsubscribe()

	done := make(chan error, 1)
	go func() { done <- c.RunIngest(ctx, sub, func() int64 { return 42 }) }()

	hub.Publish(change.Batch[note]{
		Changes: []change.Change[note]{change.NewCreated(note{ID: "n1", Text: "streamed"}, change.Origin{})},
	})

	require.Eventually(t, func() bool {
		row, err := c.GetByID(ctx, "n1")
		return err == nil && row["text"].MustString() == "streamed"
	}, time.Second, 5*time.Millisecond, "n1 never arrived via RunIngest")

	cancel()
	<-done
}
