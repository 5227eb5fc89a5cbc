package querycache_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightscape/holon/query/querycache"
)

func openTestDB(t *testing.T) *querycache.DB {
	t.Helper()
	db, err := querycache.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestGetMissingEntryReturnsNotFound(t *testing.T) {
	db := openTestDB(t)
	_, found, err := db.Get("from(blocks) | render(this.id)")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPutThenGetRoundTrips(t *testing.T) {
	db := openTestDB(t)
	entry := querycache.Entry{
		SQL:      "SELECT id AS id FROM blocks",
		From:     "blocks",
		Lineage:  map[string]string{"id": querycache.Lineage("blocks", "id")},
		Selected: []string{"id"},
	}
	require.NoError(t, db.Put("from(blocks) | render(this.id)", entry))

	got, found, err := db.Get("from(blocks) | render(this.id)")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, entry.SQL, got.SQL)
	assert.Equal(t, entry.From, got.From)
	assert.Equal(t, entry.Selected, got.Selected)
}

func TestInvalidateRemovesEntry(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.Put("src", querycache.Entry{SQL: "SELECT 1"}))
	require.NoError(t, db.Invalidate("src"))

	_, found, err := db.Get("src")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSplitLineageRoundTrips(t *testing.T) {
	table, column, err := querycache.SplitLineage(querycache.Lineage("blocks", "sort_key"))
	require.NoError(t, err)
	assert.Equal(t, "blocks", table)
	assert.Equal(t, "sort_key", column)
}
