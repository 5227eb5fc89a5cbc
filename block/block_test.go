package block_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightscape/holon/block"
	"github.com/nightscape/holon/schema"
	"github.com/nightscape/holon/value"
)

func row(id, parent, sortKey string, depth int) schema.Row {
	return schema.Row{
		"id":        value.String(id),
		"parent_id": value.String(parent),
		"sort_key":  value.String(sortKey),
		"depth":     value.Integer(int64(depth)),
		"content":   value.String(""),
	}
}

func TestTreeChildrenOrderedBySortKey(t *testing.T) {
	tree := block.Load([]schema.Row{
		row("a", block.RootParentID, "B", 0),
		row("b", block.RootParentID, "A", 0),
		row("c", block.RootParentID, "C", 0),
	})
	assert.Equal(t, []string{"b", "a", "c"}, tree.Children(block.RootParentID))
}

func TestValidateMoveDetectsCycle(t *testing.T) {
	tree := block.Load([]schema.Row{
		row("a", block.RootParentID, "A", 0),
		row("b", "a", "A", 1),
		row("c", "b", "A", 2),
	})
	err := tree.ValidateMove("a", "c")
	require.Error(t, err)
}

func TestValidateMoveAllowsNonCyclicMove(t *testing.T) {
	tree := block.Load([]schema.Row{
		row("a", block.RootParentID, "A", 0),
		row("b", block.RootParentID, "B", 0),
	})
	assert.NoError(t, tree.ValidateMove("a", "b"))
}

func TestNewSortKeyBetweenSiblings(t *testing.T) {
	tree := block.Load([]schema.Row{
		row("a", block.RootParentID, "A", 0),
		row("b", block.RootParentID, "C", 0),
	})
	key, err := tree.NewSortKey(block.RootParentID, "a")
	require.NoError(t, err)
	assert.True(t, key > "A" && key < "C")
}

func TestSplitContentByCodepoints(t *testing.T) {
	head, tail := block.SplitContent("hello world", 5)
	assert.Equal(t, "hello", head)
	assert.Equal(t, " world", tail)
}
