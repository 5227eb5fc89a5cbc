package operation_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightscape/holon/block"
	"github.com/nightscape/holon/operation"
	"github.com/nightscape/holon/schema"
	"github.com/nightscape/holon/value"
)

// fakeBlockStore is an in-memory operation.BlockStore used to exercise
// the mix-ins' default semantics without a real backend.
type fakeBlockStore struct {
	rows map[string]schema.Row
}

func newFakeBlockStore() *fakeBlockStore {
	return &fakeBlockStore{rows: make(map[string]schema.Row)}
}

func (f *fakeBlockStore) Schema() schema.Schema {
	return schema.Schema{Name: "blocks", PrimaryKey: "id"}
}

func (f *fakeBlockStore) GetByID(ctx context.Context, id string) (schema.Row, error) {
	r, ok := f.rows[id]
	if !ok {
		return nil, assertNotFound{}
	}
	return r.Clone(), nil
}

type assertNotFound struct{}

func (assertNotFound) Error() string { return "not found" }

func (f *fakeBlockStore) SetField(ctx context.Context, id, field string, v value.Value) error {
	row := f.rows[id]
	row[field] = v
	f.rows[id] = row
	return nil
}

func (f *fakeBlockStore) Create(ctx context.Context, fields map[string]value.Value) (string, error) {
	id := uuid.NewString()
	row := schema.Row{"id": value.String(id)}
	for k, v := range fields {
		row[k] = v
	}
	f.rows[id] = row
	return id, nil
}

func (f *fakeBlockStore) Delete(ctx context.Context, id string) error {
	delete(f.rows, id)
	return nil
}

func (f *fakeBlockStore) Tree(ctx context.Context) (*block.Tree, error) {
	rows := make([]schema.Row, 0, len(f.rows))
	for _, r := range f.rows {
		rows = append(rows, r)
	}
	return block.Load(rows), nil
}

func (f *fakeBlockStore) put(id, parent, sortKey string, depth int) {
	f.rows[id] = schema.Row{
		"id": value.String(id), "parent_id": value.String(parent),
		"sort_key": value.String(sortKey), "depth": value.Integer(int64(depth)),
		"content": value.String(""),
	}
}

func TestExecuteBlockMoveUpSwapsSortKeys(t *testing.T) {
	store := newFakeBlockStore()
	store.put("a", block.RootParentID, "A", 0)
	store.put("b", block.RootParentID, "B", 0)

	_, err := operation.ExecuteBlock(context.Background(), store, "move_up", map[string]value.Value{
		"id": value.String("b"),
	})
	require.NoError(t, err)

	a, _ := store.GetByID(context.Background(), "a")
	b, _ := store.GetByID(context.Background(), "b")
	assert.Equal(t, "B", a["sort_key"].MustString())
	assert.Equal(t, "A", b["sort_key"].MustString())
}

func TestExecuteBlockOutdentFailsAtRoot(t *testing.T) {
	store := newFakeBlockStore()
	store.put("a", block.RootParentID, "A", 0)

	_, err := operation.ExecuteBlock(context.Background(), store, "outdent", map[string]value.Value{
		"id": value.String("a"),
	})
	assert.Error(t, err)
}

func TestExecuteBlockMoveBlockRejectsCycle(t *testing.T) {
	store := newFakeBlockStore()
	store.put("a", block.RootParentID, "A", 0)
	store.put("b", "a", "A", 1)

	_, err := operation.ExecuteBlock(context.Background(), store, "move_block", map[string]value.Value{
		"id": value.String("a"), "new_parent": value.String("b"),
	})
	assert.Error(t, err)
}

func TestExecuteTaskSetCompletion(t *testing.T) {
	store := newFakeBlockStore()
	store.put("t1", block.RootParentID, "A", 0)

	undo, err := operation.ExecuteTask(context.Background(), store, "set_completion", map[string]value.Value{
		"id": value.String("t1"), "done": value.Boolean(true),
	})
	require.NoError(t, err)
	assert.Equal(t, operation.Undoable, undo.Kind)

	row, _ := store.GetByID(context.Background(), "t1")
	assert.True(t, row["done"].MustBoolean())
}

func TestCRUDDescriptorsIncludeSetField(t *testing.T) {
	s := schema.Schema{Name: "blocks", PrimaryKey: "id", Fields: []schema.Field{{Name: "id", Type: schema.FieldText}}}
	descs := operation.CRUDDescriptors(s)
	var setField operation.Descriptor
	for _, d := range descs {
		if d.Name == "set_field" {
			setField = d
		}
	}
	require.Equal(t, "set_field", setField.Name)
}
