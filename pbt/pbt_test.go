package pbt_test

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightscape/holon/block"
	"github.com/nightscape/holon/engine"
	"github.com/nightscape/holon/engineconfig"
	"github.com/nightscape/holon/operation"
	"github.com/nightscape/holon/pbt"
	"github.com/nightscape/holon/schema"
	"github.com/nightscape/holon/value"
)

func blocksSchema() schema.Schema {
	return schema.Schema{
		Name:       "blocks",
		PrimaryKey: "id",
		Fields: []schema.Field{
			{Name: "id", Type: schema.FieldText},
			{Name: "parent_id", Type: schema.FieldText, Indexed: true},
			{Name: "sort_key", Type: schema.FieldText},
			{Name: "depth", Type: schema.FieldInteger},
			{Name: "content", Type: schema.FieldText},
		},
	}
}

// TestRandomBlockOperationSequencesPreserveTreeInvariants drives a real
// engine.Engine and an independent pbt.Model through the same
// randomized sequence of block operations and checks, after every step,
// that the model has no dangling parent pointer and no block that is
// its own ancestor, and that every model block is present in the
// engine's block.Tree with the same parent and depth as in the model.
func TestRandomBlockOperationSequencesPreserveTreeInvariants(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	e, err := engine.Open(ctx, engineconfig.Config{StoragePath: ":memory:"},
		engine.WithSchemas(blocksSchema()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	store := engine.NewLocalStore(e.Backend(), blocksSchema())
	e.RegisterOperationProvider(engine.NewBlockProvider(store))

	rootID := "root-0"
	_, err = store.Create(ctx, map[string]value.Value{
		"id":        value.String(rootID),
		"parent_id": value.String(block.RootParentID),
		"sort_key":  value.String("a0"),
		"depth":     value.Integer(0),
		"content":   value.String("root"),
	})
	require.NoError(t, err)
	model := pbt.NewModel(rootID)

	const steps = 200
	for i := 0; i < steps; i++ {
		switch rng.Intn(5) {
		case 0: // create
			id := fmt.Sprintf("b%d", i)
			parent := model.RandomExistingID(rng)
			_, err := store.Create(ctx, map[string]value.Value{
				"id":        value.String(id),
				"parent_id": value.String(parent),
				"sort_key":  value.String(fmt.Sprintf("k%d", i)),
				"depth":     value.Integer(int64(model.DepthOf(parent) + 1)),
				"content":   value.String("x"),
			})
			require.NoError(t, err)
			model.Create(id, parent, fmt.Sprintf("k%d", i), "x", model.DepthOf(parent)+1)

		case 1: // move_block
			id := model.RandomExistingID(rng)
			newParent := model.RandomExistingID(rng)
			_, err := e.ExecuteOperation(ctx, operation.Call{
				Entity: "blocks", Name: "move_block",
				Params: map[string]value.Value{"id": value.String(id), "new_parent": value.String(newParent)},
			})
			if err == nil {
				model.SetParent(id, newParent)
			}

		case 2: // indent
			id := model.RandomExistingID(rng)
			_, err := e.ExecuteOperation(ctx, operation.Call{
				Entity: "blocks", Name: "indent",
				Params: map[string]value.Value{"id": value.String(id)},
			})
			if err == nil {
				tree, terr := store.Tree(ctx)
				require.NoError(t, terr)
				row, _ := tree.Get(id)
				model.SetParent(id, row.ParentID)
			}

		case 3: // outdent
			id := model.RandomExistingID(rng)
			_, err := e.ExecuteOperation(ctx, operation.Call{
				Entity: "blocks", Name: "outdent",
				Params: map[string]value.Value{"id": value.String(id)},
			})
			if err == nil {
				tree, terr := store.Tree(ctx)
				require.NoError(t, terr)
				row, _ := tree.Get(id)
				model.SetParent(id, row.ParentID)
			}

		case 4: // set_field content
			id := model.RandomExistingID(rng)
			content := fmt.Sprintf("content-%d", i)
			_, err := e.ExecuteOperation(ctx, operation.Call{
				Entity: "blocks", Name: "set_field",
				Params: map[string]value.Value{
					"id": value.String(id), "field": value.String("content"), "value": value.String(content),
				},
			})
			if err == nil {
				model.SetContent(id, content)
			}
		}

		require.NoError(t, model.CheckInvariants(), "step %d: model invariant violated", i)

		tree, err := store.Tree(ctx)
		require.NoError(t, err)
		for _, id := range model.IDs() {
			row, ok := tree.Get(id)
			require.Truef(t, ok, "step %d: block %q missing from engine tree", i, id)
			assert.Equalf(t, model.ParentOf(id), row.ParentID, "step %d: block %q parent diverged", i, id)
			assert.Equalf(t, model.DepthOf(id), row.Depth, "step %d: block %q depth diverged", i, id)
		}
	}
}
