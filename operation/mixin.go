package operation

import (
	"context"

	"github.com/nightscape/holon/block"
	"github.com/nightscape/holon/holonerr"
	"github.com/nightscape/holon/schema"
	"github.com/nightscape/holon/value"
)

// CRUDStore is the minimal capability a data source needs for the CRUD
// mix-in to generate working operations: set_field, create, delete
// (spec.md §4.6).
type CRUDStore interface {
	Schema() schema.Schema
	GetByID(ctx context.Context, id string) (schema.Row, error)
	SetField(ctx context.Context, id, field string, v value.Value) error
	Create(ctx context.Context, fields map[string]value.Value) (string, error)
	Delete(ctx context.Context, id string) error
}

// CRUDDescriptors returns the set_field/create/delete descriptors for a
// CRUDStore's schema.
func CRUDDescriptors(s schema.Schema) []Descriptor {
	return []Descriptor{
		{
			EntityName: s.Name, IDColumn: s.PrimaryKey, Name: "set_field",
			DisplayName: "Set field", AffectedFields: s.FieldNames(),
			RequiredParams: []RequiredParam{
				{Name: "id", TypeHint: ParamEntityID, EntityName: s.Name},
				{Name: "field", TypeHint: ParamString},
				{Name: "value", TypeHint: ParamString},
			},
		},
		{
			EntityName: s.Name, IDColumn: s.PrimaryKey, Name: "create",
			DisplayName: "Create", AffectedFields: s.FieldNames(),
		},
		{
			EntityName: s.Name, IDColumn: s.PrimaryKey, Name: "delete",
			DisplayName: "Delete",
			RequiredParams: []RequiredParam{
				{Name: "id", TypeHint: ParamEntityID, EntityName: s.Name},
			},
		},
	}
}

// ExecuteCRUD dispatches one of the three CRUD operation names against
// store. Callers embed this in their Provider.Execute implementation.
func ExecuteCRUD(ctx context.Context, store CRUDStore, name string, params map[string]value.Value) (UndoAction, error) {
	switch name {
	case "set_field":
		id := params["id"].MustString()
		field := params["field"].MustString()
		newVal := params["value"]

		before, err := store.GetByID(ctx, id)
		if err != nil {
			return UndoAction{}, err
		}
		oldVal := before[field]

		if err := store.SetField(ctx, id, field, newVal); err != nil {
			return UndoAction{}, err
		}
		return UndoAction{Kind: Undoable, Inverse: &Call{
			Entity: store.Schema().Name, Name: "set_field",
			Params: map[string]value.Value{"id": value.String(id), "field": value.String(field), "value": oldVal},
		}}, nil

	case "create":
		id, err := store.Create(ctx, params)
		if err != nil {
			return UndoAction{}, err
		}
		return UndoAction{Kind: Undoable, Inverse: &Call{
			Entity: store.Schema().Name, Name: "delete",
			Params: map[string]value.Value{"id": value.String(id)},
		}}, nil

	case "delete":
		id := params["id"].MustString()
		if err := store.Delete(ctx, id); err != nil {
			return UndoAction{}, err
		}
		// Re-creating with the same id is provider-specific (tombstone
		// restore vs. fresh insert), so plain CRUD delete is irreversible;
		// BlockStore-backed entities use tombstones instead of hard delete.
		return UndoAction{Kind: Irreversible}, nil

	default:
		return UndoAction{}, holonerr.New(holonerr.KindValidation, holonerr.ErrUnknownOperation).WithEntity(store.Schema().Name, name)
	}
}

// BlockStore is the capability a block-shaped entity (parent_id,
// sort_key, depth) needs for the BlockEntity mix-in.
type BlockStore interface {
	CRUDStore
	Tree(ctx context.Context) (*block.Tree, error)
}

// BlockDescriptors returns the move/indent/outdent/split descriptors
// (spec.md §4.6).
func BlockDescriptors(s schema.Schema) []Descriptor {
	entity := s.Name
	idParam := RequiredParam{Name: "id", TypeHint: ParamEntityID, EntityName: entity}
	return []Descriptor{
		{EntityName: entity, Name: "move_block", DisplayName: "Move block",
			RequiredParams: []RequiredParam{idParam, {Name: "new_parent", TypeHint: ParamEntityID, EntityName: entity}},
			AffectedFields: []string{"parent_id", "sort_key", "depth"}},
		{EntityName: entity, Name: "indent", DisplayName: "Indent",
			RequiredParams: []RequiredParam{idParam, {Name: "new_parent", TypeHint: ParamEntityID, EntityName: entity}},
			AffectedFields: []string{"parent_id", "sort_key", "depth"}},
		{EntityName: entity, Name: "outdent", DisplayName: "Outdent",
			RequiredParams: []RequiredParam{idParam}, AffectedFields: []string{"parent_id", "sort_key", "depth"}},
		{EntityName: entity, Name: "move_up", DisplayName: "Move up",
			RequiredParams: []RequiredParam{idParam}, AffectedFields: []string{"sort_key"}},
		{EntityName: entity, Name: "move_down", DisplayName: "Move down",
			RequiredParams: []RequiredParam{idParam}, AffectedFields: []string{"sort_key"}},
		{EntityName: entity, Name: "split_block", DisplayName: "Split block",
			RequiredParams: []RequiredParam{idParam, {Name: "offset", TypeHint: ParamNumber}},
			AffectedFields: []string{"content"}},
	}
}

// ExecuteBlock implements the block mix-in's default semantics purely
// in terms of CRUDStore.SetField/Create plus the in-memory block.Tree
// (spec.md §4.6: "expressed in terms of set_field plus reads, so any
// data source that implements CRUD gets these for free").
func ExecuteBlock(ctx context.Context, store BlockStore, name string, params map[string]value.Value) (UndoAction, error) {
	tree, err := store.Tree(ctx)
	if err != nil {
		return UndoAction{}, err
	}
	entity := store.Schema().Name

	switch name {
	case "move_block":
		id := params["id"].MustString()
		newParent := params["new_parent"].MustString()
		var after string
		if v, ok := params["after"]; ok && !v.IsNull() {
			after = v.MustString()
		}
		return moveBlockTo(ctx, store, tree, entity, id, newParent, after)

	case "indent":
		id := params["id"].MustString()
		cur, ok := tree.Get(id)
		if !ok {
			return UndoAction{}, holonerr.New(holonerr.KindNotFound, holonerr.ErrBlockNotFound).WithEntity(entity, "indent")
		}
		siblings := tree.Children(cur.ParentID)
		pos := indexOf(siblings, id)
		if pos <= 0 {
			return UndoAction{}, holonerr.New(holonerr.KindInvariant, holonerr.ErrOutdentAtRoot).WithEntity(entity, "indent")
		}
		prevSibling := siblings[pos-1]
		// Indenting places the block after prevSibling's existing
		// children, not before them (spec.md §4.6).
		after := ""
		if nieces := tree.Children(prevSibling); len(nieces) > 0 {
			after = nieces[len(nieces)-1]
		}
		return moveBlockTo(ctx, store, tree, entity, id, prevSibling, after)

	case "outdent":
		id := params["id"].MustString()
		cur, ok := tree.Get(id)
		if !ok || cur.ParentID == block.RootParentID || cur.ParentID == block.NoParentID {
			return UndoAction{}, holonerr.New(holonerr.KindInvariant, holonerr.ErrOutdentAtRoot).WithEntity(entity, "outdent")
		}
		grandparent, ok := tree.Get(cur.ParentID)
		newParent := block.RootParentID
		if ok {
			newParent = grandparent.ParentID
		}
		return moveBlockTo(ctx, store, tree, entity, id, newParent, cur.ParentID)

	case "move_up", "move_down":
		id := params["id"].MustString()
		cur, ok := tree.Get(id)
		if !ok {
			return UndoAction{}, holonerr.New(holonerr.KindNotFound, holonerr.ErrBlockNotFound).WithEntity(entity, name)
		}
		return swapWithNeighbor(ctx, store, tree, entity, cur.ParentID, id, name == "move_up")

	case "split_block":
		id := params["id"].MustString()
		offset := int(params["offset"].MustInteger())
		cur, ok := tree.Get(id)
		if !ok {
			return UndoAction{}, holonerr.New(holonerr.KindNotFound, holonerr.ErrBlockNotFound).WithEntity(entity, name)
		}
		head, tail := block.SplitContent(cur.Content, offset)
		if err := store.SetField(ctx, id, "content", value.String(head)); err != nil {
			return UndoAction{}, err
		}
		newKey, err := tree.NewSortKey(cur.ParentID, id)
		if err != nil {
			return UndoAction{}, err
		}
		if _, err := store.Create(ctx, map[string]value.Value{
			"parent_id": value.String(cur.ParentID),
			"sort_key":  value.String(newKey),
			"depth":     value.Integer(int64(cur.Depth)),
			"content":   value.String(tail),
		}); err != nil {
			return UndoAction{}, err
		}
		return UndoAction{Kind: Irreversible}, nil

	default:
		return UndoAction{}, holonerr.New(holonerr.KindValidation, holonerr.ErrUnknownOperation).WithEntity(entity, name)
	}
}

func indexOf(ss []string, v string) int {
	for i, s := range ss {
		if s == v {
			return i
		}
	}
	return -1
}

func moveBlockTo(ctx context.Context, store BlockStore, tree *block.Tree, entity, id, newParent, after string) (UndoAction, error) {
	if err := tree.ValidateMove(id, newParent); err != nil {
		return UndoAction{}, err
	}
	cur, ok := tree.Get(id)
	if !ok {
		return UndoAction{}, holonerr.New(holonerr.KindNotFound, holonerr.ErrBlockNotFound).WithEntity(entity, "move_block")
	}
	newKey, err := tree.NewSortKey(newParent, after)
	if err != nil {
		return UndoAction{}, err
	}
	newDepth := tree.DepthOf(newParent)

	if err := store.SetField(ctx, id, "parent_id", value.String(newParent)); err != nil {
		return UndoAction{}, err
	}
	if err := store.SetField(ctx, id, "sort_key", value.String(newKey)); err != nil {
		return UndoAction{}, err
	}
	if err := store.SetField(ctx, id, "depth", value.Integer(int64(newDepth))); err != nil {
		return UndoAction{}, err
	}

	return UndoAction{Kind: Undoable, Inverse: &Call{
		Entity: entity, Name: "move_block",
		Params: map[string]value.Value{
			"id": value.String(id), "new_parent": value.String(cur.ParentID),
		},
	}}, nil
}

func swapWithNeighbor(ctx context.Context, store BlockStore, tree *block.Tree, entity, parentID, id string, up bool) (UndoAction, error) {
	siblings := tree.Children(parentID)
	i := indexOf(siblings, id)
	if i < 0 {
		return UndoAction{}, holonerr.New(holonerr.KindNotFound, holonerr.ErrBlockNotFound).WithEntity(entity, "move_up")
	}
	var neighbor string
	if up && i > 0 {
		neighbor = siblings[i-1]
	} else if !up && i+1 < len(siblings) {
		neighbor = siblings[i+1]
	} else {
		return UndoAction{}, holonerr.New(holonerr.KindInvariant, holonerr.ErrOutdentAtRoot).WithEntity(entity, "move_up")
	}

	idBlock, _ := tree.Get(id)
	neighborBlock, _ := tree.Get(neighbor)

	if err := store.SetField(ctx, id, "sort_key", value.String(neighborBlock.SortKey)); err != nil {
		return UndoAction{}, err
	}
	if err := store.SetField(ctx, neighbor, "sort_key", value.String(idBlock.SortKey)); err != nil {
		return UndoAction{}, err
	}

	inverseName := "move_up"
	if up {
		inverseName = "move_down"
	}
	return UndoAction{Kind: Undoable, Inverse: &Call{
		Entity: entity, Name: inverseName,
		Params: map[string]value.Value{"id": value.String(id)},
	}}, nil
}

// TaskStore is the capability a task-shaped entity needs for the
// TaskEntity mix-in.
type TaskStore interface {
	CRUDStore
}

// TaskDescriptors returns set_completion/set_priority/set_due_date
// descriptors (spec.md §4.6).
func TaskDescriptors(s schema.Schema) []Descriptor {
	entity := s.Name
	idParam := RequiredParam{Name: "id", TypeHint: ParamEntityID, EntityName: entity}
	return []Descriptor{
		{EntityName: entity, Name: "set_completion", DisplayName: "Set completion",
			RequiredParams: []RequiredParam{idParam, {Name: "done", TypeHint: ParamBool}},
			AffectedFields: []string{"done"}},
		{EntityName: entity, Name: "set_priority", DisplayName: "Set priority",
			RequiredParams: []RequiredParam{idParam, {Name: "priority", TypeHint: ParamNumber}},
			AffectedFields: []string{"priority"}},
		{EntityName: entity, Name: "set_due_date", DisplayName: "Set due date",
			RequiredParams: []RequiredParam{idParam, {Name: "due_date", TypeHint: ParamString}},
			AffectedFields: []string{"due_date"}},
	}
}

// ExecuteTask implements the task mix-in purely via set_field, the same
// pattern ExecuteBlock follows.
func ExecuteTask(ctx context.Context, store TaskStore, name string, params map[string]value.Value) (UndoAction, error) {
	fieldByOp := map[string]string{
		"set_completion": "done",
		"set_priority":   "priority",
		"set_due_date":   "due_date",
	}
	field, ok := fieldByOp[name]
	if !ok {
		return UndoAction{}, holonerr.New(holonerr.KindValidation, holonerr.ErrUnknownOperation).WithEntity(store.Schema().Name, name)
	}
	id := params["id"].MustString()
	return ExecuteCRUD(ctx, store, "set_field", map[string]value.Value{
		"id": value.String(id), "field": value.String(field), "value": params[field],
	})
}
