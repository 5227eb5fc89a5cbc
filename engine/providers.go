package engine

import (
	"context"

	"github.com/nightscape/holon/operation"
	"github.com/nightscape/holon/value"
)

// crudProvider adapts a LocalStore to operation.Provider using only the
// CRUD mix-in (set_field/create/delete), for entities with no
// block/task shape.
type crudProvider struct{ store *LocalStore }

func NewCRUDProvider(store *LocalStore) operation.Provider { return &crudProvider{store: store} }

func (p *crudProvider) Operations() []operation.Descriptor {
	return operation.CRUDDescriptors(p.store.Schema())
}

func (p *crudProvider) Execute(ctx context.Context, entity, name string, params map[string]value.Value) (operation.UndoAction, error) {
	return operation.ExecuteCRUD(ctx, p.store, name, params)
}

// blockProvider adapts a LocalStore to operation.Provider using the CRUD
// and BlockEntity mix-ins together (spec.md §4.6).
type blockProvider struct{ store *LocalStore }

func NewBlockProvider(store *LocalStore) operation.Provider { return &blockProvider{store: store} }

func (p *blockProvider) Operations() []operation.Descriptor {
	sch := p.store.Schema()
	return append(operation.CRUDDescriptors(sch), operation.BlockDescriptors(sch)...)
}

func (p *blockProvider) Execute(ctx context.Context, entity, name string, params map[string]value.Value) (operation.UndoAction, error) {
	switch name {
	case "set_field", "create", "delete":
		return operation.ExecuteCRUD(ctx, p.store, name, params)
	default:
		return operation.ExecuteBlock(ctx, p.store, name, params)
	}
}

// taskProvider adapts a LocalStore to operation.Provider using the CRUD
// and TaskEntity mix-ins together (spec.md §4.6).
type taskProvider struct{ store *LocalStore }

func NewTaskProvider(store *LocalStore) operation.Provider { return &taskProvider{store: store} }

func (p *taskProvider) Operations() []operation.Descriptor {
	sch := p.store.Schema()
	return append(operation.CRUDDescriptors(sch), operation.TaskDescriptors(sch)...)
}

func (p *taskProvider) Execute(ctx context.Context, entity, name string, params map[string]value.Value) (operation.UndoAction, error) {
	switch name {
	case "set_field", "create", "delete":
		return operation.ExecuteCRUD(ctx, p.store, name, params)
	default:
		return operation.ExecuteTask(ctx, p.store, name, params)
	}
}
