package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/nightscape/holon/block"
	"github.com/nightscape/holon/change"
	"github.com/nightscape/holon/schema"
	"github.com/nightscape/holon/storage"
	"github.com/nightscape/holon/value"
)

// LocalStore adapts a storage.Backend table directly to
// operation.CRUDStore/BlockStore/TaskStore, for entities this engine
// owns outright rather than mirroring from a SyncableProvider. Grounded
// on cache.Cache[T]'s SetField/Create/Delete (read-merge-write through
// ApplyBatch so a partial field update never clobbers the rest of the
// row, since storage.Backend's Updated mutation writes every declared
// column) and on operation/mixin_test.go's fakeBlockStore for the
// uuid.NewString() id-generation convention.
type LocalStore struct {
	backend *storage.Backend
	schema  schema.Schema
}

// NewLocalStore wraps backend's sch table. Callers must have already
// migrated sch into backend.
func NewLocalStore(backend *storage.Backend, sch schema.Schema) *LocalStore {
	return &LocalStore{backend: backend, schema: sch}
}

func (s *LocalStore) Schema() schema.Schema { return s.schema }

func (s *LocalStore) GetAll(ctx context.Context) ([]schema.Row, error) {
	return s.backend.GetAll(ctx, s.schema.Name)
}

func (s *LocalStore) GetByID(ctx context.Context, id string) (schema.Row, error) {
	return s.backend.GetByID(ctx, s.schema.Name, id)
}

func (s *LocalStore) SetField(ctx context.Context, id, field string, v value.Value) error {
	row, err := s.backend.GetByID(ctx, s.schema.Name, id)
	if err != nil {
		return err
	}
	row[field] = v
	return s.backend.ApplyBatch(ctx, []storage.Mutation{
		{Table: s.schema.Name, Kind: change.Updated, Row: row, ID: id},
	})
}

// Create assigns a fresh uuid unless fields already supplies the
// primary key (orgmode-imported headlines and similar bring their own
// stable id).
func (s *LocalStore) Create(ctx context.Context, fields map[string]value.Value) (string, error) {
	id := uuid.NewString()
	if existing, ok := fields[s.schema.PrimaryKey]; ok {
		if str, err := existing.AsString(); err == nil && str != "" {
			id = str
		}
	}
	row := schema.Row{s.schema.PrimaryKey: value.String(id)}
	for k, v := range fields {
		row[k] = v
	}
	if err := s.backend.ApplyBatch(ctx, []storage.Mutation{
		{Table: s.schema.Name, Kind: change.Created, Row: row, ID: id},
	}); err != nil {
		return "", err
	}
	return id, nil
}

func (s *LocalStore) Delete(ctx context.Context, id string) error {
	return s.backend.ApplyBatch(ctx, []storage.Mutation{
		{Table: s.schema.Name, Kind: change.Deleted, ID: id},
	})
}

// Tree satisfies operation.BlockStore by loading every row into an
// in-memory block.Tree fresh for this call.
func (s *LocalStore) Tree(ctx context.Context) (*block.Tree, error) {
	rows, err := s.backend.GetAll(ctx, s.schema.Name)
	if err != nil {
		return nil, err
	}
	return block.Load(rows), nil
}
