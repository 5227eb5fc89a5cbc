// Package undo implements the persisted undo/redo log (spec.md §4.8,
// §6.1, C11): table `operations(id, operation, inverse?, status,
// created_at, display_name, entity_name, op_name)`. Logging an
// operation invalidates any pending redo history; trimming keeps the
// table bounded.
//
// Grounded on the teacher's statemanager.Manager: an ID-keyed map with
// a configurable max size, oldest-first eviction, and copy-out readers
// — reworked from an in-memory run tracker into a storage.Backend-
// persisted append log with explicit status transitions instead of a
// single running/completed/failed state.
package undo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/nightscape/holon/change"
	"github.com/nightscape/holon/operation"
	"github.com/nightscape/holon/schema"
	"github.com/nightscape/holon/storage"
	"github.com/nightscape/holon/value"
)

// Status is the lifecycle state of one undo-log entry (spec.md §3.7).
type Status string

const (
	PendingSync Status = "pending_sync"
	Synced      Status = "synced"
	Undone      Status = "undone"
	Cancelled   Status = "cancelled"
)

// TableName is the reserved entity name for the persisted log.
const TableName = "operations"

// Schema returns the operations table definition for Backend.Migrate.
// id is an integer column so storage's ORDER BY sorts it numerically,
// matching the strictly-monotonic commit-order guarantee (spec.md §5).
func Schema() schema.Schema {
	return schema.Schema{
		Name:       TableName,
		PrimaryKey: "id",
		Fields: []schema.Field{
			{Name: "id", Type: schema.FieldInteger},
			{Name: "operation", Type: schema.FieldText, NotNull: true},
			{Name: "inverse", Type: schema.FieldText},
			{Name: "status", Type: schema.FieldText, Indexed: true, NotNull: true},
			{Name: "created_at", Type: schema.FieldInteger, Indexed: true, NotNull: true},
			{Name: "display_name", Type: schema.FieldText},
			{Name: "entity_name", Type: schema.FieldText, Indexed: true},
			{Name: "op_name", Type: schema.FieldText},
		},
	}
}

// Entry is one row of the undo log, decoded for reading.
type Entry struct {
	ID          int64
	Operation   operation.Call
	Inverse     *operation.Call
	Status      Status
	CreatedAt   int64
	DisplayName string
	EntityName  string
	OpName      string
}

// Log is the persisted undo/redo log.
type Log struct {
	backend    *storage.Backend
	maxLogSize int
	nextID     atomic.Int64
}

// New wraps backend with a trim threshold. Callers must have migrated
// Schema() into backend already. The id counter is seeded from the
// highest id already persisted, so ids stay strictly monotonic across
// process restarts.
func New(ctx context.Context, backend *storage.Backend, maxLogSize int) (*Log, error) {
	if maxLogSize <= 0 {
		maxLogSize = 10000
	}
	l := &Log{backend: backend, maxLogSize: maxLogSize}
	rows, err := backend.GetAll(ctx, TableName)
	if err != nil {
		return nil, err
	}
	var max int64
	for _, r := range rows {
		if id := r["id"].MustInteger(); id > max {
			max = id
		}
	}
	l.nextID.Store(max)
	return l, nil
}

// Append clears the redo stack (every Undone entry becomes Cancelled),
// appends op/undo with status PendingSync, then trims the oldest
// entries if the table now exceeds maxLogSize (spec.md §4.8).
func (l *Log) Append(ctx context.Context, op operation.Call, undo operation.UndoAction, now int64) (int64, error) {
	if err := l.clearRedoStack(ctx); err != nil {
		return 0, err
	}

	opJSON, err := json.Marshal(op)
	if err != nil {
		return 0, err
	}
	var invJSON []byte
	if undo.Kind == operation.Undoable && undo.Inverse != nil {
		invJSON, err = json.Marshal(undo.Inverse)
		if err != nil {
			return 0, err
		}
	}

	id := l.nextID.Add(1)
	row := schema.Row{
		"id":           value.Integer(id),
		"operation":    value.String(string(opJSON)),
		"inverse":      value.String(string(invJSON)),
		"status":       value.String(string(PendingSync)),
		"created_at":   value.Integer(now),
		"display_name": value.String(op.Name),
		"entity_name":  value.String(undo.EntityName),
		"op_name":      value.String(op.Name),
	}
	if err := l.backend.ApplyBatch(ctx, []storage.Mutation{
		{Table: TableName, Kind: change.Created, Row: row, ID: idString(id)},
	}); err != nil {
		return 0, err
	}

	if err := l.trim(ctx); err != nil {
		return 0, err
	}
	return id, nil
}

// idString is the string form of a monotonic id used wherever storage's
// string-keyed Mutation.ID/GetByID is called.
func idString(id int64) string {
	return fmt.Sprintf("%d", id)
}

func (l *Log) clearRedoStack(ctx context.Context) error {
	rows, err := l.backend.GetAll(ctx, TableName)
	if err != nil {
		return err
	}
	var muts []storage.Mutation
	for _, r := range rows {
		if r["status"].MustString() != string(Undone) {
			continue
		}
		r["status"] = value.String(string(Cancelled))
		muts = append(muts, storage.Mutation{Table: TableName, Kind: change.Updated, Row: r, ID: idString(r["id"].MustInteger())})
	}
	if len(muts) == 0 {
		return nil
	}
	return l.backend.ApplyBatch(ctx, muts)
}

func (l *Log) trim(ctx context.Context) error {
	rows, err := l.backend.GetAll(ctx, TableName)
	if err != nil {
		return err
	}
	if len(rows) <= l.maxLogSize {
		return nil
	}
	excess := len(rows) - l.maxLogSize
	var muts []storage.Mutation
	for i := 0; i < excess; i++ {
		muts = append(muts, storage.Mutation{Table: TableName, Kind: change.Deleted, ID: idString(rows[i]["id"].MustInteger())})
	}
	return l.backend.ApplyBatch(ctx, muts)
}

// MarkUndone flips a PendingSync/Synced entry to Undone.
func (l *Log) MarkUndone(ctx context.Context, id int64) error {
	return l.setStatus(ctx, id, Undone)
}

// MarkRedone flips an Undone entry back to PendingSync.
func (l *Log) MarkRedone(ctx context.Context, id int64) error {
	return l.setStatus(ctx, id, PendingSync)
}

func (l *Log) setStatus(ctx context.Context, id int64, status Status) error {
	key := idString(id)
	row, err := l.backend.GetByID(ctx, TableName, key)
	if err != nil {
		return err
	}
	row["status"] = value.String(string(status))
	return l.backend.ApplyBatch(ctx, []storage.Mutation{
		{Table: TableName, Kind: change.Updated, Row: row, ID: key},
	})
}

// UndoCandidates returns entries eligible for undo (PendingSync/Synced)
// in reverse-id (most recent first) order.
func (l *Log) UndoCandidates(ctx context.Context) ([]Entry, error) {
	rows, err := l.backend.GetAll(ctx, TableName)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for i := len(rows) - 1; i >= 0; i-- {
		status := Status(rows[i]["status"].MustString())
		if status == PendingSync || status == Synced {
			out = append(out, decodeEntry(rows[i]))
		}
	}
	return out, nil
}

// RedoCandidates returns Undone entries in forward-id order.
func (l *Log) RedoCandidates(ctx context.Context) ([]Entry, error) {
	rows, err := l.backend.GetAll(ctx, TableName)
	if err != nil {
		return nil, err
	}
	var out []Entry
	for _, r := range rows {
		if Status(r["status"].MustString()) == Undone {
			out = append(out, decodeEntry(r))
		}
	}
	return out, nil
}

func decodeEntry(r schema.Row) Entry {
	e := Entry{
		ID:          r["id"].MustInteger(),
		Status:      Status(r["status"].MustString()),
		CreatedAt:   r["created_at"].MustInteger(),
		DisplayName: r["display_name"].MustString(),
		EntityName:  r["entity_name"].MustString(),
		OpName:      r["op_name"].MustString(),
	}
	_ = json.Unmarshal([]byte(r["operation"].MustString()), &e.Operation)
	if inv := r["inverse"].MustString(); inv != "" {
		var call operation.Call
		if json.Unmarshal([]byte(inv), &call) == nil {
			e.Inverse = &call
		}
	}
	return e
}
