package dispatcher

import (
	"context"

	"github.com/nightscape/holon/holonlog"
	"github.com/nightscape/holon/operation"
)

// OperationLogObserver is the dispatcher's structured-logging sink
// (spec.md §4.8: "an OperationLogObserver subscribes to the dispatcher
// with filter \"*\" and calls log on every successful operation").
//
// The persisted undo/redo log (undo.Log.Append) is not driven through
// this mechanism: it needs the operation's full params to serialize a
// replayable Call and must hand its caller back the new row's id,
// neither of which Observe's fire-and-forget, entity/op-only signature
// carries. Engine.ExecuteOperation calls undo.Log.Append directly for
// that reason; this observer is the audit-trail counterpart spec.md's
// general observer mechanism exists for.
type OperationLogObserver struct{}

// NewOperationLogObserver builds an OperationLogObserver.
func NewOperationLogObserver() *OperationLogObserver { return &OperationLogObserver{} }

// Filter satisfies Observer: every entity.
func (*OperationLogObserver) Filter() string { return "*" }

// Observe logs one successful dispatch. Never returns an error — per
// spec.md §4.7, observer failures must not affect the mutating path.
func (*OperationLogObserver) Observe(ctx context.Context, entity, op string, undo operation.UndoAction) {
	holonlog.For("dispatcher.observer").
		WithField("entity", entity).
		WithField("op", op).
		WithField("undoable", undo.Kind == operation.Undoable).
		Info("operation executed")
}
