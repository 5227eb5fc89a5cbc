package query

import (
	"fmt"

	"github.com/nightscape/holon/operation"
	"github.com/nightscape/holon/value"
)

// Node is one element of a compiled render tree (spec.md §4.9 step 3):
// a widget invocation, a column reference annotated with the
// operations available on it, a literal, or a structural container.
type Node interface{ isNode() }

// FunctionCall is a widget constructor, e.g. checkbox(this.done).
type FunctionCall struct {
	Name string
	Args []NamedNode
}

// NamedNode pairs an optional argument name with its rendered Node.
type NamedNode struct {
	Name string
	Node Node
}

// ColumnRefNode is a `this.<col>` reference annotated with the
// operations the dispatcher can run against that column under the
// current row's id (spec.md §4.9's "annotate each column reference
// under the implicit row scope").
type ColumnRefNode struct {
	Name       string
	Operations []operation.Descriptor
}

type LiteralNode struct{ Value value.Value }

type BinaryOpNode struct {
	Op          string
	Left, Right Node
}

func (FunctionCall) isNode()  {}
func (ColumnRefNode) isNode() {}
func (LiteralNode) isNode()   {}
func (BinaryOpNode) isNode()  {}

// FindOperationsFunc mirrors dispatcher.Dispatcher.FindOperations,
// narrowed to the signature render-tree building needs.
type FindOperationsFunc func(entity string, availableArgs map[string]value.Value) []operation.Descriptor

// BuildRenderSpec walks a render expression and resolves every
// `this.<col>` reference to the operations it supports, by asking
// findOperations what is dispatchable given {id, <col>} as available
// arguments — the same satisfiability check the dispatcher itself runs
// (spec.md §4.7).
func BuildRenderSpec(expr Expr, entity string, lineage map[string]ColumnLineage, findOps FindOperationsFunc) (Node, error) {
	switch v := expr.(type) {
	case Literal:
		return LiteralNode{Value: v.Value}, nil
	case ColumnRef:
		if !v.ThisScoped {
			return nil, fmt.Errorf("query: render expressions may only reference this.<col>, got %q", v.Name)
		}
		available := map[string]value.Value{"id": value.String(""), v.Name: value.String("")}
		ops := findOps(entity, available)
		return ColumnRefNode{Name: v.Name, Operations: ops}, nil
	case BinaryOp:
		left, err := BuildRenderSpec(v.Left, entity, lineage, findOps)
		if err != nil {
			return nil, err
		}
		right, err := BuildRenderSpec(v.Right, entity, lineage, findOps)
		if err != nil {
			return nil, err
		}
		return BinaryOpNode{Op: v.Op, Left: left, Right: right}, nil
	case Call:
		args := make([]NamedNode, 0, len(v.Args))
		for _, a := range v.Args {
			node, err := BuildRenderSpec(a.Value, entity, lineage, findOps)
			if err != nil {
				return nil, err
			}
			args = append(args, NamedNode{Name: a.Name, Node: node})
		}
		return FunctionCall{Name: v.Name, Args: args}, nil
	default:
		return nil, fmt.Errorf("query: unsupported render expression %T", expr)
	}
}
