package query

import (
	"fmt"
	"strings"

	"github.com/nightscape/holon/schema"
)

// ColumnLineage records which source table/column a SELECTed output
// column was projected from. QueryAndWatch does not consult it; it
// filters CDC batches on Compiled.From.
type ColumnLineage struct {
	Table  string
	Column string
}

// Compiled is a pipeline compiled to SQL, ready for storage.Backend.Query.
type Compiled struct {
	SQL      string
	Args     []any
	From     string
	Lineage  map[string]ColumnLineage
	Selected []string // output column order
}

// Compile turns a parsed pipeline into parameterized SQL. tableColumns
// resolves a table name to its declared column list so bare `select()`
// with no columns can expand to `*` with full lineage.
func Compile(steps []Step, tableColumns func(table string) ([]string, error)) (Compiled, error) {
	var from FromStep
	var where *WhereStep
	var sel *SelectStep
	var order *OrderByStep
	var limit *LimitStep
	haveFrom := false

	for _, s := range steps {
		switch v := s.(type) {
		case FromStep:
			if haveFrom {
				return Compiled{}, fmt.Errorf("query: multiple from() steps")
			}
			from = v
			haveFrom = true
		case WhereStep:
			w := v
			where = &w
		case SelectStep:
			v2 := v
			sel = &v2
		case OrderByStep:
			o := v
			order = &o
		case LimitStep:
			l := v
			limit = &l
		default:
			return Compiled{}, fmt.Errorf("query: unknown step type %T", s)
		}
	}
	if !haveFrom {
		return Compiled{}, fmt.Errorf("query: pipeline must start with from()")
	}

	cols, err := tableColumns(from.Table)
	if err != nil {
		return Compiled{}, fmt.Errorf("query: %w", err)
	}
	colSet := make(map[string]bool, len(cols))
	for _, c := range cols {
		colSet[c] = true
	}

	var selectCols []SelectColumn
	if sel == nil || len(sel.Columns) == 0 {
		for _, c := range cols {
			selectCols = append(selectCols, SelectColumn{Alias: c, Expr: ColumnRef{Name: c}})
		}
	} else {
		selectCols = sel.Columns
	}

	var args []any
	var exprSQL []string
	lineage := make(map[string]ColumnLineage, len(selectCols))
	var selected []string
	for _, c := range selectCols {
		sqlExpr, err := exprToSQL(c.Expr, colSet, &args)
		if err != nil {
			return Compiled{}, err
		}
		exprSQL = append(exprSQL, fmt.Sprintf("%s AS %s", sqlExpr, c.Alias))
		selected = append(selected, c.Alias)
		if ref, ok := c.Expr.(ColumnRef); ok && colSet[ref.Name] {
			lineage[c.Alias] = ColumnLineage{Table: from.Table, Column: ref.Name}
		}
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(strings.Join(exprSQL, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(from.Table)

	if where != nil {
		cond, err := exprToSQL(where.Cond, colSet, &args)
		if err != nil {
			return Compiled{}, err
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(cond)
	}
	if order != nil {
		if !colSet[order.Column] {
			return Compiled{}, fmt.Errorf("query: unknown orderBy column %q", order.Column)
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(order.Column)
		if order.Desc {
			sb.WriteString(" DESC")
		}
	}
	if limit != nil {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", limit.N))
	}

	return Compiled{
		SQL:      sb.String(),
		Args:     args,
		From:     from.Table,
		Lineage:  lineage,
		Selected: selected,
	}, nil
}

func exprToSQL(e Expr, colSet map[string]bool, args *[]any) (string, error) {
	switch v := e.(type) {
	case ColumnRef:
		name := v.Name
		if v.ThisScoped {
			name = v.Name
		}
		if !colSet[name] {
			return "", fmt.Errorf("query: unknown column %q", name)
		}
		return name, nil
	case Literal:
		*args = append(*args, literalArg(v))
		return "?", nil
	case BinaryOp:
		left, err := exprToSQL(v.Left, colSet, args)
		if err != nil {
			return "", err
		}
		right, err := exprToSQL(v.Right, colSet, args)
		if err != nil {
			return "", err
		}
		op, err := sqlOp(v.Op)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s %s %s)", left, op, right), nil
	case Call:
		return "", fmt.Errorf("query: function call %q is not valid in a pipeline expression", v.Name)
	default:
		return "", fmt.Errorf("query: unsupported expression %T", e)
	}
}

func sqlOp(op string) (string, error) {
	switch op {
	case "==":
		return "=", nil
	case "!=":
		return "<>", nil
	case "<", "<=", ">", ">=":
		return op, nil
	case "&&":
		return "AND", nil
	case "||":
		return "OR", nil
	default:
		return "", fmt.Errorf("query: unsupported operator %q", op)
	}
}

func literalArg(l Literal) any {
	switch {
	case l.Value.IsNull():
		return nil
	default:
		if s, err := l.Value.AsString(); err == nil {
			return s
		}
		if i, err := l.Value.AsInteger(); err == nil {
			return i
		}
		if f, err := l.Value.AsFloat(); err == nil {
			return f
		}
		if b, err := l.Value.AsBoolean(); err == nil {
			return b
		}
		return nil
	}
}

// SchemaTableColumns adapts a schema.Schema lookup to Compile's
// tableColumns function parameter.
func SchemaTableColumns(schemas map[string]schema.Schema) func(table string) ([]string, error) {
	return func(table string) ([]string, error) {
		s, ok := schemas[table]
		if !ok {
			return nil, fmt.Errorf("unknown table %q", table)
		}
		return s.FieldNames(), nil
	}
}
