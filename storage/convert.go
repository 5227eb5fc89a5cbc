package storage

import (
	"database/sql"
	"strings"

	"github.com/nightscape/holon/schema"
	"github.com/nightscape/holon/value"
)

func columnList(s schema.Schema) string {
	return joinNames(s.FieldNames())
}

func joinNames(names []string) string   { return joinCommaSep(names) }
func joinCommaSep(parts []string) string { return strings.Join(parts, ", ") }
func joinPlaceholders(p []string) string { return strings.Join(p, ", ") }

// rowScanner abstracts *sql.Row and *sql.Rows, whose Scan method has the
// same signature but no shared interface in database/sql.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(s schema.Schema, row *sql.Row) (schema.Row, error) {
	return scan(s, row)
}

func scanRows(s schema.Schema, rows *sql.Rows) (schema.Row, error) {
	return scan(s, rows)
}

func scan(s schema.Schema, rs rowScanner) (schema.Row, error) {
	names := s.FieldNames()
	dest := make([]any, len(names))
	ptrs := make([]any, len(names))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	if err := rs.Scan(ptrs...); err != nil {
		return nil, err
	}

	out := make(schema.Row, len(names))
	for i, n := range names {
		f, _ := s.Field(n)
		out[n] = toTypedValue(f.Type, dest[i])
	}
	return out, nil
}

// fromValue converts a value.Value into a type database/sql can bind as
// a query parameter.
func fromValue(v value.Value) any {
	switch v.Kind() {
	case value.KindNull:
		return nil
	case value.KindBoolean:
		if v.MustBoolean() {
			return int64(1)
		}
		return int64(0)
	case value.KindInteger:
		return v.MustInteger()
	case value.KindFloat:
		return v.MustFloat()
	default:
		return v.MustString()
	}
}

// toValue converts a database/sql-scanned column (of unknown declared
// type, as returned by Query's ad-hoc projections) into a value.Value.
func toValue(raw any) value.Value {
	switch x := raw.(type) {
	case nil:
		return value.Null()
	case int64:
		return value.Integer(x)
	case float64:
		return value.Float(x)
	case bool:
		return value.Boolean(x)
	case []byte:
		return value.String(string(x))
	case string:
		return value.String(x)
	default:
		return value.String("")
	}
}

// toTypedValue converts a scanned column back into the Value kind its
// schema.Field declares, so callers always see the same Kind they wrote
// (e.g. FieldBoolean round-trips as value.Boolean, not value.Integer).
func toTypedValue(t schema.FieldType, raw any) value.Value {
	if raw == nil {
		return value.Null()
	}
	switch t {
	case schema.FieldBoolean:
		switch x := raw.(type) {
		case int64:
			return value.Boolean(x != 0)
		case bool:
			return value.Boolean(x)
		}
		return value.Boolean(false)
	case schema.FieldInteger:
		if x, ok := raw.(int64); ok {
			return value.Integer(x)
		}
		return value.Integer(0)
	case schema.FieldFloat:
		if x, ok := raw.(float64); ok {
			return value.Float(x)
		}
		return value.Float(0)
	default:
		return toValue(raw)
	}
}
