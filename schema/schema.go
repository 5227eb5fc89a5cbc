// Package schema declares entity schemas — the name, primary key, and
// typed/indexed field list every stored entity is generated from — and
// turns them into idempotent table/index DDL for the storage backend.
//
// Grounded on the constructor-plus-config shape of
// storage.NewCouchDBClient (teacher storage/database.go), adapted to emit
// SQL DDL strings instead of opening a document-database connection.
package schema

import (
	"fmt"
	"strings"

	"github.com/nightscape/holon/value"
)

// FieldType is the storage-level type a column is declared with. It is
// deliberately coarser than value.Kind: several Value kinds map onto the
// same SQL column type (DateTime/JSON/Reference all ride on TEXT).
type FieldType int

const (
	FieldText FieldType = iota
	FieldInteger
	FieldFloat
	FieldBoolean
)

func (t FieldType) sqlType() string {
	switch t {
	case FieldInteger:
		return "INTEGER"
	case FieldFloat:
		return "REAL"
	case FieldBoolean:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

// Field describes one column of an entity's row.
type Field struct {
	Name    string
	Type    FieldType
	Indexed bool
	NotNull bool
}

// Schema describes one entity's storage shape.
type Schema struct {
	Name       string // table name, also the entity_name used by the dispatcher
	PrimaryKey string // column name of the primary key, must also appear in Fields
	Fields     []Field
}

// Field looks up a field by name.
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// FieldNames returns every declared field name in declaration order.
func (s Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// CreateTableSQL renders an idempotent CREATE TABLE statement.
func (s Schema) CreateTableSQL() string {
	var cols []string
	for _, f := range s.Fields {
		col := fmt.Sprintf("%s %s", f.Name, f.Type.sqlType())
		if f.Name == s.PrimaryKey {
			col += " PRIMARY KEY"
		} else if f.NotNull {
			col += " NOT NULL"
		}
		cols = append(cols, col)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", s.Name, strings.Join(cols, ", "))
}

// CreateIndexSQL renders one idempotent CREATE INDEX statement per field
// marked Indexed.
func (s Schema) CreateIndexSQL() []string {
	var stmts []string
	for _, f := range s.Fields {
		if !f.Indexed || f.Name == s.PrimaryKey {
			continue
		}
		idxName := fmt.Sprintf("idx_%s_%s", s.Name, f.Name)
		stmts = append(stmts, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS %s ON %s (%s)", idxName, s.Name, f.Name))
	}
	return stmts
}

// Row is a mapping field_name -> Value. Insertion order is irrelevant;
// keys are unique (spec.md §3.2).
type Row map[string]value.Value

// Clone returns a shallow copy safe to mutate independently.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
