// Package value implements the engine's dynamic tagged value type: the
// common currency every row, operation parameter, and query result is
// expressed in. Conversions are total where semantically defined and an
// explicit error otherwise — there is no silent zero-value fallback.
package value

import (
	"encoding/json"
	"fmt"
	"math"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindBoolean
	KindInteger
	KindFloat
	KindString
	KindDateTime
	KindJSON
	KindReference
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBoolean:
		return "boolean"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindDateTime:
		return "datetime"
	case KindJSON:
		return "json"
	case KindReference:
		return "reference"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a closed tagged union. Only the field matching Kind is
// meaningful; constructors below are the only supported way to build one.
type Value struct {
	kind Kind

	boolean  bool
	integer  int64
	float    float64
	str      string // String, DateTime (RFC3339 text), JSON (opaque text), Reference
	array    []Value
	object   map[string]Value
}

func Null() Value                    { return Value{kind: KindNull} }
func Boolean(b bool) Value           { return Value{kind: KindBoolean, boolean: b} }
func Integer(i int64) Value          { return Value{kind: KindInteger, integer: i} }
func Float(f float64) Value          { return Value{kind: KindFloat, float: f} }
func String(s string) Value          { return Value{kind: KindString, str: s} }
func DateTime(rfc3339 string) Value  { return Value{kind: KindDateTime, str: rfc3339} }
func JSON(raw string) Value          { return Value{kind: KindJSON, str: raw} }
func Reference(id string) Value      { return Value{kind: KindReference, str: id} }
func Array(items []Value) Value      { return Value{kind: KindArray, array: items} }
func Object(fields map[string]Value) Value {
	return Value{kind: KindObject, object: fields}
}

func (v Value) Kind() Kind { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBoolean returns the boolean payload, or a conversion error.
func (v Value) AsBoolean() (bool, error) {
	if v.kind == KindBoolean {
		return v.boolean, nil
	}
	return false, fmt.Errorf("cannot convert %s to boolean", v.kind)
}

// AsInteger widens Float when the conversion is exact in spirit (per
// spec.md §3.1 "Integer↔Float widening"); Float is truncated via int64().
func (v Value) AsInteger() (int64, error) {
	switch v.kind {
	case KindInteger:
		return v.integer, nil
	case KindFloat:
		return int64(v.float), nil
	default:
		return 0, fmt.Errorf("cannot convert %s to integer", v.kind)
	}
}

// AsFloat widens Integer to Float.
func (v Value) AsFloat() (float64, error) {
	switch v.kind {
	case KindFloat:
		return v.float, nil
	case KindInteger:
		return float64(v.integer), nil
	default:
		return 0, fmt.Errorf("cannot convert %s to float", v.kind)
	}
}

// AsString returns the textual payload for the string-shaped kinds
// (String, DateTime, JSON, Reference).
func (v Value) AsString() (string, error) {
	switch v.kind {
	case KindString, KindDateTime, KindJSON, KindReference:
		return v.str, nil
	default:
		return "", fmt.Errorf("cannot convert %s to string", v.kind)
	}
}

// MustString, MustInteger and MustBoolean are convenience wrappers for
// call sites reading a row field whose Kind is already guaranteed by a
// schema.Field — a mismatch there means storage corruption, not a
// normal conversion failure, so it panics instead of threading an error
// through call sites that cannot meaningfully recover from it.
func (v Value) MustString() string {
	s, err := v.AsString()
	if err != nil {
		panic(err)
	}
	return s
}

func (v Value) MustInteger() int64 {
	i, err := v.AsInteger()
	if err != nil {
		panic(err)
	}
	return i
}

func (v Value) MustBoolean() bool {
	b, err := v.AsBoolean()
	if err != nil {
		panic(err)
	}
	return b
}

func (v Value) MustFloat() float64 {
	f, err := v.AsFloat()
	if err != nil {
		panic(err)
	}
	return f
}

func (v Value) AsArray() ([]Value, error) {
	if v.kind == KindArray {
		return v.array, nil
	}
	return nil, fmt.Errorf("cannot convert %s to array", v.kind)
}

func (v Value) AsObject() (map[string]Value, error) {
	if v.kind == KindObject {
		return v.object, nil
	}
	return nil, fmt.Errorf("cannot convert %s to object", v.kind)
}

// Equal implements structural equality. Float equality follows IEEE-754:
// NaN is never equal to anything, including another NaN.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBoolean:
		return v.boolean == other.boolean
	case KindInteger:
		return v.integer == other.integer
	case KindFloat:
		return v.float == other.float // NaN != NaN falls out of ==
	case KindString, KindDateTime, KindJSON, KindReference:
		return v.str == other.str
	case KindArray:
		if len(v.array) != len(other.array) {
			return false
		}
		for i := range v.array {
			if !v.array[i].Equal(other.array[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.object) != len(other.object) {
			return false
		}
		for k, vv := range v.object {
			ov, ok := other.object[k]
			if !ok || !vv.Equal(ov) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// wireValue is the JSON-transport shape for a Value: a discriminant tag
// plus one populated payload field, mirroring semantic.SemanticResult's
// tagged-field JSON encoding in the teacher's semantic package.
type wireValue struct {
	Kind   string             `json:"kind"`
	Bool   *bool              `json:"bool,omitempty"`
	Int    *int64             `json:"int,omitempty"`
	Float  *float64           `json:"float,omitempty"`
	Str    *string            `json:"str,omitempty"`
	Array  []wireValue        `json:"array,omitempty"`
	Object map[string]wireValue `json:"object,omitempty"`
}

// MarshalJSON round-trips every Kind that the spec requires to survive
// JSON (String/Integer/Float/Boolean/Null/Array/Object); DateTime/JSON/
// Reference are encoded through the Str field since they are themselves
// textual at rest.
func (v Value) MarshalJSON() ([]byte, error) {
	w := wireValue{Kind: v.kind.String()}
	switch v.kind {
	case KindNull:
	case KindBoolean:
		w.Bool = &v.boolean
	case KindInteger:
		w.Int = &v.integer
	case KindFloat:
		if math.IsNaN(v.float) || math.IsInf(v.float, 0) {
			return nil, fmt.Errorf("value: cannot encode non-finite float %v as JSON", v.float)
		}
		w.Float = &v.float
	case KindString, KindDateTime, KindJSON, KindReference:
		w.Str = &v.str
	case KindArray:
		w.Array = make([]wireValue, len(v.array))
		for i, item := range v.array {
			b, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			var wv wireValue
			if err := json.Unmarshal(b, &wv); err != nil {
				return nil, err
			}
			w.Array[i] = wv
		}
	case KindObject:
		w.Object = make(map[string]wireValue, len(v.object))
		for k, item := range v.object {
			b, err := item.MarshalJSON()
			if err != nil {
				return nil, err
			}
			var wv wireValue
			if err := json.Unmarshal(b, &wv); err != nil {
				return nil, err
			}
			w.Object[k] = wv
		}
	}
	return json.Marshal(w)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	return v.fromWire(w)
}

func (v *Value) fromWire(w wireValue) error {
	switch w.Kind {
	case "null", "":
		*v = Null()
	case "boolean":
		if w.Bool == nil {
			return fmt.Errorf("value: missing bool payload")
		}
		*v = Boolean(*w.Bool)
	case "integer":
		if w.Int == nil {
			return fmt.Errorf("value: missing int payload")
		}
		*v = Integer(*w.Int)
	case "float":
		if w.Float == nil {
			return fmt.Errorf("value: missing float payload")
		}
		*v = Float(*w.Float)
	case "string":
		if w.Str == nil {
			return fmt.Errorf("value: missing str payload")
		}
		*v = String(*w.Str)
	case "datetime":
		if w.Str == nil {
			return fmt.Errorf("value: missing str payload")
		}
		*v = DateTime(*w.Str)
	case "json":
		if w.Str == nil {
			return fmt.Errorf("value: missing str payload")
		}
		*v = JSON(*w.Str)
	case "reference":
		if w.Str == nil {
			return fmt.Errorf("value: missing str payload")
		}
		*v = Reference(*w.Str)
	case "array":
		items := make([]Value, len(w.Array))
		for i, wv := range w.Array {
			if err := items[i].fromWire(wv); err != nil {
				return err
			}
		}
		*v = Array(items)
	case "object":
		fields := make(map[string]Value, len(w.Object))
		for k, wv := range w.Object {
			var fv Value
			if err := fv.fromWire(wv); err != nil {
				return err
			}
			fields[k] = fv
		}
		*v = Object(fields)
	default:
		return fmt.Errorf("value: unknown kind %q", w.Kind)
	}
	return nil
}
