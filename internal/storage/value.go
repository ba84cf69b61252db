// Shared row/value types live here so the engine backends, the self-healing
// controller and the chart shaper can all import them without circular deps.
package storage

import (
	"encoding/json"
	"math"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a scalar cell: Null | Bool | Number | String.
//
// Timestamps are carried as String (RFC3339Nano when produced by an engine).
// The zero Value is Null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
}

func Null() Value              { return Value{} }
func Bool(b bool) Value        { return Value{kind: KindBool, b: b} }
func Number(n float64) Value   { return Value{kind: KindNumber, n: n} }
func String(s string) Value    { return Value{kind: KindString, s: s} }
func (v Value) Kind() Kind     { return v.kind }
func (v Value) IsNull() bool   { return v.kind == KindNull }
func (v Value) Bool() bool     { return v.b }
func (v Value) Float() float64 { return v.n }
func (v Value) Str() string    { return v.s }

// IsNaN reports whether v is a Number holding NaN. Other variants are never NaN.
func (v Value) IsNaN() bool { return v.kind == KindNumber && math.IsNaN(v.n) }

// Any returns the value as a driver-friendly Go scalar (nil, bool, float64, string).
func (v Value) Any() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		if math.IsNaN(v.n) {
			return nil
		}
		return v.n
	case KindString:
		return v.s
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return strconv.FormatFloat(v.n, 'g', -1, 64)
	case KindString:
		return v.s
	default:
		return "NULL"
	}
}

// MarshalJSON encodes Null, NaN and ±Inf as JSON null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindBool:
		return strconv.AppendBool(nil, v.b), nil
	case KindNumber:
		if math.IsNaN(v.n) || math.IsInf(v.n, 0) {
			return []byte("null"), nil
		}
		return strconv.AppendFloat(nil, v.n, 'g', -1, 64), nil
	case KindString:
		return json.Marshal(v.s)
	default:
		return []byte("null"), nil
	}
}

// MarshalYAML mirrors MarshalJSON for YAML output.
func (v Value) MarshalYAML() (any, error) { return v.Any(), nil }

// Field is one named cell of a Row.
type Field struct {
	Name  string
	Value Value
}

// Row is an ordered mapping from column name to Value.
//
// Rows in one result set share a column set; a column missing from a sparse
// row reads as Null.
type Row []Field

// Get returns the value stored under name and whether the column is present.
func (r Row) Get(name string) (Value, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Null(), false
}

// Columns returns the column names in row order.
func (r Row) Columns() []string {
	out := make([]string, len(r))
	for i, f := range r {
		out[i] = f.Name
	}
	return out
}

// Clone returns a copy that shares no backing array with r.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	copy(out, r)
	return out
}

// MarshalJSON encodes the row as a JSON object preserving column order.
func (r Row) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, f := range r {
		if i > 0 {
			buf = append(buf, ',')
		}
		k, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf = append(buf, k...)
		buf = append(buf, ':')
		val, err := f.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf = append(buf, val...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// MarshalYAML encodes the row as a mapping of column name to scalar,
// preserving column order.
func (r Row) MarshalYAML() (any, error) {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, f := range r {
		var v yaml.Node
		if err := v.Encode(f.Value.Any()); err != nil {
			return nil, err
		}
		n.Content = append(n.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: f.Name},
			&v,
		)
	}
	return n, nil
}

// NewRow zips names and values into a Row, stopping at the shorter slice.
func NewRow(names []string, values []Value) Row {
	n := len(names)
	if len(values) < n {
		n = len(values)
	}
	out := make(Row, n)
	for i := 0; i < n; i++ {
		out[i] = Field{Name: names[i], Value: values[i]}
	}
	return out
}
