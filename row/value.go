package row

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// Kind is the tag of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindList
	KindMap
)

var kindNames = [...]string{
	KindNull:   "null",
	KindString: "string",
	KindInt:    "int",
	KindFloat:  "float",
	KindBool:   "bool",
	KindList:   "list",
	KindMap:    "map",
}

// String returns the name of the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}

	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Value is a schema-less property value: a scalar, a list of values or an ordered map of values.
// The zero Value is null.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
	list []Value
	m    *OrderedMap
}

// Null returns the null value.
func Null() Value { return Value{} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Int returns an integer value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a floating point value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// List returns a list value holding vs.
func List(vs ...Value) Value {
	if vs == nil {
		vs = []Value{}
	}

	return Value{kind: KindList, list: vs}
}

// Map returns a map value. A nil map is replaced by an empty one.
func Map(m *OrderedMap) Value {
	if m == nil {
		m = NewOrderedMap()
	}

	return Value{kind: KindMap, m: m}
}

// FromAny converts decoded data (YAML, JSON, database rows) into a Value.
// Plain Go maps carry no order, so their keys are sorted.
func FromAny(v any) Value {
	switch x := v.(type) {
	case nil:
		return Null()
	case Value:
		return x
	case *OrderedMap:
		return Map(x)
	case string:
		return String(x)
	case []byte:
		return String(string(x))
	case bool:
		return Bool(x)
	case int:
		return Int(int64(x))
	case int8:
		return Int(int64(x))
	case int16:
		return Int(int64(x))
	case int32:
		return Int(int64(x))
	case int64:
		return Int(x)
	case uint:
		return fromUint(uint64(x))
	case uint8:
		return Int(int64(x))
	case uint16:
		return Int(int64(x))
	case uint32:
		return Int(int64(x))
	case uint64:
		return fromUint(x)
	case float32:
		return Float(float64(x))
	case float64:
		return Float(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return Int(i)
		}
		if f, err := x.Float64(); err == nil {
			return Float(f)
		}

		return String(x.String())
	case time.Time:
		return String(x.UTC().Format(time.RFC3339))
	case []any:
		list := make([]Value, 0, len(x))
		for _, item := range x {
			list = append(list, FromAny(item))
		}

		return List(list...)
	case []string:
		list := make([]Value, 0, len(x))
		for _, item := range x {
			list = append(list, String(item))
		}

		return List(list...)
	case []map[string]any:
		list := make([]Value, 0, len(x))
		for _, item := range x {
			list = append(list, FromAny(item))
		}

		return List(list...)
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		m := NewOrderedMap()
		for _, k := range keys {
			m.Set(k, FromAny(x[k]))
		}

		return Map(m)
	case map[any]any:
		converted := make(map[string]any, len(x))
		for k, item := range x {
			converted[fmt.Sprint(k)] = item
		}

		return FromAny(converted)
	case fmt.Stringer:
		return String(x.String())
	default:
		return String(fmt.Sprint(x))
	}
}

func fromUint(u uint64) Value {
	if u > math.MaxInt64 {
		return String(strconv.FormatUint(u, 10))
	}

	return Int(int64(u))
}

// Kind returns the tag of the value.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsList reports whether v is a list.
func (v Value) IsList() bool { return v.kind == KindList }

// IsMap reports whether v is a map.
func (v Value) IsMap() bool { return v.kind == KindMap }

// IsScalar reports whether v is neither a list nor a map.
func (v Value) IsScalar() bool { return v.kind != KindList && v.kind != KindMap }

// List returns the elements of a list value, or nil.
func (v Value) List() []Value {
	if v.kind != KindList {
		return nil
	}

	return v.list
}

// Map returns the map of a map value, or nil.
func (v Value) Map() *OrderedMap {
	if v.kind != KindMap {
		return nil
	}

	return v.m
}

// AsInt converts scalars to an integer.
func (v Value) AsInt() (int64, bool) {
	switch v.kind {
	case KindInt:
		return v.i, true
	case KindFloat:
		return int64(v.f), true
	case KindBool:
		if v.b {
			return 1, true
		}

		return 0, true
	case KindString:
		if i, err := strconv.ParseInt(v.s, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(v.s, 64); err == nil {
			return int64(f), true
		}
	case KindNull:
		return 0, true
	}

	return 0, false
}

// AsFloat converts scalars to a float.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	case KindString:
		f, err := strconv.ParseFloat(v.s, 64)
		return f, err == nil
	}

	return 0, false
}

// String renders a scalar as text. Lists and maps render as JSON.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindBool:
		if v.b {
			return "1"
		}

		return "0"
	default:
		b, err := v.MarshalJSON()
		if err != nil {
			return ""
		}

		return string(b)
	}
}

// IsEmpty reports whether v counts as empty: null, "", "0", 0, false or an empty list or map.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.s == "" || v.s == "0"
	case KindInt:
		return v.i == 0
	case KindFloat:
		return v.f == 0
	case KindBool:
		return !v.b
	case KindList:
		return len(v.list) == 0
	case KindMap:
		return v.m.Len() == 0
	}

	return true
}

// Equal reports whether v and o hold the same data. Map key order is ignored.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.s == o.s
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindBool:
		return v.b == o.b
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}

		return true
	case KindMap:
		return v.m.Equal(o.m)
	}

	return false
}

// Clone returns a deep copy of v.
func (v Value) Clone() Value {
	switch v.kind {
	case KindList:
		list := make([]Value, len(v.list))
		for i, item := range v.list {
			list[i] = item.Clone()
		}

		return List(list...)
	case KindMap:
		return Map(v.m.Clone())
	default:
		return v
	}
}

// Any converts v back to plain Go data: nil, string, int64, float64, bool, []any or map[string]any.
func (v Value) Any() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Any()
		}

		return out
	case KindMap:
		out := make(map[string]any, v.m.Len())
		v.m.Range(func(k string, item Value) bool {
			out[k] = item.Any()
			return true
		})

		return out
	}

	return nil
}

// Lookup walks a nested path through maps (by key) and lists (by index).
func (v Value) Lookup(path ...string) (Value, bool) {
	cur := v
	for _, part := range path {
		switch cur.kind {
		case KindMap:
			next, ok := cur.m.Get(part)
			if !ok {
				return Null(), false
			}
			cur = next
		case KindList:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(cur.list) {
				return Null(), false
			}
			cur = cur.list[idx]
		default:
			return Null(), false
		}
	}

	return cur, true
}

// MarshalJSON encodes v keeping map key order.
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, v, false); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// UnmarshalJSON decodes JSON into v. Objects are decoded with sorted keys.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = FromAny(raw)

	return nil
}

// writeJSON encodes v into buf. With canonical set, map keys are sorted so that equal data
// always produces equal bytes.
func writeJSON(buf *bytes.Buffer, v Value, canonical bool) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindString:
		b, err := json.Marshal(v.s)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindInt:
		buf.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			// JSON has no literal for these; "NaN", "+Inf" and "-Inf" keep them distinct.
			buf.WriteString(strconv.Quote(strconv.FormatFloat(v.f, 'g', -1, 64)))
			return nil
		}
		b, err := json.Marshal(v.f)
		if err != nil {
			return err
		}
		buf.Write(b)
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, item, canonical); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindMap:
		return writeMapJSON(buf, v.m, canonical)
	}

	return nil
}

func writeMapJSON(buf *bytes.Buffer, m *OrderedMap, canonical bool) error {
	keys := m.Keys()
	if canonical {
		sort.Strings(keys)
	}
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		item, _ := m.Get(k)
		if err := writeJSON(buf, item, canonical); err != nil {
			return err
		}
	}
	buf.WriteByte('}')

	return nil
}
