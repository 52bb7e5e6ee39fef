package row

import (
	"bytes"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

// OrderedMap is a string keyed map of values that remembers insertion order.
// Setting an existing key keeps its position.
type OrderedMap struct {
	keys   []string
	values map[string]Value
}

// NewOrderedMap creates an empty OrderedMap.
func NewOrderedMap() *OrderedMap {
	return &OrderedMap{values: make(map[string]Value)}
}

// OrderedMapOf builds an OrderedMap from alternating key/value pairs. Values are converted
// with FromAny. It panics on an odd number of arguments or a non-string key.
func OrderedMapOf(pairs ...any) *OrderedMap {
	if len(pairs)%2 != 0 {
		panic("row: OrderedMapOf needs key/value pairs")
	}
	m := NewOrderedMap()
	for i := 0; i < len(pairs); i += 2 {
		k, ok := pairs[i].(string)
		if !ok {
			panic("row: OrderedMapOf keys must be strings")
		}
		m.Set(k, FromAny(pairs[i+1]))
	}

	return m
}

// Len returns the number of keys.
func (m *OrderedMap) Len() int {
	if m == nil {
		return 0
	}

	return len(m.keys)
}

// Get returns the value stored under k.
func (m *OrderedMap) Get(k string) (Value, bool) {
	if m == nil {
		return Null(), false
	}
	v, ok := m.values[k]

	return v, ok
}

// Has reports whether k is present.
func (m *OrderedMap) Has(k string) bool {
	_, ok := m.Get(k)
	return ok
}

// Set adds or overwrites the value under k.
func (m *OrderedMap) Set(k string, v Value) {
	if _, ok := m.values[k]; !ok {
		m.keys = append(m.keys, k)
	}
	m.values[k] = v
}

// Delete removes k.
func (m *OrderedMap) Delete(k string) {
	if _, ok := m.values[k]; !ok {
		return
	}
	delete(m.values, k)
	m.keys = slices.DeleteFunc(m.keys, func(key string) bool { return key == k })
}

// Keys returns a copy of the keys in insertion order.
func (m *OrderedMap) Keys() []string {
	if m == nil {
		return nil
	}

	return slices.Clone(m.keys)
}

// Range calls fn for every entry in order until fn returns false.
func (m *OrderedMap) Range(fn func(k string, v Value) bool) {
	if m == nil {
		return
	}
	for _, k := range m.keys {
		if !fn(k, m.values[k]) {
			return
		}
	}
}

// Clone returns a deep copy of m.
func (m *OrderedMap) Clone() *OrderedMap {
	out := NewOrderedMap()
	m.Range(func(k string, v Value) bool {
		out.Set(k, v.Clone())
		return true
	})

	return out
}

// Equal reports whether both maps hold equal values under the same keys, ignoring order.
func (m *OrderedMap) Equal(o *OrderedMap) bool {
	if m.Len() != o.Len() {
		return false
	}
	equal := true
	m.Range(func(k string, v Value) bool {
		ov, ok := o.Get(k)
		if !ok || !v.Equal(ov) {
			equal = false
		}

		return equal
	})

	return equal
}

// Any converts the map to a plain map[string]any.
func (m *OrderedMap) Any() map[string]any {
	out, _ := Map(m).Any().(map[string]any)
	return out
}

// MarshalJSON encodes the map in insertion order.
func (m *OrderedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := writeMapJSON(&buf, m, false); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// UnmarshalYAML decodes a YAML mapping keeping the document order.
func (m *OrderedMap) UnmarshalYAML(node *yaml.Node) error {
	v, err := FromYAML(node)
	if err != nil {
		return err
	}
	switch {
	case v.IsMap():
		*m = *v.Map()
	case v.IsNull():
		*m = *NewOrderedMap()
	default:
		return fmt.Errorf("line %d: expected a mapping, got %s", node.Line, v.Kind())
	}

	return nil
}
