// Package row holds the unit of data flowing through a migration: the source record, the
// destination properties built by the process pipeline, and the identifier tuple that keys
// the id map.
package row

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// DestinationPrefix marks a property name as referring to a destination property.
const DestinationPrefix = "@"

// PathSeparator separates the segments of a nested property name, e.g. "body/0/value".
const PathSeparator = "/"

// ErrFrozen is returned when the source properties of a row are changed after processing started.
var ErrFrozen = errors.New("source properties are frozen")

// MissingPropertyError is returned when a property is present in neither the source nor the
// destination properties of a row.
type MissingPropertyError struct {
	Name string
}

func (e *MissingPropertyError) Error() string {
	return fmt.Sprintf("property %q not found in row", e.Name)
}

// Row is one source record together with the destination properties computed from it.
type Row struct {
	source      *OrderedMap
	destination *OrderedMap
	idFields    []IDField
	sourceIDs   IDs
	frozen      bool
}

// New creates a row from a source record. Every declared id field must be present.
func New(source *OrderedMap, idFields []IDField) (*Row, error) {
	if source == nil {
		source = NewOrderedMap()
	}
	ids := make(IDs, 0, len(idFields))
	for _, f := range idFields {
		v, ok := source.Get(f.Name)
		if !ok {
			return nil, fmt.Errorf("source record has no id field %q", f.Name)
		}
		nv, err := f.Normalize(v)
		if err != nil {
			return nil, err
		}
		ids = append(ids, nv)
	}

	return &Row{
		source:      source.Clone(),
		destination: NewOrderedMap(),
		idFields:    append([]IDField(nil), idFields...),
		sourceIDs:   ids,
	}, nil
}

// Get returns a copy of a property value. Names starting with "@" address destination
// properties; other names address source properties and fall back to destination properties.
// Segments separated by "/" walk into nested lists and maps.
func (r *Row) Get(name string) (Value, error) {
	if strings.HasPrefix(name, DestinationPrefix) {
		trimmed := strings.TrimPrefix(name, DestinationPrefix)
		if v, ok := lookupPath(r.destination, trimmed); ok {
			return v.Clone(), nil
		}

		return Null(), &MissingPropertyError{Name: name}
	}
	if v, ok := lookupPath(r.source, name); ok {
		return v.Clone(), nil
	}
	if v, ok := lookupPath(r.destination, name); ok {
		return v.Clone(), nil
	}

	return Null(), &MissingPropertyError{Name: name}
}

// SourceProperty returns a copy of a source property without falling back to destination
// properties.
func (r *Row) SourceProperty(name string) (Value, bool) {
	v, ok := lookupPath(r.source, name)

	return v.Clone(), ok
}

// DestinationProperty returns a copy of a destination property.
func (r *Row) DestinationProperty(name string) (Value, bool) {
	v, ok := lookupPath(r.destination, name)

	return v.Clone(), ok
}

// HasDestinationProperty reports whether a destination property was set.
func (r *Row) HasDestinationProperty(name string) bool {
	_, ok := r.DestinationProperty(name)
	return ok
}

// SetDestinationProperty adds or overwrites a destination property. Nested names create the
// intermediate maps.
func (r *Row) SetDestinationProperty(name string, v Value) {
	setPath(r.destination, name, v)
}

// RemoveDestinationProperty deletes a top level destination property.
func (r *Row) RemoveDestinationProperty(name string) {
	r.destination.Delete(name)
}

// Enrich adds a derived source property. It is only allowed while a source plugin prepares the
// row, before the process pipeline runs.
func (r *Row) Enrich(name string, v Value) error {
	if r.frozen {
		return fmt.Errorf("enrich %q: %w", name, ErrFrozen)
	}
	r.source.Set(name, v)

	return nil
}

// Freeze forbids further changes to the source properties.
func (r *Row) Freeze() { r.frozen = true }

// Frozen reports whether Freeze was called.
func (r *Row) Frozen() bool { return r.frozen }

// SourceIDValues returns the identifier tuple in the order declared by the source.
func (r *Row) SourceIDValues() IDs {
	return append(IDs(nil), r.sourceIDs...)
}

// IDFields returns the declared id fields.
func (r *Row) IDFields() []IDField {
	return append([]IDField(nil), r.idFields...)
}

// Source returns a copy of the source properties.
func (r *Row) Source() *OrderedMap { return r.source.Clone() }

// Destination returns a copy of the destination properties.
func (r *Row) Destination() *OrderedMap { return r.destination.Clone() }

// Hash returns the hex encoded sha256 of the canonical JSON encoding of the source properties.
// It changes whenever any source value changes and is stable across key order.
func (r *Row) Hash() string {
	return HashOf(r.source)
}

// HashOf hashes a record the same way Row.Hash does.
func HashOf(m *OrderedMap) string {
	var buf bytes.Buffer
	if err := writeMapJSON(&buf, m, true); err != nil {
		// Unreachable: the canonical encoding has no failing case.
		panic(fmt.Sprintf("row: canonical encoding failed: %v", err))
	}
	sum := sha256.Sum256(buf.Bytes())

	return hex.EncodeToString(sum[:])
}

func lookupPath(m *OrderedMap, name string) (Value, bool) {
	parts := strings.Split(name, PathSeparator)
	head, ok := m.Get(parts[0])
	if !ok {
		return Null(), false
	}
	if len(parts) == 1 {
		return head, true
	}

	return head.Lookup(parts[1:]...)
}

func setPath(m *OrderedMap, name string, v Value) {
	parts := strings.Split(name, PathSeparator)
	if len(parts) == 1 {
		m.Set(name, v)
		return
	}
	cur := m
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur.Get(part)
		if !ok || !next.IsMap() {
			next = Map(NewOrderedMap())
			cur.Set(part, next)
		}
		cur = next.Map()
	}
	cur.Set(parts[len(parts)-1], v)
}
