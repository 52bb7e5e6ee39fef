package row

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// IDType is the declared type of an identifying field.
type IDType string

const (
	IDTypeString  IDType = "string"
	IDTypeInteger IDType = "integer"
)

// IDField declares one element of an identifier tuple.
type IDField struct {
	Name string `yaml:"name" json:"name"`
	Type IDType `yaml:"type" json:"type"`
}

// Normalize converts v to the declared type so that "1" from a text column and 1 from a YAML
// document address the same id map entry.
func (f IDField) Normalize(v Value) (Value, error) {
	if !v.IsScalar() {
		return Null(), fmt.Errorf("id field %q: %s value cannot be an identifier", f.Name, v.Kind())
	}
	switch f.Type {
	case IDTypeInteger:
		i, ok := v.AsInt()
		if !ok {
			return Null(), fmt.Errorf("id field %q: %q is not an integer", f.Name, v.String())
		}

		return Int(i), nil
	case IDTypeString, "":
		return String(v.String()), nil
	default:
		return Null(), fmt.Errorf("id field %q: unknown type %q", f.Name, f.Type)
	}
}

// IDs is an ordered identifier tuple, used for both source and destination identifiers.
type IDs []Value

// NewIDs converts plain values into an IDs tuple.
func NewIDs(values ...any) IDs {
	ids := make(IDs, 0, len(values))
	for _, v := range values {
		ids = append(ids, FromAny(v))
	}

	return ids
}

// Equal reports whether both tuples hold equal values in the same order.
func (ids IDs) Equal(o IDs) bool {
	if len(ids) != len(o) {
		return false
	}
	for i := range ids {
		if !ids[i].Equal(o[i]) {
			return false
		}
	}

	return true
}

// IsEmpty reports whether the tuple has no elements.
func (ids IDs) IsEmpty() bool { return len(ids) == 0 }

// String renders the tuple as colon separated values, e.g. "12:en".
func (ids IDs) String() string {
	parts := make([]string, len(ids))
	for i, v := range ids {
		parts[i] = v.String()
	}

	return strings.Join(parts, ":")
}

// Key returns a canonical JSON encoding usable as a map key or a database column value.
func (ids IDs) Key() string {
	var buf bytes.Buffer
	_ = writeJSON(&buf, List(ids...), true)

	return buf.String()
}

// Hash returns the hex encoded sha256 of Key.
func (ids IDs) Hash() string {
	sum := sha256.Sum256([]byte(ids.Key()))
	return hex.EncodeToString(sum[:])
}

// ParseIDs decodes a tuple produced by Key.
func ParseIDs(key string) (IDs, error) {
	var v Value
	if err := v.UnmarshalJSON([]byte(key)); err != nil {
		return nil, fmt.Errorf("parse ids %q: %w", key, err)
	}
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsList() {
		return nil, fmt.Errorf("parse ids %q: not a list", key)
	}

	return IDs(v.List()), nil
}

// ParseIDList parses a command line id list such as "1,2,3" or "1:en,2:fr" against the
// declared id fields.
func ParseIDList(text string, fields []IDField) ([]IDs, error) {
	var out []IDs
	for _, item := range strings.Split(text, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.Split(item, ":")
		if len(parts) != len(fields) {
			return nil, fmt.Errorf("id %q: expected %d components, got %d", item, len(fields), len(parts))
		}
		ids := make(IDs, len(parts))
		for i, part := range parts {
			v, err := fields[i].Normalize(String(part))
			if err != nil {
				return nil, err
			}
			ids[i] = v
		}
		out = append(out, ids)
	}

	return out, nil
}
