package process

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/contentmigrate/migrate-framework/plugin"
	"github.com/contentmigrate/migrate-framework/row"
)

// optionalValue decodes a YAML node into a row value and remembers whether it was present.
// A zero node is an absent key.
func optionalValue(node yaml.Node) (row.Value, bool, error) {
	if node.Kind == 0 {
		return row.Null(), false, nil
	}
	v, err := row.FromYAML(&node)

	return v, true, err
}

// DefaultValue replaces an empty input. With strict set only null is replaced.
type DefaultValue struct {
	value  row.Value
	strict bool
}

// NewDefaultValue is the Factory of the default_value plugin.
func NewDefaultValue(cfg plugin.Config, _ Deps) (Plugin, error) {
	var c struct {
		DefaultValue yaml.Node `yaml:"default_value"`
		Strict       bool      `yaml:"strict"`
	}
	if err := cfg.Decode(&c); err != nil {
		return nil, err
	}
	v, ok, err := optionalValue(c.DefaultValue)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.New("default_value: default_value is required")
	}

	return &DefaultValue{value: v, strict: c.Strict}, nil
}

func (d *DefaultValue) Transform(_ context.Context, value row.Value, _ *row.Row, _ string) (row.Value, error) {
	if d.strict {
		if value.IsNull() {
			return d.value.Clone(), nil
		}

		return value, nil
	}
	if value.IsEmpty() {
		return d.value.Clone(), nil
	}

	return value, nil
}

// Concat joins a list of values with a delimiter.
type Concat struct {
	delimiter string
}

var _ MultipleHandler = &Concat{}

// NewConcat is the Factory of the concat plugin.
func NewConcat(cfg plugin.Config, _ Deps) (Plugin, error) {
	var c struct {
		Delimiter string `yaml:"delimiter"`
	}
	if err := cfg.Decode(&c); err != nil {
		return nil, err
	}

	return &Concat{delimiter: c.Delimiter}, nil
}

func (c *Concat) Transform(_ context.Context, value row.Value, _ *row.Row, _ string) (row.Value, error) {
	if !value.IsList() {
		return row.Null(), invalidInput("concat", value, "a list")
	}
	items := value.List()
	parts := make([]string, len(items))
	for i, item := range items {
		if !item.IsScalar() {
			return row.Null(), invalidInput("concat", item, "scalar elements")
		}
		parts[i] = item.String()
	}

	return row.String(strings.Join(parts, c.delimiter)), nil
}

func (c *Concat) HandlesMultiples() bool { return true }

// StaticMap translates the input through a fixed map. A list input walks nested map levels.
// Unknown inputs return the default value when one is configured, the input itself with bypass,
// and skip the row otherwise.
type StaticMap struct {
	mapping    row.Value
	def        row.Value
	hasDefault bool
	bypass     bool
}

// NewStaticMap is the Factory of the static_map plugin.
func NewStaticMap(cfg plugin.Config, _ Deps) (Plugin, error) {
	var c struct {
		Map          yaml.Node `yaml:"map"`
		DefaultValue yaml.Node `yaml:"default_value"`
		Bypass       bool      `yaml:"bypass"`
	}
	if err := cfg.Decode(&c); err != nil {
		return nil, err
	}
	mapping, ok, err := optionalValue(c.Map)
	if err != nil {
		return nil, err
	}
	if !ok || !mapping.IsMap() {
		return nil, errors.New("static_map: map must be a mapping")
	}
	def, hasDefault, err := optionalValue(c.DefaultValue)
	if err != nil {
		return nil, err
	}

	return &StaticMap{mapping: mapping, def: def, hasDefault: hasDefault, bypass: c.Bypass}, nil
}

func (s *StaticMap) Transform(_ context.Context, value row.Value, _ *row.Row, _ string) (row.Value, error) {
	var path []string
	switch {
	case value.IsList():
		for _, item := range value.List() {
			path = append(path, item.String())
		}
	case value.IsMap():
		return row.Null(), invalidInput("static_map", value, "a scalar or a list")
	default:
		path = []string{value.String()}
	}

	if v, ok := s.mapping.Lookup(path...); ok {
		return v.Clone(), nil
	}
	switch {
	case s.bypass:
		return value, nil
	case s.hasDefault:
		return s.def.Clone(), nil
	default:
		return row.Null(), SkipRow(fmt.Sprintf("no static mapping found for %q", strings.Join(path, "/")))
	}
}

// NullCoalesce returns the first non-null element of a list.
type NullCoalesce struct {
	def row.Value
}

var _ MultipleHandler = &NullCoalesce{}

// NewNullCoalesce is the Factory of the null_coalesce plugin.
func NewNullCoalesce(cfg plugin.Config, _ Deps) (Plugin, error) {
	var c struct {
		DefaultValue yaml.Node `yaml:"default_value"`
	}
	if err := cfg.Decode(&c); err != nil {
		return nil, err
	}
	def, _, err := optionalValue(c.DefaultValue)
	if err != nil {
		return nil, err
	}

	return &NullCoalesce{def: def}, nil
}

func (n *NullCoalesce) Transform(_ context.Context, value row.Value, _ *row.Row, _ string) (row.Value, error) {
	if !value.IsList() {
		return row.Null(), invalidInput("null_coalesce", value, "a list")
	}
	for _, item := range value.List() {
		if !item.IsNull() {
			return item, nil
		}
	}

	return n.def.Clone(), nil
}

func (n *NullCoalesce) HandlesMultiples() bool { return true }
