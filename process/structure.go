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

// Extract returns the element found at index, a path into nested lists and maps.
type Extract struct {
	index      []string
	def        row.Value
	hasDefault bool
}

var _ MultipleHandler = &Extract{}

// NewExtract is the Factory of the extract plugin.
func NewExtract(cfg plugin.Config, _ Deps) (Plugin, error) {
	var c struct {
		Index   names     `yaml:"index"`
		Default yaml.Node `yaml:"default"`
	}
	if err := cfg.Decode(&c); err != nil {
		return nil, err
	}
	if len(c.Index.values) == 0 {
		return nil, errors.New("extract: index is required")
	}
	def, hasDefault, err := optionalValue(c.Default)
	if err != nil {
		return nil, err
	}

	return &Extract{index: c.Index.values, def: def, hasDefault: hasDefault}, nil
}

func (e *Extract) Transform(_ context.Context, value row.Value, _ *row.Row, _ string) (row.Value, error) {
	if !value.IsList() && !value.IsMap() {
		return row.Null(), invalidInput("extract", value, "a list or a map")
	}
	if v, ok := value.Lookup(e.index...); ok {
		return v, nil
	}
	if e.hasDefault {
		return e.def.Clone(), nil
	}

	return row.Null(), fmt.Errorf("extract: index %q not found", strings.Join(e.index, "/"))
}

func (e *Extract) HandlesMultiples() bool { return true }

// Flatten turns nested lists and maps into one flat list of values.
type Flatten struct{}

var (
	_ MultipleHandler  = Flatten{}
	_ MultipleProducer = Flatten{}
)

// NewFlatten is the Factory of the flatten plugin.
func NewFlatten(plugin.Config, Deps) (Plugin, error) {
	return Flatten{}, nil
}

func (Flatten) Transform(_ context.Context, value row.Value, _ *row.Row, _ string) (row.Value, error) {
	if !value.IsList() && !value.IsMap() {
		return row.Null(), invalidInput("flatten", value, "a list or a map")
	}

	return row.List(flatten(value, nil)...), nil
}

func flatten(v row.Value, out []row.Value) []row.Value {
	switch {
	case v.IsList():
		for _, item := range v.List() {
			out = flatten(item, out)
		}
	case v.IsMap():
		v.Map().Range(func(_ string, item row.Value) bool {
			out = flatten(item, out)
			return true
		})
	default:
		out = append(out, v)
	}

	return out
}

func (Flatten) HandlesMultiples() bool { return true }

func (Flatten) Multiple() bool { return true }

// SubProcess runs a nested pipeline over every element of a list of maps. Each element becomes
// the source of a temporary row, and the destination properties of that row become the output
// element. An element whose nested pipeline skips the row is left out.
type SubProcess struct {
	pipeline      Pipeline
	key           string
	includeSource bool
	sourceKey     string
}

var _ MultipleHandler = &SubProcess{}

// NewSubProcess is the Factory of the sub_process plugin.
func NewSubProcess(cfg plugin.Config, deps Deps) (Plugin, error) {
	var c struct {
		Process       yaml.Node `yaml:"process"`
		Key           string    `yaml:"key"`
		IncludeSource bool      `yaml:"include_source"`
		SourceKey     string    `yaml:"source_key"`
	}
	if err := cfg.Decode(&c); err != nil {
		return nil, err
	}
	if c.Process.Kind == 0 {
		return nil, errors.New("sub_process: process is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("sub_process: no process registry available")
	}
	pipeline, err := Parse(&c.Process, deps.Registry, deps)
	if err != nil {
		return nil, fmt.Errorf("sub_process: %w", err)
	}
	if c.SourceKey == "" {
		c.SourceKey = "source"
	}

	return &SubProcess{pipeline: pipeline, key: c.Key, includeSource: c.IncludeSource, sourceKey: c.SourceKey}, nil
}

func (s *SubProcess) Transform(ctx context.Context, value row.Value, r *row.Row, _ string) (row.Value, error) {
	var elements []row.Value
	switch {
	case value.IsNull():
		return row.List(), nil
	case value.IsList():
		elements = value.List()
	case value.IsMap():
		value.Map().Range(func(_ string, item row.Value) bool {
			elements = append(elements, item)
			return true
		})
	default:
		return row.Null(), invalidInput("sub_process", value, "a list or a map")
	}

	keyed := row.NewOrderedMap()
	var list []row.Value
	for i, element := range elements {
		if !element.IsMap() {
			return row.Null(), fmt.Errorf("sub_process: element %d: %w", i, invalidInput("sub_process", element, "a map"))
		}
		src := element.Map().Clone()
		if s.includeSource {
			src.Set(s.sourceKey, row.Map(r.Source()))
		}
		sub, err := row.New(src, nil)
		if err != nil {
			return row.Null(), err
		}
		if err := s.pipeline.Run(ctx, sub); err != nil {
			if IsSkipRow(err) {
				continue
			}

			return row.Null(), fmt.Errorf("sub_process: element %d: %w", i, err)
		}

		out := row.Map(sub.Destination())
		if s.key == "" {
			list = append(list, out)
			continue
		}
		k, err := sub.Get(s.key)
		if err != nil {
			return row.Null(), fmt.Errorf("sub_process: key: %w", err)
		}
		keyed.Set(k.String(), out)
	}

	if s.key != "" {
		return row.Map(keyed), nil
	}

	return row.List(list...), nil
}

func (s *SubProcess) HandlesMultiples() bool { return true }
