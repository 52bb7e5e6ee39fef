package process

import (
	"context"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/contentmigrate/migrate-framework/plugin"
	"github.com/contentmigrate/migrate-framework/row"
)

// GetID is the id of the plugin reading row properties.
const GetID = "get"

// names is a configuration value given either as one string or as a list of strings.
type names struct {
	values []string
	list   bool
}

func (n *names) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		n.values = []string{node.Value}
		n.list = false
	case yaml.SequenceNode:
		n.list = true
		n.values = make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: expected a string", item.Line)
			}
			n.values = append(n.values, item.Value)
		}
	default:
		return fmt.Errorf("line %d: expected a string or a list of strings", node.Line)
	}

	return nil
}

// Get reads one or several properties of the row. Names prefixed with "@" read destination
// properties computed earlier in the pipeline. A list of names produces multiple values.
type Get struct {
	source names
}

var (
	_ MultipleHandler  = &Get{}
	_ MultipleProducer = &Get{}
)

// NewGet is the Factory of the get plugin.
func NewGet(cfg plugin.Config, _ Deps) (Plugin, error) {
	var c struct {
		Source names `yaml:"source"`
	}
	if err := cfg.Decode(&c); err != nil {
		return nil, err
	}
	if len(c.Source.values) == 0 {
		return nil, errors.New("get: source is required")
	}

	return &Get{source: c.Source}, nil
}

// Transform ignores its input and reads the configured properties.
func (g *Get) Transform(_ context.Context, _ row.Value, r *row.Row, _ string) (row.Value, error) {
	if !g.source.list {
		return r.Get(g.source.values[0])
	}
	out := make([]row.Value, 0, len(g.source.values))
	for _, name := range g.source.values {
		v, err := r.Get(name)
		if err != nil {
			return row.Null(), err
		}
		out = append(out, v)
	}

	return row.List(out...), nil
}

// HandlesMultiples reports true: get never transforms its input.
func (g *Get) HandlesMultiples() bool { return true }

// Multiple reports whether several properties are read.
func (g *Get) Multiple() bool { return g.source.list }
