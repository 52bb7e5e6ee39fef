package process

import (
	"context"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/contentmigrate/migrate-framework/plugin"
	"github.com/contentmigrate/migrate-framework/row"
)

// Step is one built plugin of a chain.
type Step struct {
	ID     string
	Plugin Plugin
}

// Chain is the ordered list of plugins producing one destination property.
type Chain []Step

// Property binds a destination property to its chain.
type Property struct {
	Name  string
	Chain Chain
}

// Pipeline is the ordered list of properties of a migration.
type Pipeline []Property

// Names returns the destination property names in order.
func (p Pipeline) Names() []string {
	names := make([]string, len(p))
	for i, prop := range p {
		names[i] = prop.Name
	}

	return names
}

// Run computes every destination property of r in declared order. A property whose chain
// signals a process skip is left unset. A row skip or any other error stops the row and is
// returned.
func (p Pipeline) Run(ctx context.Context, r *row.Row) error {
	for _, prop := range p {
		v, err := prop.Chain.Apply(ctx, r, prop.Name, row.Null())
		if err != nil {
			if IsSkipProcess(err) {
				continue
			}

			return fmt.Errorf("process %s: %w", prop.Name, err)
		}
		r.SetDestinationProperty(prop.Name, v)
	}

	return nil
}

// Apply runs the chain with value as the input of the first plugin. When a plugin produced
// multiple values and the next plugin does not handle multiples, the next plugin is applied to
// every element.
func (c Chain) Apply(ctx context.Context, r *row.Row, destination string, value row.Value) (row.Value, error) {
	multiple := false
	for _, step := range c {
		if multiple && !handlesMultiples(step.Plugin) {
			v, err := applyEach(ctx, step, value, r, destination)
			if err != nil {
				return row.Null(), err
			}
			value = v

			continue
		}

		v, err := step.Plugin.Transform(ctx, value, r, destination)
		if err != nil {
			return row.Null(), err
		}
		value = v
		multiple = producesMultiple(step.Plugin)
	}

	return value, nil
}

func applyEach(ctx context.Context, step Step, value row.Value, r *row.Row, destination string) (row.Value, error) {
	switch {
	case value.IsList():
		items := value.List()
		out := make([]row.Value, 0, len(items))
		for _, item := range items {
			v, err := step.Plugin.Transform(ctx, item, r, destination)
			if err != nil {
				return row.Null(), err
			}
			out = append(out, v)
		}

		return row.List(out...), nil
	case value.IsMap():
		out := row.NewOrderedMap()
		var err error
		value.Map().Range(func(k string, item row.Value) bool {
			var v row.Value
			v, err = step.Plugin.Transform(ctx, item, r, destination)
			if err != nil {
				return false
			}
			out.Set(k, v)

			return true
		})
		if err != nil {
			return row.Null(), err
		}

		return row.Map(out), nil
	case value.IsNull():
		return row.List(), nil
	default:
		return row.Null(), invalidInput(step.ID, value, "multiple values")
	}
}

func handlesMultiples(p Plugin) bool {
	h, ok := p.(MultipleHandler)
	return ok && h.HandlesMultiples()
}

func producesMultiple(p Plugin) bool {
	m, ok := p.(MultipleProducer)
	return ok && m.Multiple()
}

// Parse builds a pipeline from the process section of a migration definition. A property is
// written in one of three shapes:
//
//	title: name                       # shorthand for the get plugin
//	uid: {plugin: default_value, default_value: 1}
//	tags:
//	  - plugin: explode
//	    source: tags
//	    delimiter: ","
//	  - plugin: callback
//	    callable: trim
//
// A step carrying a source key reads that property through an implicit get plugin first.
func Parse(node *yaml.Node, reg *Registry, deps Deps) (Pipeline, error) {
	if node == nil {
		return nil, nil
	}
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return nil, nil
		}
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: process must be a mapping of destination properties", node.Line)
	}
	if deps.Registry == nil {
		deps.Registry = reg
	}

	pipeline := make(Pipeline, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		chain, err := parseChain(node.Content[i+1], reg, deps)
		if err != nil {
			return nil, fmt.Errorf("process %s: %w", name, err)
		}
		pipeline = append(pipeline, Property{Name: name, Chain: chain})
	}

	return pipeline, nil
}

func parseChain(node *yaml.Node, reg *Registry, deps Deps) (Chain, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		cfg, err := plugin.ConfigFrom(GetID, map[string]string{"source": node.Value})
		if err != nil {
			return nil, err
		}
		step, err := buildStep(cfg, reg, deps)
		if err != nil {
			return nil, err
		}

		return Chain{step}, nil
	case yaml.MappingNode:
		return parseSteps(node, reg, deps)
	case yaml.SequenceNode:
		var chain Chain
		for _, item := range node.Content {
			if item.Kind != yaml.MappingNode {
				return nil, fmt.Errorf("line %d: every step must be a mapping", item.Line)
			}
			steps, err := parseSteps(item, reg, deps)
			if err != nil {
				return nil, err
			}
			chain = append(chain, steps...)
		}

		return chain, nil
	default:
		return nil, fmt.Errorf("line %d: unsupported process definition", node.Line)
	}
}

func parseSteps(node *yaml.Node, reg *Registry, deps Deps) (Chain, error) {
	var head struct {
		Plugin string    `yaml:"plugin"`
		Source yaml.Node `yaml:"source"`
	}
	if err := node.Decode(&head); err != nil {
		return nil, fmt.Errorf("line %d: %w", node.Line, err)
	}
	if head.Plugin == "" {
		head.Plugin = GetID
	}

	var chain Chain
	if head.Source.Kind != 0 && head.Plugin != GetID {
		step, err := buildStep(plugin.NewConfig(GetID, node), reg, deps)
		if err != nil {
			return nil, err
		}
		chain = append(chain, step)
	}
	step, err := buildStep(plugin.NewConfig(head.Plugin, node), reg, deps)
	if err != nil {
		return nil, err
	}

	return append(chain, step), nil
}

func buildStep(cfg plugin.Config, reg *Registry, deps Deps) (Step, error) {
	factory, err := reg.Lookup(cfg.ID)
	if err != nil {
		return Step{}, err
	}
	p, err := factory(cfg, deps)
	if err != nil {
		return Step{}, err
	}

	return Step{ID: cfg.ID, Plugin: p}, nil
}
