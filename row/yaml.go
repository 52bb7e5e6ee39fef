package row

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// FromYAML converts a decoded YAML node into a Value. Mapping order is preserved, which plain
// yaml.Unmarshal into map[string]any would lose.
func FromYAML(node *yaml.Node) (Value, error) {
	if node == nil {
		return Null(), nil
	}
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) == 0 {
			return Null(), nil
		}

		return FromYAML(node.Content[0])
	case yaml.AliasNode:
		return FromYAML(node.Alias)
	case yaml.MappingNode:
		m := NewOrderedMap()
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i]
			if key.Kind != yaml.ScalarNode {
				return Null(), fmt.Errorf("line %d: mapping keys must be scalars", key.Line)
			}
			if key.Tag == "!!merge" {
				merged, err := FromYAML(node.Content[i+1])
				if err != nil {
					return Null(), err
				}
				merged.Map().Range(func(k string, v Value) bool {
					if !m.Has(k) {
						m.Set(k, v)
					}

					return true
				})

				continue
			}
			v, err := FromYAML(node.Content[i+1])
			if err != nil {
				return Null(), err
			}
			m.Set(key.Value, v)
		}

		return Map(m), nil
	case yaml.SequenceNode:
		list := make([]Value, 0, len(node.Content))
		for _, item := range node.Content {
			v, err := FromYAML(item)
			if err != nil {
				return Null(), err
			}
			list = append(list, v)
		}

		return List(list...), nil
	case yaml.ScalarNode:
		var raw any
		if err := node.Decode(&raw); err != nil {
			return Null(), fmt.Errorf("line %d: %w", node.Line, err)
		}

		return FromAny(raw), nil
	}

	return Null(), fmt.Errorf("line %d: unsupported yaml node kind %d", node.Line, node.Kind)
}
