// Package plugin holds what the source, process and destination plugin families share: the raw
// configuration a plugin is built from and a static registry mapping plugin ids to factories.
package plugin

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// DerivativeSeparator splits a derivative plugin id such as "entity:user" into the base id
// and the derivative.
const DerivativeSeparator = ":"

// Config is the configuration of one plugin instance as written in a migration definition.
// It keeps the YAML node so that each plugin decodes it into its own typed struct.
type Config struct {
	ID   string
	node *yaml.Node
}

// NewConfig wraps a YAML mapping node. A nil node stands for an empty configuration.
func NewConfig(id string, node *yaml.Node) Config {
	return Config{ID: id, node: node}
}

// ConfigFrom builds a Config by encoding v, typically a map or a struct, into a YAML node.
func ConfigFrom(id string, v any) (Config, error) {
	if v == nil {
		return Config{ID: id}, nil
	}
	var node yaml.Node
	if err := node.Encode(v); err != nil {
		return Config{}, fmt.Errorf("failed to encode %s plugin configuration: %w", id, err)
	}

	return Config{ID: id, node: &node}, nil
}

// MustConfig is like ConfigFrom but panics on error.
func MustConfig(id string, v any) Config {
	c, err := ConfigFrom(id, v)
	if err != nil {
		panic(err)
	}

	return c
}

// Decode decodes the configuration into v. Unknown keys are ignored.
func (c Config) Decode(v any) error {
	if c.node == nil {
		return nil
	}
	if err := c.node.Decode(v); err != nil {
		return fmt.Errorf("invalid %s plugin configuration: %w", c.ID, err)
	}

	return nil
}

// Node returns the underlying YAML node, or nil for an empty configuration.
func (c Config) Node() *yaml.Node { return c.node }

// Base returns the id without its derivative, "entity" for "entity:user".
func (c Config) Base() string {
	base, _, _ := strings.Cut(c.ID, DerivativeSeparator)
	return base
}

// Derivative returns the part after the separator, "user" for "entity:user".
func (c Config) Derivative() string {
	_, d, _ := strings.Cut(c.ID, DerivativeSeparator)
	return d
}

// Field names and describes a property offered by a source or accepted by a destination.
type Field struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}
