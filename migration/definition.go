// Package migration binds a source, a process pipeline and a destination into a runnable
// migration. Definitions are loaded from YAML documents, built through the plugin registries
// and ordered by their declared dependencies.
package migration

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/contentmigrate/migrate-framework/plugin"
)

// DefaultVersion is the version of definitions that declare none.
const DefaultVersion = "1.0.0"

// Dependencies lists the migrations that have to run before a migration.
type Dependencies struct {
	// Required migrations must have completed successfully before the migration may run.
	Required []string `yaml:"required"`
	// Optional migrations only influence the order when they are part of the same run.
	Optional []string `yaml:"optional"`
}

// Definition is the declarative form of a migration.
type Definition struct {
	ID           string
	Label        string
	Version      *semver.Version
	Tags         []string
	Source       plugin.Config
	Process      *yaml.Node
	Destination  plugin.Config
	Dependencies Dependencies
}

type rawDefinition struct {
	ID           string       `yaml:"id"`
	Label        string       `yaml:"label"`
	Version      string       `yaml:"version"`
	Tags         []string     `yaml:"migration_tags"`
	Source       yaml.Node    `yaml:"source"`
	Process      yaml.Node    `yaml:"process"`
	Destination  yaml.Node    `yaml:"destination"`
	Dependencies Dependencies `yaml:"migration_dependencies"`
}

// UnmarshalYAML decodes a migration definition document.
func (d *Definition) UnmarshalYAML(node *yaml.Node) error {
	var raw rawDefinition
	if err := node.Decode(&raw); err != nil {
		return err
	}

	def := Definition{
		ID:           raw.ID,
		Label:        raw.Label,
		Tags:         raw.Tags,
		Dependencies: raw.Dependencies,
	}
	if def.ID == "" {
		return errors.New("migration id is required")
	}

	version := raw.Version
	if version == "" {
		version = DefaultVersion
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("migration %s: invalid version %q: %w", def.ID, version, err)
	}
	def.Version = v

	if def.Source, err = pluginConfig(&raw.Source); err != nil {
		return fmt.Errorf("migration %s: source: %w", def.ID, err)
	}
	if def.Destination, err = pluginConfig(&raw.Destination); err != nil {
		return fmt.Errorf("migration %s: destination: %w", def.ID, err)
	}
	if raw.Process.Kind != 0 {
		def.Process = &raw.Process
	}
	if slices.Contains(def.Dependencies.Required, def.ID) || slices.Contains(def.Dependencies.Optional, def.ID) {
		return fmt.Errorf("migration %s depends on itself", def.ID)
	}

	*d = def

	return nil
}

// pluginConfig reads the plugin id from the "plugin" key of a configuration mapping.
func pluginConfig(node *yaml.Node) (plugin.Config, error) {
	if node.Kind != yaml.MappingNode {
		return plugin.Config{}, errors.New("expected a mapping with a plugin key")
	}
	var head struct {
		Plugin string `yaml:"plugin"`
	}
	if err := node.Decode(&head); err != nil {
		return plugin.Config{}, err
	}
	if head.Plugin == "" {
		return plugin.Config{}, errors.New("plugin is required")
	}

	return plugin.NewConfig(head.Plugin, node), nil
}

// HasTag reports whether the definition carries tag.
func (d Definition) HasTag(tag string) bool {
	return slices.Contains(d.Tags, tag)
}

// Parse decodes one definition from YAML.
func Parse(data []byte) (Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return Definition{}, fmt.Errorf("failed to unmarshal migration YAML: %w", err)
	}

	return def, nil
}

// LoadFile reads one definition file.
func LoadFile(path string) (Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, fmt.Errorf("failed to read migration file: %w", err)
	}
	def, err := Parse(data)
	if err != nil {
		return Definition{}, fmt.Errorf("%s: %w", path, err)
	}

	return def, nil
}

// LoadDir reads every .yml and .yaml file of dir, sorted by id. Ids must be unique.
func LoadDir(dir string) ([]Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var defs []Definition
	seen := make(map[string]string)
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yml" && ext != ".yaml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		def, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[def.ID]; ok {
			return nil, fmt.Errorf("migration %s is defined in both %s and %s", def.ID, prev, path)
		}
		seen[def.ID] = path
		defs = append(defs, def)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })

	return defs, nil
}
