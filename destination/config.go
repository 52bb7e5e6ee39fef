package destination

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/contentmigrate/migrate-framework/plugin"
	"github.com/contentmigrate/migrate-framework/row"
)

// ConfigID is the id of the destination writing a named configuration object.
const ConfigID = "config"

// ConfigStore reads and writes named configuration objects.
type ConfigStore interface {
	// Read returns the object, or an empty map when it does not exist.
	Read(ctx context.Context, name string) (*row.OrderedMap, error)
	Write(ctx context.Context, name string, data *row.OrderedMap) error
	// Delete removes the object. Deleting a missing object succeeds.
	Delete(ctx context.Context, name string) error
}

// Config merges the destination properties of every row into one configuration object. Nested
// property names such as "page/front" address nested keys.
type Config struct {
	fields `yaml:",inline"`

	Name string `yaml:"config_name"`

	store ConfigStore
}

// NewConfig is the Factory of the config destination.
func NewConfig(cfg plugin.Config, deps Deps) (Plugin, error) {
	c := &Config{store: deps.Configs}
	if err := cfg.Decode(c); err != nil {
		return nil, err
	}
	if c.Name == "" {
		return nil, errors.New("config destination: config_name is required")
	}
	if c.store == nil {
		return nil, errors.New("config destination: no config store configured")
	}

	return c, nil
}

func (c *Config) IDs() []row.IDField {
	return []row.IDField{{Name: "config_name", Type: row.IDTypeString}}
}

func (c *Config) Import(ctx context.Context, r *row.Row, _ row.IDs) (row.IDs, error) {
	data, err := c.store.Read(ctx, c.Name)
	if err != nil {
		return nil, c.classify(err)
	}
	merged := row.Map(data)
	r.Destination().Range(func(k string, v row.Value) bool {
		merged = setNested(merged, strings.Split(k, row.PathSeparator), v)
		return true
	})
	if err := c.store.Write(ctx, c.Name, merged.Map()); err != nil {
		return nil, c.classify(err)
	}

	return row.IDs{row.String(c.Name)}, nil
}

func setNested(target row.Value, path []string, v row.Value) row.Value {
	m := row.NewOrderedMap()
	if target.IsMap() {
		m = target.Map()
	}
	if len(path) == 1 {
		m.Set(path[0], v)
		return row.Map(m)
	}
	child, _ := m.Get(path[0])
	m.Set(path[0], setNested(child, path[1:], v))

	return row.Map(m)
}

func (c *Config) RollbackImport(ctx context.Context, ids row.IDs) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.store.Delete(ctx, ids[0].String()); err != nil {
		return c.classify(err)
	}

	return nil
}

func (c *Config) classify(err error) error {
	var unavailable *UnavailableError
	if errors.As(err, &unavailable) {
		return err
	}

	return &WriteError{Destination: ConfigID, Err: err}
}

// MemoryConfigStore keeps configuration objects in memory.
type MemoryConfigStore struct {
	mu      sync.RWMutex
	objects map[string]*row.OrderedMap
}

var _ ConfigStore = &MemoryConfigStore{}

// NewMemoryConfigStore returns an empty store.
func NewMemoryConfigStore() *MemoryConfigStore {
	return &MemoryConfigStore{objects: make(map[string]*row.OrderedMap)}
}

func (s *MemoryConfigStore) Read(_ context.Context, name string) (*row.OrderedMap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if m, ok := s.objects[name]; ok {
		return m.Clone(), nil
	}

	return row.NewOrderedMap(), nil
}

func (s *MemoryConfigStore) Write(_ context.Context, name string, data *row.OrderedMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.objects[name] = data.Clone()

	return nil
}

func (s *MemoryConfigStore) Delete(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.objects, name)

	return nil
}

var configNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// TOMLConfigStore keeps every configuration object in <dir>/<name>.toml. TOML has no null, so
// null values are not written.
type TOMLConfigStore struct {
	dir string
	mu  sync.Mutex
}

var _ ConfigStore = &TOMLConfigStore{}

// NewTOMLConfigStore returns a store rooted at dir, which is created when missing.
func NewTOMLConfigStore(dir string) (*TOMLConfigStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &UnavailableError{Destination: ConfigID, Err: err}
	}

	return &TOMLConfigStore{dir: dir}, nil
}

func (s *TOMLConfigStore) path(name string) (string, error) {
	if !configNamePattern.MatchString(name) {
		return "", fmt.Errorf("invalid config name %q", name)
	}

	return filepath.Join(s.dir, name+".toml"), nil
}

func (s *TOMLConfigStore) Read(_ context.Context, name string) (*row.OrderedMap, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return row.NewOrderedMap(), nil
	}
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := toml.Unmarshal(b, &data); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", p, err)
	}

	return row.FromAny(data).Map(), nil
}

func (s *TOMLConfigStore) Write(_ context.Context, name string, data *row.OrderedMap) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	b, err := toml.Marshal(withoutNulls(row.Map(data)))
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}

	return os.Rename(tmp, p)
}

func (s *TOMLConfigStore) Delete(_ context.Context, name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return nil
}

// withoutNulls converts v to plain data, dropping null map entries and list elements.
func withoutNulls(v row.Value) any {
	switch {
	case v.IsMap():
		out := make(map[string]any, v.Map().Len())
		v.Map().Range(func(k string, item row.Value) bool {
			if !item.IsNull() {
				out[k] = withoutNulls(item)
			}

			return true
		})

		return out
	case v.IsList():
		out := make([]any, 0, len(v.List()))
		for _, item := range v.List() {
			if !item.IsNull() {
				out = append(out, withoutNulls(item))
			}
		}

		return out
	default:
		return v.Any()
	}
}
