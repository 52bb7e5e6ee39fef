package destination

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/contentmigrate/migrate-framework/plugin"
	"github.com/contentmigrate/migrate-framework/row"
)

// EntityID is the base id of the entity destination; the entity type is the derivative, as
// in "entity:user".
const EntityID = "entity"

// ErrEntityNotFound is returned by EntityStore.Load for unknown entities.
var ErrEntityNotFound = errors.New("entity not found")

// EntityStore creates, updates and deletes entities of a type given their property map.
type EntityStore interface {
	// Save stores props. A null id creates a new entity and the assigned id is returned.
	Save(ctx context.Context, entityType string, id row.Value, props *row.OrderedMap) (row.Value, error)
	// Load returns the properties of an entity.
	Load(ctx context.Context, entityType string, id row.Value) (*row.OrderedMap, error)
	// Delete removes an entity. Deleting a missing entity succeeds.
	Delete(ctx context.Context, entityType string, id row.Value) error
}

// Entity writes rows as entities of one type.
type Entity struct {
	fields `yaml:",inline"`

	entityType string
	// IDKey is the destination property holding a preset entity id.
	IDKey string `yaml:"id_key"`
	// DefaultBundle is stored under "type" when the row sets no bundle.
	DefaultBundle string `yaml:"default_bundle"`
	// OverwriteProperties limits updates of existing entities to these properties.
	OverwriteProperties []string `yaml:"overwrite_properties"`

	store EntityStore
}

// NewEntity is the Factory of the entity destination.
func NewEntity(cfg plugin.Config, deps Deps) (Plugin, error) {
	e := &Entity{entityType: cfg.Derivative(), IDKey: "id", store: deps.Entities}
	if err := cfg.Decode(e); err != nil {
		return nil, err
	}
	if e.entityType == "" {
		return nil, fmt.Errorf("entity destination: %q names no entity type", cfg.ID)
	}
	if e.store == nil {
		return nil, errors.New("entity destination: no entity store configured")
	}

	return e, nil
}

// EntityType returns the type of the written entities.
func (e *Entity) EntityType() string { return e.entityType }

func (e *Entity) IDs() []row.IDField {
	return []row.IDField{{Name: e.IDKey, Type: row.IDTypeInteger}}
}

func (e *Entity) Import(ctx context.Context, r *row.Row, existing row.IDs) (row.IDs, error) {
	props := r.Destination()
	if e.DefaultBundle != "" && !props.Has("type") {
		props.Set("type", row.String(e.DefaultBundle))
	}

	id := row.Null()
	if v, ok := props.Get(e.IDKey); ok && !v.IsNull() {
		id = v
	}
	if len(existing) > 0 {
		id = existing[0]
		if len(e.OverwriteProperties) > 0 {
			merged, err := e.overwrite(ctx, id, props)
			if err != nil {
				return nil, err
			}
			props = merged
		}
	}
	props.Delete(e.IDKey)

	saved, err := e.store.Save(ctx, e.entityType, id, props)
	if err != nil {
		return nil, e.classify(err)
	}

	return row.IDs{saved}, nil
}

// overwrite starts from the stored entity and copies only the overwrite properties.
func (e *Entity) overwrite(ctx context.Context, id row.Value, props *row.OrderedMap) (*row.OrderedMap, error) {
	current, err := e.store.Load(ctx, e.entityType, id)
	if errors.Is(err, ErrEntityNotFound) {
		return props, nil
	}
	if err != nil {
		return nil, e.classify(err)
	}
	for _, name := range e.OverwriteProperties {
		if v, ok := props.Get(name); ok {
			current.Set(name, v)
		} else {
			current.Delete(name)
		}
	}

	return current, nil
}

func (e *Entity) RollbackImport(ctx context.Context, ids row.IDs) error {
	if len(ids) == 0 {
		return nil
	}
	if err := e.store.Delete(ctx, e.entityType, ids[0]); err != nil {
		return e.classify(err)
	}

	return nil
}

func (e *Entity) classify(err error) error {
	var unavailable *UnavailableError
	if errors.As(err, &unavailable) {
		return err
	}

	return &WriteError{Destination: EntityID + plugin.DerivativeSeparator + e.entityType, Err: err}
}

// MemoryEntityStore keeps entities in memory and assigns increasing integer ids per type.
type MemoryEntityStore struct {
	mu       sync.RWMutex
	entities map[string]map[string]*row.OrderedMap
	nextID   map[string]int64
}

var _ EntityStore = &MemoryEntityStore{}

// NewMemoryEntityStore returns an empty store.
func NewMemoryEntityStore() *MemoryEntityStore {
	return &MemoryEntityStore{
		entities: make(map[string]map[string]*row.OrderedMap),
		nextID:   make(map[string]int64),
	}
}

func (s *MemoryEntityStore) Save(_ context.Context, entityType string, id row.Value, props *row.OrderedMap) (row.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byID, ok := s.entities[entityType]
	if !ok {
		byID = make(map[string]*row.OrderedMap)
		s.entities[entityType] = byID
	}
	if id.IsNull() {
		s.nextID[entityType]++
		id = row.Int(s.nextID[entityType])
	} else if n, ok := id.AsInt(); ok && id.Kind() == row.KindInt && n > s.nextID[entityType] {
		s.nextID[entityType] = n
	}
	byID[id.String()] = props.Clone()

	return id, nil
}

func (s *MemoryEntityStore) Load(_ context.Context, entityType string, id row.Value) (*row.OrderedMap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	props, ok := s.entities[entityType][id.String()]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", entityType, id.String(), ErrEntityNotFound)
	}

	return props.Clone(), nil
}

func (s *MemoryEntityStore) Delete(_ context.Context, entityType string, id row.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entities[entityType], id.String())

	return nil
}

// Count returns the number of stored entities of a type.
func (s *MemoryEntityStore) Count(entityType string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entities[entityType])
}
