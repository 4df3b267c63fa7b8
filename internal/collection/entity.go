package collection

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Entity is an entity managed on behalf of a collection item.
type Entity interface {
	EntityID() string
	Start()
	Update(item Item) error
	Stop()
	Remove()
}

// Factory creates the entity for a new item.
type Factory func(itemID string, item Item) (Entity, error)

// EntityComponent owns the entities created for one or more collections.
type EntityComponent struct {
	logger *zap.Logger

	mu       sync.RWMutex
	entities map[string]Entity
}

func NewEntityComponent(logger *zap.Logger) *EntityComponent {
	return &EntityComponent{
		logger:   logger.Named("entity_component"),
		entities: make(map[string]Entity),
	}
}

func componentKey(collection, itemID string) string {
	return collection + "/" + itemID
}

// Attach creates, updates and removes entities as coll changes.
func (c *EntityComponent) Attach(coll *Observable, factory Factory) {
	name := coll.Name()
	coll.AddListener(func(change ChangeType, itemID string, item Item) {
		key := componentKey(name, itemID)
		logger := c.logger.With(zap.String("collection", name), zap.String("id", itemID))

		switch change {
		case ChangeAdded:
			entity, err := factory(itemID, item)
			if err != nil {
				logger.Error("Failed to create entity", zap.Error(err))
				return
			}
			c.mu.Lock()
			c.entities[key] = entity
			c.mu.Unlock()
			entity.Start()
			logger.Info("Entity added", zap.String("entity_id", entity.EntityID()))

		case ChangeUpdated:
			entity, ok := c.get(key)
			if !ok {
				logger.Warn("Update for unknown entity")
				return
			}
			if err := entity.Update(item); err != nil {
				logger.Error("Failed to update entity", zap.Error(err))
			}

		case ChangeRemoved:
			c.mu.Lock()
			entity, ok := c.entities[key]
			delete(c.entities, key)
			c.mu.Unlock()
			if !ok {
				return
			}
			entity.Remove()
			logger.Info("Entity removed", zap.String("entity_id", entity.EntityID()))
		}
	})
}

func (c *EntityComponent) get(key string) (Entity, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entities[key]
	return e, ok
}

// EntityID returns the entity id of an item's entity.
func (c *EntityComponent) EntityID(collection, itemID string) (string, bool) {
	e, ok := c.get(componentKey(collection, itemID))
	if !ok {
		return "", false
	}
	return e.EntityID(), true
}

// InUse reports whether any entity currently has entityID.
func (c *EntityComponent) InUse(entityID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entities {
		if e.EntityID() == entityID {
			return true
		}
	}
	return false
}

// EntityIDs returns the sorted entity ids of every entity.
func (c *EntityComponent) EntityIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.entities))
	for _, e := range c.entities {
		ids = append(ids, e.EntityID())
	}
	sort.Strings(ids)
	return ids
}

// StopAll stops every entity without removing it from Home Assistant.
func (c *EntityComponent) StopAll() {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, e := range c.entities {
		e.Stop()
	}
}
