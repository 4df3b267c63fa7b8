package template

import (
	"sort"
	"sync"

	"github.com/ZephireNZ/home-assistant-core/internal/collection"
	"github.com/ZephireNZ/home-assistant-core/internal/metrics"

	"github.com/clambin/go-common/set"
	"go.uber.org/zap"
)

// Registry tracks the entity ids of every template entity.
type Registry struct {
	logger *zap.Logger

	mu  sync.RWMutex
	ids set.Set[string]
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger: logger,
		ids:    set.Create[string](),
	}
}

// Add records entityID. Adding an id twice has no effect.
func (r *Registry) Add(entityID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids.Add(entityID)
	metrics.TemplateEntities.Set(float64(len(r.ids)))
}

// Remove forgets entityID. Removing an unknown id is a no-op.
func (r *Registry) Remove(entityID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ids.Contains(entityID) {
		r.logger.Debug("Ignoring removal of unknown template entity", zap.String("entity_id", entityID))
		return
	}
	r.ids.Remove(entityID)
	metrics.TemplateEntities.Set(float64(len(r.ids)))
}

// List returns the sorted entity ids.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := r.ids.List()
	sort.Strings(ids)
	return ids
}

// Attach keeps the registry in sync with coll. resolve maps an item id to
// its entity id; it must be attached after the entity component so the
// entity already exists. Updates are ignored.
func (r *Registry) Attach(coll *collection.Observable, resolve func(itemID string) (string, bool)) {
	entityIDs := make(map[string]string)
	coll.AddListener(func(change collection.ChangeType, itemID string, _ collection.Item) {
		switch change {
		case collection.ChangeAdded:
			entityID, ok := resolve(itemID)
			if !ok {
				r.logger.Debug("No entity for item", zap.String("id", itemID))
				return
			}
			entityIDs[itemID] = entityID
			r.Add(entityID)
		case collection.ChangeRemoved:
			entityID, ok := entityIDs[itemID]
			if !ok {
				return
			}
			delete(entityIDs, itemID)
			r.Remove(entityID)
		}
	})
}
