package plugin

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"

	"go.uber.org/multierr"
)

// Priority constants for registration. When two integrations register the
// same name, the higher priority wins.
const (
	PriorityDefault  = 0
	PriorityOverride = 100
)

// Info describes a registered integration.
type Info struct {
	// Name is the unique identifier, also the configuration.yaml key.
	Name string

	// Description is a human-readable description.
	Description string

	// Priority decides which registration wins for a duplicated name.
	Priority int

	// Factory creates new instances.
	Factory Factory

	// Order is the startup order; lower values start first. Default is 50.
	Order int
}

// Registry manages integration registration and instantiation.
type Registry struct {
	mu           sync.RWMutex
	integrations map[string]Info
	order        []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		integrations: make(map[string]Info),
	}
}

// Register adds an integration to the registry.
// If one with the same name already exists, the one with higher priority
// wins. If priorities are equal, the later registration wins.
func (r *Registry) Register(info Info) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info.Name == "" {
		return fmt.Errorf("integration name cannot be empty")
	}
	if info.Factory == nil {
		return fmt.Errorf("integration %s: factory cannot be nil", info.Name)
	}
	if info.Order == 0 {
		info.Order = 50
	}

	existing, exists := r.integrations[info.Name]
	if exists {
		if info.Priority < existing.Priority {
			log.Printf("Integration %q registration skipped (priority %d < existing %d)",
				info.Name, info.Priority, existing.Priority)
			return nil
		}
		log.Printf("Integration %q being overridden (priority %d -> %d)",
			info.Name, existing.Priority, info.Priority)
	}

	r.integrations[info.Name] = info
	if !exists {
		r.order = append(r.order, info.Name)
	}
	return nil
}

// Get returns the info for a given name, or nil if not found.
func (r *Registry) Get(name string) *Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.integrations[name]
	if !ok {
		return nil
	}
	return &info
}

// List returns all registered integrations sorted by startup order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Info, 0, len(r.integrations))
	for _, name := range r.order {
		result = append(result, r.integrations[name])
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Order != result[j].Order {
			return result[i].Order < result[j].Order
		}
		return result[i].Name < result[j].Name
	})
	return result
}

// CreateAll instantiates every registered integration in order. On error
// the ones already created are stopped in reverse order.
func (r *Registry) CreateAll(ctx *Context) ([]Integration, error) {
	infos := r.List()
	result := make([]Integration, 0, len(infos))

	for _, info := range infos {
		integration, err := info.Factory(ctx)
		if err != nil {
			StopAll(result)
			return nil, fmt.Errorf("failed to create integration %s: %w", info.Name, err)
		}
		result = append(result, integration)
	}
	return result, nil
}

// StartAll starts the integrations in order. On error the ones already
// started are stopped in reverse order.
func StartAll(ctx context.Context, integrations []Integration) error {
	for i, integration := range integrations {
		if err := integration.Start(ctx); err != nil {
			StopAll(integrations[:i])
			return fmt.Errorf("failed to start integration %s: %w", integration.Name(), err)
		}
	}
	return nil
}

// StopAll stops the integrations in reverse order.
func StopAll(integrations []Integration) {
	for i := len(integrations) - 1; i >= 0; i-- {
		integrations[i].Stop()
	}
}

// ReloadAll reloads every integration implementing Reloadable.
func ReloadAll(ctx context.Context, integrations []Integration) error {
	var err error
	for _, integration := range integrations {
		if r, ok := integration.(Reloadable); ok {
			if rerr := r.Reload(ctx); rerr != nil {
				err = multierr.Append(err, fmt.Errorf("reload %s: %w", integration.Name(), rerr))
			}
		}
	}
	return err
}

// Names returns the names of all registered integrations.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, len(r.order))
	copy(result, r.order)
	return result
}

// Clear removes all registrations. Useful for testing.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.integrations = make(map[string]Info)
	r.order = nil
}

var globalRegistry = NewRegistry()

// Register adds an integration to the global registry.
// This is typically called from init() functions.
func Register(info Info) error {
	return globalRegistry.Register(info)
}

// Get returns info from the global registry.
func Get(name string) *Info {
	return globalRegistry.Get(name)
}

// List returns all integrations from the global registry.
func List() []Info {
	return globalRegistry.List()
}

// CreateAll instantiates every integration of the global registry.
func CreateAll(ctx *Context) ([]Integration, error) {
	return globalRegistry.CreateAll(ctx)
}

// Names returns the names from the global registry.
func Names() []string {
	return globalRegistry.Names()
}

// ClearGlobal removes all registrations from the global registry. Useful for testing.
func ClearGlobal() {
	globalRegistry.Clear()
}
