// Package collection keeps sets of configuration items (from YAML or from
// editable storage) and tells listeners when items are added, updated or
// removed.
package collection

import (
	"errors"
	"reflect"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ChangeType describes what happened to an item.
type ChangeType string

const (
	ChangeAdded   ChangeType = "added"
	ChangeUpdated ChangeType = "updated"
	ChangeRemoved ChangeType = "removed"
)

// IDKey is the item field holding its id.
const IDKey = "id"

// Item is one configuration record.
type Item map[string]interface{}

// ID returns the item's id, or "" if it has none.
func (i Item) ID() string {
	id, _ := i[IDKey].(string)
	return id
}

// Clone returns a shallow copy of the item.
func (i Item) Clone() Item {
	out := make(Item, len(i))
	for k, v := range i {
		out[k] = v
	}
	return out
}

// Listener is told about every change, in order.
type Listener func(change ChangeType, itemID string, item Item)

var (
	// ErrNotFound is returned for operations on an unknown item id.
	ErrNotFound = errors.New("item not found")
	// ErrInvalid is matched by errors rejecting the data of an item.
	ErrInvalid = errors.New("invalid item")
)

// Observable is a named set of items with change listeners.
type Observable struct {
	name   string
	logger *zap.Logger

	mu        sync.RWMutex
	items     map[string]Item
	listeners []Listener
}

func (o *Observable) init(name string, logger *zap.Logger) {
	o.name = name
	o.logger = logger.Named("collection").With(zap.String("collection", name))
	o.items = make(map[string]Item)
}

// Name identifies the collection.
func (o *Observable) Name() string { return o.name }

// AddListener registers l. Listeners run in registration order.
func (o *Observable) AddListener(l Listener) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.listeners = append(o.listeners, l)
}

// List returns copies of all items, sorted by id.
func (o *Observable) List() []Item {
	o.mu.RLock()
	defer o.mu.RUnlock()

	ids := make([]string, 0, len(o.items))
	for id := range o.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Item, 0, len(ids))
	for _, id := range ids {
		out = append(out, o.items[id].Clone())
	}
	return out
}

// Get returns a copy of the item with the given id.
func (o *Observable) Get(id string) (Item, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	item, ok := o.items[id]
	if !ok {
		return nil, false
	}
	return item.Clone(), true
}

func (o *Observable) has(id string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.items[id]
	return ok
}

func (o *Observable) notify(change ChangeType, id string, item Item) {
	o.mu.RLock()
	listeners := make([]Listener, len(o.listeners))
	copy(listeners, o.listeners)
	o.mu.RUnlock()

	o.logger.Debug("Collection changed", zap.String("change", string(change)), zap.String("id", id))
	for _, l := range listeners {
		l(change, id, item.Clone())
	}
}

// YAML is a read-only collection loaded from the configuration file.
type YAML struct {
	Observable
}

func NewYAML(name string, logger *zap.Logger) *YAML {
	y := &YAML{}
	y.init(name, logger)
	return y
}

// Load replaces the items and notifies the differences. Items without an
// id are skipped.
func (y *YAML) Load(items []Item) {
	next := make(map[string]Item, len(items))
	var order []string
	for _, item := range items {
		id := item.ID()
		if id == "" {
			y.logger.Warn("Skipping item without id")
			continue
		}
		if _, dup := next[id]; dup {
			y.logger.Warn("Skipping duplicate item", zap.String("id", id))
			continue
		}
		next[id] = item.Clone()
		order = append(order, id)
	}

	y.mu.Lock()
	prev := y.items
	y.items = next
	y.mu.Unlock()

	var removed []string
	for id := range prev {
		if _, ok := next[id]; !ok {
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	for _, id := range removed {
		y.notify(ChangeRemoved, id, prev[id])
	}

	for _, id := range order {
		old, existed := prev[id]
		switch {
		case !existed:
			y.notify(ChangeAdded, id, next[id])
		case !reflect.DeepEqual(old, next[id]):
			y.notify(ChangeUpdated, id, next[id])
		}
	}
}
