package collection

import (
	"context"
	"errors"
	"fmt"

	"github.com/ZephireNZ/home-assistant-core/internal/slug"

	"go.uber.org/zap"
)

// Processor validates the data handed to a storage collection.
type Processor interface {
	// ProcessCreate validates the data of a new item.
	ProcessCreate(data Item) (Item, error)

	// ProcessUpdate validates update and merges it onto current.
	ProcessUpdate(current, update Item) (Item, error)

	// SuggestedID proposes a name to derive the new item's id from.
	SuggestedID(data Item) string
}

// Storage is an editable collection persisted in a Store.
type Storage struct {
	Observable
	store     Store
	processor Processor
}

func NewStorage(name string, store Store, processor Processor, logger *zap.Logger) *Storage {
	s := &Storage{store: store, processor: processor}
	s.init(name, logger)
	return s
}

// Load reads the stored items and announces each as added.
func (s *Storage) Load(ctx context.Context) error {
	items, err := s.store.Load(ctx)
	if errors.Is(err, ErrNotFound) {
		s.logger.Debug("No stored items")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", s.name, err)
	}

	var loaded []Item
	s.mu.Lock()
	for _, item := range items {
		id := item.ID()
		if id == "" {
			s.logger.Warn("Skipping stored item without id")
			continue
		}
		s.items[id] = item
		loaded = append(loaded, item)
	}
	s.mu.Unlock()

	for _, item := range loaded {
		s.notify(ChangeAdded, item.ID(), item)
	}
	return nil
}

// Create validates data, assigns an id, persists and announces the item.
func (s *Storage) Create(ctx context.Context, data Item) (Item, error) {
	item, err := s.processor.ProcessCreate(data)
	if err != nil {
		return nil, err
	}

	id := slug.Unique(slug.Make(s.processor.SuggestedID(item)), s.has)
	item = item.Clone()
	item[IDKey] = id

	s.mu.Lock()
	s.items[id] = item
	s.mu.Unlock()

	if err = s.save(ctx); err != nil {
		s.mu.Lock()
		delete(s.items, id)
		s.mu.Unlock()
		return nil, err
	}

	s.notify(ChangeAdded, id, item)
	return item.Clone(), nil
}

// Update validates and merges data onto the item with the given id.
func (s *Storage) Update(ctx context.Context, id string, data Item) (Item, error) {
	current, ok := s.Get(id)
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}

	if newID := data.ID(); newID != "" && newID != id {
		return nil, fmt.Errorf("%w: cannot change id of %s", ErrInvalid, id)
	}

	updated, err := s.processor.ProcessUpdate(current, data)
	if err != nil {
		return nil, err
	}
	updated = updated.Clone()
	updated[IDKey] = id

	s.mu.Lock()
	s.items[id] = updated
	s.mu.Unlock()

	if err = s.save(ctx); err != nil {
		s.mu.Lock()
		s.items[id] = current
		s.mu.Unlock()
		return nil, err
	}

	s.notify(ChangeUpdated, id, updated)
	return updated.Clone(), nil
}

// Delete removes the item with the given id.
func (s *Storage) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	item, ok := s.items[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	delete(s.items, id)
	s.mu.Unlock()

	if err := s.save(ctx); err != nil {
		s.mu.Lock()
		s.items[id] = item
		s.mu.Unlock()
		return err
	}

	s.notify(ChangeRemoved, id, item)
	return nil
}

func (s *Storage) save(ctx context.Context) error {
	if err := s.store.Save(ctx, s.List()); err != nil {
		return fmt.Errorf("save %s: %w", s.name, err)
	}
	return nil
}
