// Package template implements template binary sensors: entities whose state
// is computed from a Home Assistant template, configured in
// configuration.yaml or through the storage API.
package template

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ZephireNZ/home-assistant-core/internal/binarysensor"
	"github.com/ZephireNZ/home-assistant-core/internal/collection"
	"github.com/ZephireNZ/home-assistant-core/internal/loop"

	"go.uber.org/zap"
)

const (
	// Name is the integration name.
	Name = "template"

	// StorageKey names the storage file of editable sensors.
	StorageKey = "template.binary_sensor"

	// EventTemplateReloaded is fired on Home Assistant after a reload.
	EventTemplateReloaded = "event_template_reloaded"

	CollectionStorage = "storage"
	CollectionYAML    = "yaml"
)

// EventFirer fires events on the Home Assistant bus.
type EventFirer interface {
	FireEvent(eventType string, data map[string]interface{}) error
}

// Options configures an Integration.
type Options struct {
	Caller  loop.Caller
	Deps    binarysensor.Deps
	Store   collection.Store
	Sensors func() (map[string]map[string]interface{}, error)
	Events  EventFirer
	Logger  *zap.Logger

	// ReadOnly suppresses events fired on Home Assistant.
	ReadOnly bool
}

// Integration owns the template binary sensors from both collections.
type Integration struct {
	caller   loop.Caller
	deps     binarysensor.Deps
	sensors  func() (map[string]map[string]interface{}, error)
	events   EventFirer
	readOnly bool
	logger   *zap.Logger

	schema    *Schema
	component *collection.EntityComponent
	storage   *collection.Storage
	yaml      *collection.YAML
	registry  *Registry
}

// New wires the collections, the entity component and the registry.
func New(opts Options) *Integration {
	logger := opts.Logger.Named(Name)
	i := &Integration{
		caller:   opts.Caller,
		deps:     opts.Deps,
		sensors:  opts.Sensors,
		events:   opts.Events,
		readOnly: opts.ReadOnly,
		logger:   logger,
		schema:   NewSchema(logger),
		registry: NewRegistry(logger),
	}
	i.component = collection.NewEntityComponent(logger)

	i.storage = collection.NewStorage(CollectionStorage, opts.Store, storageProcessor{i.schema}, logger)
	i.component.Attach(&i.storage.Observable, i.sensorFactory(true))
	i.registry.Attach(&i.storage.Observable, i.resolver(CollectionStorage))

	i.yaml = collection.NewYAML(CollectionYAML, logger)
	i.component.Attach(&i.yaml.Observable, i.sensorFactory(false))
	i.registry.Attach(&i.yaml.Observable, i.resolver(CollectionYAML))

	return i
}

func (i *Integration) resolver(collectionName string) func(string) (string, bool) {
	return func(itemID string) (string, bool) {
		return i.component.EntityID(collectionName, itemID)
	}
}

// Name implements plugin.Integration.
func (i *Integration) Name() string { return Name }

// Start loads the stored sensors, then the ones from configuration.yaml.
func (i *Integration) Start(ctx context.Context) error {
	items, err := i.yamlItems()
	if err != nil {
		return err
	}

	var loadErr error
	if err := i.caller.Call(ctx, func() {
		if loadErr = i.storage.Load(ctx); loadErr != nil {
			return
		}
		i.yaml.Load(items)
	}); err != nil {
		return err
	}
	if loadErr != nil {
		return loadErr
	}

	i.logger.Info("Template binary sensors started", zap.Int("entities", len(i.registry.List())))
	return nil
}

// Stop stops every sensor.
func (i *Integration) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := i.caller.Call(ctx, i.component.StopAll)
	if errors.Is(err, loop.ErrStopped) {
		i.component.StopAll()
	} else if err != nil {
		i.logger.Warn("Failed to stop template sensors", zap.Error(err))
	}
}

// Reload re-reads configuration.yaml and applies the YAML sensors. Invalid
// configuration is rejected and the current sensors are kept.
func (i *Integration) Reload(ctx context.Context) error {
	items, err := i.yamlItems()
	if err != nil {
		i.logger.Error("Not reloading, configuration is invalid", zap.Error(err))
		return err
	}

	if err := i.caller.Call(ctx, func() { i.yaml.Load(items) }); err != nil {
		return err
	}

	i.logger.Info("Template configuration reloaded", zap.Int("yaml_sensors", len(items)))
	if i.readOnly {
		i.logger.Info("READ-ONLY: Would fire event", zap.String("event_type", EventTemplateReloaded))
		return nil
	}
	if i.events != nil {
		if err := i.events.FireEvent(EventTemplateReloaded, map[string]interface{}{}); err != nil {
			i.logger.Warn("Failed to fire reload event", zap.Error(err))
		}
	}
	return nil
}

func (i *Integration) yamlItems() ([]collection.Item, error) {
	if i.sensors == nil {
		return nil, nil
	}
	sensors, err := i.sensors()
	if err != nil {
		return nil, fmt.Errorf("read template configuration: %w: %w", collection.ErrInvalid, err)
	}
	items, err := i.schema.YAMLItems(sensors)
	if err != nil {
		return nil, fmt.Errorf("invalid template configuration: %w", err)
	}
	return items, nil
}

// List returns the entity ids of every template entity.
func (i *Integration) List() []string {
	return i.registry.List()
}

// Items returns the editable sensors.
func (i *Integration) Items(ctx context.Context) ([]collection.Item, error) {
	var items []collection.Item
	err := i.caller.Call(ctx, func() { items = i.storage.List() })
	return items, err
}

// Create adds an editable sensor.
func (i *Integration) Create(ctx context.Context, data collection.Item) (collection.Item, error) {
	var (
		item collection.Item
		cerr error
	)
	if err := i.caller.Call(ctx, func() { item, cerr = i.storage.Create(ctx, data) }); err != nil {
		return nil, err
	}
	return item, cerr
}

// Update changes an editable sensor.
func (i *Integration) Update(ctx context.Context, id string, data collection.Item) (collection.Item, error) {
	var (
		item collection.Item
		uerr error
	)
	if err := i.caller.Call(ctx, func() { item, uerr = i.storage.Update(ctx, id, data) }); err != nil {
		return nil, err
	}
	return item, uerr
}

// Delete removes an editable sensor.
func (i *Integration) Delete(ctx context.Context, id string) error {
	var derr error
	if err := i.caller.Call(ctx, func() { derr = i.storage.Delete(ctx, id) }); err != nil {
		return err
	}
	return derr
}

type storageProcessor struct {
	schema *Schema
}

func (p storageProcessor) ProcessCreate(data collection.Item) (collection.Item, error) {
	return p.schema.ValidateCreate(data)
}

func (p storageProcessor) ProcessUpdate(current, update collection.Item) (collection.Item, error) {
	return p.schema.ValidateUpdate(current, update)
}

func (p storageProcessor) SuggestedID(data collection.Item) string {
	name, _ := data[ConfFriendlyName].(string)
	return name
}
