package template

import (
	"github.com/ZephireNZ/home-assistant-core/internal/binarysensor"
	"github.com/ZephireNZ/home-assistant-core/internal/collection"
	"github.com/ZephireNZ/home-assistant-core/internal/slug"
	"github.com/ZephireNZ/home-assistant-core/internal/templating"
)

// ToSensorConfig converts a validated configuration to a binary sensor config.
func (c SensorConfig) ToSensorConfig(editable bool) binarysensor.Config {
	return binarysensor.Config{
		ID:            c.ID,
		UniqueID:      c.UniqueID,
		Name:          c.FriendlyName,
		DeviceClass:   c.DeviceClass,
		ValueTemplate: c.ValueTemplate,
		Templates: templating.EntityTemplates{
			Availability: c.AvailabilityTemplate,
			Icon:         c.IconTemplate,
			Picture:      c.EntityPictureTemplate,
			Attributes:   c.AttributeTemplates,
		},
		DelayOn:  c.DelayOn,
		DelayOff: c.DelayOff,
		Editable: editable,
	}
}

// sensorEntity adapts a binary sensor to the entity component.
type sensorEntity struct {
	sensor   *binarysensor.Sensor
	schema   *Schema
	editable bool
	inUse    func(string) bool
}

func (e *sensorEntity) EntityID() string { return e.sensor.EntityID() }
func (e *sensorEntity) Start()           { e.sensor.Start() }
func (e *sensorEntity) Stop()            { e.sensor.Stop() }
func (e *sensorEntity) Remove()          { e.sensor.Remove() }

// Update regenerates the entity id from the item id and applies the new
// configuration. The sensor's own entity id does not count as taken.
func (e *sensorEntity) Update(item collection.Item) error {
	cfg, err := e.schema.Validate(item, true)
	if err != nil {
		return err
	}

	current := e.sensor.EntityID()
	entityID := slug.EntityID(binarysensor.Domain, cfg.ID, func(id string) bool {
		return id != current && e.inUse(id)
	})
	e.sensor.UpdateConfig(cfg.ToSensorConfig(e.editable), entityID)
	return nil
}

// sensorFactory builds the entity component factory for one collection.
func (i *Integration) sensorFactory(editable bool) collection.Factory {
	return func(itemID string, item collection.Item) (collection.Entity, error) {
		cfg, err := i.schema.Validate(item, true)
		if err != nil {
			return nil, err
		}

		entityID := slug.EntityID(binarysensor.Domain, cfg.ID, i.component.InUse)
		return &sensorEntity{
			sensor:   binarysensor.New(cfg.ToSensorConfig(editable), entityID, i.deps),
			schema:   i.schema,
			editable: editable,
			inUse:    i.component.InUse,
		}, nil
	}
}
