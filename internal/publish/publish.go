// Package publish exposes entities to Home Assistant through MQTT discovery.
package publish

import (
	"encoding/json"
	"fmt"
)

// Discovery describes an entity to Home Assistant.
type Discovery struct {
	Component         string // binary_sensor, sensor
	UniqueID          string
	ObjectID          string
	Name              string
	DeviceClass       string
	Icon              string
	EntityPicture     string
	UnitOfMeasurement string
}

// StateUpdate is the externally visible state of an entity.
type StateUpdate struct {
	State      string
	Attributes map[string]interface{}
	Available  bool
}

// Publisher announces entities and publishes their state.
type Publisher interface {
	// Announce creates or updates the entity in Home Assistant.
	Announce(d Discovery) error

	// Publish sends the entity's state, attributes and availability.
	Publish(component, uniqueID string, u StateUpdate) error

	// Remove deletes the entity from Home Assistant.
	Remove(component, uniqueID string) error

	// Close disconnects from the broker.
	Close() error
}

// Topics computes the MQTT topics used for one entity.
type Topics struct {
	DiscoveryPrefix string
	BaseTopic       string
}

// DefaultTopics uses Home Assistant's default discovery prefix.
var DefaultTopics = Topics{DiscoveryPrefix: "homeassistant", BaseTopic: "hassbridge"}

// Config is the discovery config topic for an entity.
func (t Topics) Config(component, uniqueID string) string {
	return fmt.Sprintf("%s/%s/%s/config", t.DiscoveryPrefix, component, uniqueID)
}

// State is the state topic for an entity.
func (t Topics) State(component, uniqueID string) string {
	return fmt.Sprintf("%s/%s/%s/state", t.BaseTopic, component, uniqueID)
}

// Attributes is the JSON attributes topic for an entity.
func (t Topics) Attributes(component, uniqueID string) string {
	return fmt.Sprintf("%s/%s/%s/attributes", t.BaseTopic, component, uniqueID)
}

// Availability is the availability topic for an entity.
func (t Topics) Availability(component, uniqueID string) string {
	return fmt.Sprintf("%s/%s/%s/availability", t.BaseTopic, component, uniqueID)
}

// Bridge is the availability topic of the daemon itself (MQTT last will).
func (t Topics) Bridge() string {
	return t.BaseTopic + "/status"
}

const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// FormatDiscovery creates the JSON discovery payload for d.
func (t Topics) FormatDiscovery(d Discovery) ([]byte, error) {
	payload := map[string]interface{}{
		"name":                  d.Name,
		"unique_id":             d.UniqueID,
		"state_topic":           t.State(d.Component, d.UniqueID),
		"json_attributes_topic": t.Attributes(d.Component, d.UniqueID),
		"availability": []map[string]string{
			{"topic": t.Bridge()},
			{"topic": t.Availability(d.Component, d.UniqueID)},
		},
		"availability_mode": "all",
	}

	if d.ObjectID != "" {
		payload["object_id"] = d.ObjectID
	}
	if d.DeviceClass != "" {
		payload["device_class"] = d.DeviceClass
	}
	if d.Icon != "" {
		payload["icon"] = d.Icon
	}
	if d.EntityPicture != "" {
		payload["entity_picture"] = d.EntityPicture
	}
	if d.UnitOfMeasurement != "" {
		payload["unit_of_measurement"] = d.UnitOfMeasurement
	}
	if d.Component == "binary_sensor" {
		payload["payload_on"] = "on"
		payload["payload_off"] = "off"
	}

	return json.Marshal(payload)
}

// FormatAttributes creates the JSON attributes payload.
func FormatAttributes(attrs map[string]interface{}) ([]byte, error) {
	if attrs == nil {
		attrs = map[string]interface{}{}
	}
	return json.Marshal(attrs)
}

// AvailabilityPayload maps availability to its MQTT payload.
func AvailabilityPayload(available bool) string {
	if available {
		return PayloadOnline
	}
	return PayloadOffline
}
