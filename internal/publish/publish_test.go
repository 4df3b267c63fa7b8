package publish

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTopics(t *testing.T) {
	topics := DefaultTopics

	assert.Equal(t, "homeassistant/binary_sensor/door/config", topics.Config("binary_sensor", "door"))
	assert.Equal(t, "hassbridge/binary_sensor/door/state", topics.State("binary_sensor", "door"))
	assert.Equal(t, "hassbridge/binary_sensor/door/attributes", topics.Attributes("binary_sensor", "door"))
	assert.Equal(t, "hassbridge/binary_sensor/door/availability", topics.Availability("binary_sensor", "door"))
	assert.Equal(t, "hassbridge/status", topics.Bridge())
}

func TestFormatDiscovery(t *testing.T) {
	payload, err := DefaultTopics.FormatDiscovery(Discovery{
		Component:   "binary_sensor",
		UniqueID:    "front_door",
		ObjectID:    "front_door",
		Name:        "Front door",
		DeviceClass: "door",
		Icon:        "mdi:door",
	})
	require.NoError(t, err)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(payload, &got))

	assert.Equal(t, "Front door", got["name"])
	assert.Equal(t, "front_door", got["unique_id"])
	assert.Equal(t, "front_door", got["object_id"])
	assert.Equal(t, "door", got["device_class"])
	assert.Equal(t, "mdi:door", got["icon"])
	assert.Equal(t, "on", got["payload_on"])
	assert.Equal(t, "off", got["payload_off"])
	assert.Equal(t, "all", got["availability_mode"])
	assert.Len(t, got["availability"], 2)
	assert.NotContains(t, got, "unit_of_measurement")
	assert.NotContains(t, got, "entity_picture")
}

func TestFormatDiscovery_Sensor(t *testing.T) {
	payload, err := DefaultTopics.FormatDiscovery(Discovery{Component: "sensor", UniqueID: "x", Name: "X"})
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "payload_on")
}

func TestFormatAttributes(t *testing.T) {
	payload, err := FormatAttributes(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(payload))

	payload, err = FormatAttributes(map[string]interface{}{"editable": true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"editable":true}`, string(payload))
}

func TestAvailabilityPayload(t *testing.T) {
	assert.Equal(t, "online", AvailabilityPayload(true))
	assert.Equal(t, "offline", AvailabilityPayload(false))
}

func TestFakePublisher(t *testing.T) {
	p := NewFakePublisher()

	require.NoError(t, p.Announce(Discovery{Component: "sensor", UniqueID: "a"}))
	require.NoError(t, p.Publish("sensor", "a", StateUpdate{State: "1", Available: true}))
	require.NoError(t, p.Publish("sensor", "a", StateUpdate{State: "2", Available: true}))

	last, ok := p.Last("a")
	require.True(t, ok)
	assert.Equal(t, "2", last.State)
	assert.Equal(t, 2, p.Count("a"))

	require.NoError(t, p.Remove("sensor", "a"))
	_, ok = p.Discovery("a")
	assert.False(t, ok)
	assert.Equal(t, []string{"a"}, p.Removed)

	require.NoError(t, p.Close())
	assert.True(t, p.Closed)
}

func TestLogPublisher(t *testing.T) {
	p := NewLogPublisher(DefaultTopics, zap.NewNop())

	assert.NoError(t, p.Announce(Discovery{Component: "sensor", UniqueID: "a"}))
	assert.NoError(t, p.Publish("sensor", "a", StateUpdate{State: "x"}))
	assert.NoError(t, p.Remove("sensor", "a"))
	assert.NoError(t, p.Close())
}
