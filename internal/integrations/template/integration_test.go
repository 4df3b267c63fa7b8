package template

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ZephireNZ/home-assistant-core/internal/binarysensor"
	"github.com/ZephireNZ/home-assistant-core/internal/clock"
	"github.com/ZephireNZ/home-assistant-core/internal/collection"
	"github.com/ZephireNZ/home-assistant-core/internal/ha"
	"github.com/ZephireNZ/home-assistant-core/internal/loop"
	"github.com/ZephireNZ/home-assistant-core/internal/publish"
	"github.com/ZephireNZ/home-assistant-core/internal/templating"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type integrationHarness struct {
	ha        *ha.MockClient
	clock     *clock.MockClock
	publisher *publish.FakePublisher
	store     *collection.FileStore
	sensors   map[string]map[string]interface{}
	sensorErr error
	readOnly  bool
}

func newIntegrationHarness(t *testing.T) *integrationHarness {
	t.Helper()
	return &integrationHarness{
		ha:        ha.NewMockClient(),
		clock:     clock.NewMockClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)),
		publisher: publish.NewFakePublisher(),
		store:     collection.NewFileStore(t.TempDir(), StorageKey),
		sensors:   map[string]map[string]interface{}{},
	}
}

func (h *integrationHarness) build() *Integration {
	return New(Options{
		Caller: loop.Inline{},
		Deps: binarysensor.Deps{
			Renderer:  templating.NewHARenderer(h.ha, loop.Inline{}, zap.NewNop()),
			Executor:  loop.Inline{},
			Scheduler: h.clock,
			Publisher: h.publisher,
			Logger:    zap.NewNop(),
		},
		Store: h.store,
		Sensors: func() (map[string]map[string]interface{}, error) {
			return h.sensors, h.sensorErr
		},
		Events:   h.ha,
		Logger:   zap.NewNop(),
		ReadOnly: h.readOnly,
	})
}

func TestIntegration_StartLoadsYAMLAndStorage(t *testing.T) {
	ctx := context.Background()
	h := newIntegrationHarness(t)
	require.NoError(t, h.store.Save(ctx, []collection.Item{
		{"id": "garage", "friendly_name": "Garage", "value_template": "{{ g }}"},
	}))
	h.sensors["front_door"] = map[string]interface{}{
		"friendly_name":  "Front door",
		"value_template": "{{ d }}",
		"delay_on":       "00:00:05",
	}

	i := h.build()
	require.NoError(t, i.Start(ctx))

	assert.Equal(t, []string{"binary_sensor.front_door", "binary_sensor.garage"}, i.List())
	assert.ElementsMatch(t, []string{"{{ d }}", "{{ g }}"}, h.ha.Templates())

	garage, ok := h.publisher.Last("template_garage")
	require.True(t, ok)
	assert.Equal(t, true, garage.Attributes[binarysensor.AttrEditable])

	door, ok := h.publisher.Last("template_front_door")
	require.True(t, ok)
	assert.Equal(t, false, door.Attributes[binarysensor.AttrEditable])

	// The YAML sensor honours its on delay.
	h.ha.EmitTemplateResult("{{ d }}", true)
	last, _ := h.publisher.Last("template_front_door")
	assert.Equal(t, binarysensor.PayloadNone, last.State)
	h.clock.Advance(5 * time.Second)
	last, _ = h.publisher.Last("template_front_door")
	assert.Equal(t, "on", last.State)
}

func TestIntegration_StartInvalidYAML(t *testing.T) {
	h := newIntegrationHarness(t)
	h.sensors["Bad Key"] = map[string]interface{}{"value_template": "x"}

	err := h.build().Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid template configuration")
}

func TestIntegration_EntityIDDeduplication(t *testing.T) {
	ctx := context.Background()
	h := newIntegrationHarness(t)
	h.sensors["door"] = map[string]interface{}{"value_template": "{{ yaml }}"}

	i := h.build()
	require.NoError(t, i.Start(ctx))

	item, err := i.Create(ctx, collection.Item{"friendly_name": "Door", "value_template": "{{ stored }}"})
	require.NoError(t, err)
	assert.Equal(t, "door", item.ID())

	assert.Equal(t, []string{"binary_sensor.door", "binary_sensor.door_2"}, i.List())
}

func TestIntegration_StorageCRUD(t *testing.T) {
	ctx := context.Background()
	h := newIntegrationHarness(t)
	i := h.build()
	require.NoError(t, i.Start(ctx))

	item, err := i.Create(ctx, collection.Item{
		"friendly_name":  "Kitchen motion",
		"value_template": "{{ m }}",
	})
	require.NoError(t, err)
	require.Equal(t, "kitchen_motion", item.ID())
	assert.Equal(t, []string{"binary_sensor.kitchen_motion"}, i.List())

	items, err := i.Items(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)

	_, err = i.Create(ctx, collection.Item{"friendly_name": "No template"})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	updated, err := i.Update(ctx, "kitchen_motion", collection.Item{"value_template": "{{ m2 }}", "delay_off": 30})
	require.NoError(t, err)
	assert.Equal(t, "00:00:30", updated["delay_off"])
	assert.Equal(t, []string{"{{ m2 }}"}, h.ha.Templates())
	assert.Equal(t, []string{"binary_sensor.kitchen_motion"}, i.List())

	_, err = i.Update(ctx, "missing", collection.Item{})
	assert.ErrorIs(t, err, collection.ErrNotFound)

	require.NoError(t, i.Delete(ctx, "kitchen_motion"))
	assert.Empty(t, i.List())
	assert.Empty(t, h.ha.Templates())
	assert.Contains(t, h.publisher.Removed, "template_kitchen_motion")

	assert.ErrorIs(t, i.Delete(ctx, "kitchen_motion"), collection.ErrNotFound)

	stored, err := h.store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestIntegration_UpdateKeepsRecordValid(t *testing.T) {
	ctx := context.Background()
	h := newIntegrationHarness(t)
	i := h.build()
	require.NoError(t, i.Start(ctx))

	_, err := i.Create(ctx, collection.Item{
		"friendly_name":  "Kitchen",
		"value_template": "{{ k }}",
	})
	require.NoError(t, err)

	_, err = i.Update(ctx, "kitchen", collection.Item{"value_template": ""})
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	stored, err := h.store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "{{ k }}", stored[0][ConfValueTemplate])
	assert.Equal(t, []string{"{{ k }}"}, h.ha.Templates())

	// The sensor survives a restart.
	i.Stop()
	restarted := h.build()
	require.NoError(t, restarted.Start(ctx))
	assert.Equal(t, []string{"binary_sensor.kitchen"}, restarted.List())
}

func TestIntegration_Reload(t *testing.T) {
	ctx := context.Background()
	h := newIntegrationHarness(t)
	h.sensors["a"] = map[string]interface{}{"value_template": "{{ a }}"}
	h.sensors["b"] = map[string]interface{}{"value_template": "{{ b }}"}

	i := h.build()
	require.NoError(t, i.Start(ctx))
	require.Equal(t, []string{"binary_sensor.a", "binary_sensor.b"}, i.List())

	h.sensors = map[string]map[string]interface{}{
		"b": {"value_template": "{{ b2 }}"},
		"c": {"value_template": "{{ c }}"},
	}
	require.NoError(t, i.Reload(ctx))

	assert.Equal(t, []string{"binary_sensor.b", "binary_sensor.c"}, i.List())
	assert.ElementsMatch(t, []string{"{{ b2 }}", "{{ c }}"}, h.ha.Templates())

	events := h.ha.GetFiredEvents()
	require.Len(t, events, 1)
	assert.Equal(t, EventTemplateReloaded, events[0].EventType)
}

func TestIntegration_ReloadKeepsSensorsOnError(t *testing.T) {
	ctx := context.Background()
	h := newIntegrationHarness(t)
	h.sensors["a"] = map[string]interface{}{"value_template": "{{ a }}"}

	i := h.build()
	require.NoError(t, i.Start(ctx))

	h.sensorErr = errors.New("yaml: line 3: did not find expected key")
	err := i.Reload(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, collection.ErrInvalid)

	assert.Equal(t, []string{"binary_sensor.a"}, i.List())
	assert.Empty(t, h.ha.GetFiredEvents())
}

func TestIntegration_ReloadReadOnly(t *testing.T) {
	h := newIntegrationHarness(t)
	h.readOnly = true

	i := h.build()
	require.NoError(t, i.Start(context.Background()))
	require.NoError(t, i.Reload(context.Background()))
	assert.Empty(t, h.ha.GetFiredEvents())
}

func TestIntegration_Stop(t *testing.T) {
	h := newIntegrationHarness(t)
	h.sensors["a"] = map[string]interface{}{"value_template": "{{ a }}", "delay_on": 10}

	i := h.build()
	require.NoError(t, i.Start(context.Background()))
	h.ha.EmitTemplateResult("{{ a }}", true)
	require.Equal(t, 1, h.clock.Pending())

	i.Stop()

	assert.Empty(t, h.ha.Templates())
	assert.Equal(t, 0, h.clock.Pending())
	assert.Empty(t, h.publisher.Removed)
	assert.Equal(t, Name, i.Name())
}
