package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestConfigDir(t *testing.T) string {
	tmpDir := t.TempDir()

	configuration := `homeassistant:
  name: Home
template:
  binary_sensor:
    sensors:
      front_door:
        friendly_name: Front door
        value_template: "{{ is_state('binary_sensor.raw_door', 'on') }}"
        device_class: door
        delay_on: "00:00:05"
      motion:
        value_template: "{{ states('sensor.motion') | int > 0 }}"
        delay_off:
          minutes: 2
metservice:
  - city: Auckland
  - city: Wellington
    mode: hourly
`
	err := os.WriteFile(filepath.Join(tmpDir, FileName), []byte(configuration), 0644)
	require.NoError(t, err)

	return tmpDir
}

func TestLoader_Load(t *testing.T) {
	loader := NewLoader(setupTestConfigDir(t), zap.NewNop())

	config, err := loader.Load()
	require.NoError(t, err)

	sensors := config.Template.BinarySensor.Sensors
	require.Len(t, sensors, 2)
	assert.Equal(t, "Front door", sensors["front_door"]["friendly_name"])
	assert.Equal(t, "door", sensors["front_door"]["device_class"])
	assert.Equal(t, map[string]interface{}{"minutes": 2}, sensors["motion"]["delay_off"])

	require.Len(t, config.MetService, 2)
	assert.Equal(t, MetServiceEntry{City: "Auckland"}, config.MetService[0])
	assert.Equal(t, MetServiceEntry{City: "Wellington", Mode: "hourly"}, config.MetService[1])

	assert.Contains(t, config.Raw, "homeassistant")
	assert.Same(t, config, loader.Config())
}

func TestLoader_MissingFile(t *testing.T) {
	loader := NewLoader(t.TempDir(), zap.NewNop())

	config, err := loader.Load()
	require.NoError(t, err)
	assert.Empty(t, config.Template.BinarySensor.Sensors)
	assert.Empty(t, config.MetService)
}

func TestLoader_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("template: [unclosed"), 0644))

	loader := NewLoader(dir, zap.NewNop())
	_, err := loader.Load()
	assert.Error(t, err)
}

func TestLoader_TemplateBinarySensorsRereads(t *testing.T) {
	dir := setupTestConfigDir(t)
	loader := NewLoader(dir, zap.NewNop())

	sensors, err := loader.TemplateBinarySensors()
	require.NoError(t, err)
	assert.Len(t, sensors, 2)

	updated := `template:
  binary_sensor:
    sensors:
      window:
        value_template: "{{ true }}"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte(updated), 0644))

	sensors, err = loader.TemplateBinarySensors()
	require.NoError(t, err)
	assert.Len(t, sensors, 1)
	assert.Contains(t, sensors, "window")
	assert.Equal(t, filepath.Join(dir, FileName), loader.Path())
	assert.Equal(t, dir, loader.Dir())
}
