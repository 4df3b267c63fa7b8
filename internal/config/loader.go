package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file read from the configuration directory.
const FileName = "configuration.yaml"

// BinarySensorConfig is the `template: binary_sensor:` section.
type BinarySensorConfig struct {
	// Sensors maps a slug to the sensor's options.
	Sensors map[string]map[string]interface{} `yaml:"sensors"`
}

// TemplateConfig is the `template:` section.
type TemplateConfig struct {
	BinarySensor BinarySensorConfig `yaml:"binary_sensor"`
}

// MetServiceEntry configures one MetService weather entity.
type MetServiceEntry struct {
	City string `yaml:"city"`
	Mode string `yaml:"mode"`
}

// Config represents the configuration.yaml structure
type Config struct {
	Template   TemplateConfig    `yaml:"template"`
	MetService []MetServiceEntry `yaml:"metservice"`
	// Raw data for any additional fields
	Raw map[string]interface{} `yaml:",inline"`
}

// Loader manages loading and reloading configuration.yaml
type Loader struct {
	configDir string
	logger    *zap.Logger

	mu     sync.RWMutex
	config *Config
}

// NewLoader creates a new configuration loader
func NewLoader(configDir string, logger *zap.Logger) *Loader {
	return &Loader{
		configDir: configDir,
		logger:    logger.Named("config"),
		config:    &Config{},
	}
}

// Dir returns the configuration directory.
func (l *Loader) Dir() string {
	return l.configDir
}

// Path returns the location of configuration.yaml.
func (l *Loader) Path() string {
	return filepath.Join(l.configDir, FileName)
}

// Load reads configuration.yaml. A missing file is an empty configuration.
func (l *Loader) Load() (*Config, error) {
	path := l.Path()
	l.logger.Debug("Loading configuration", zap.String("path", path))

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		l.logger.Warn("No configuration file found, using empty configuration", zap.String("path", path))
		data = nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	l.mu.Lock()
	l.config = &config
	l.mu.Unlock()

	l.logger.Info("Configuration loaded",
		zap.Int("template_binary_sensors", len(config.Template.BinarySensor.Sensors)),
		zap.Int("metservice", len(config.MetService)))
	return &config, nil
}

// Config returns the last loaded configuration
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// TemplateBinarySensors reloads the file and returns the template binary
// sensors it defines.
func (l *Loader) TemplateBinarySensors() (map[string]map[string]interface{}, error) {
	config, err := l.Load()
	if err != nil {
		return nil, err
	}
	return config.Template.BinarySensor.Sensors, nil
}
