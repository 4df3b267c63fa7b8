package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/ZephireNZ/home-assistant-core/internal/publish"

	"github.com/spf13/viper"
)

// Settings are the daemon's runtime settings, read from flags, the
// environment and an optional settings file.
type Settings struct {
	HAURL   string
	HAToken string

	MQTTBroker      string
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	DiscoveryPrefix string
	BaseTopic       string

	ConfigDir    string
	APIPort      int
	PollInterval time.Duration
	Debug        bool
	ReadOnly     bool
}

// SetDefaults registers the default of every setting on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)
	v.SetDefault("read_only", false)
	v.SetDefault("ha.url", "")
	v.SetDefault("ha.token", "")
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "hassbridge")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.discovery_prefix", publish.DefaultTopics.DiscoveryPrefix)
	v.SetDefault("mqtt.base_topic", publish.DefaultTopics.BaseTopic)
	v.SetDefault("config.dir", ".")
	v.SetDefault("api.port", 8081)
	v.SetDefault("poller.interval", time.Minute)
}

// BindEnv maps settings to HASSBRIDGE_* variables. HA_URL, HA_TOKEN and
// READ_ONLY are accepted as well.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix("HASSBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("ha.url", "HASSBRIDGE_HA_URL", "HA_URL")
	_ = v.BindEnv("ha.token", "HASSBRIDGE_HA_TOKEN", "HA_TOKEN")
	_ = v.BindEnv("read_only", "HASSBRIDGE_READ_ONLY", "READ_ONLY")
}

// LoadSettings reads and validates the settings held by v.
func LoadSettings(v *viper.Viper) (Settings, error) {
	s := Settings{
		HAURL:           v.GetString("ha.url"),
		HAToken:         v.GetString("ha.token"),
		MQTTBroker:      v.GetString("mqtt.broker"),
		MQTTClientID:    v.GetString("mqtt.client_id"),
		MQTTUsername:    v.GetString("mqtt.username"),
		MQTTPassword:    v.GetString("mqtt.password"),
		DiscoveryPrefix: v.GetString("mqtt.discovery_prefix"),
		BaseTopic:       v.GetString("mqtt.base_topic"),
		ConfigDir:       v.GetString("config.dir"),
		APIPort:         v.GetInt("api.port"),
		PollInterval:    v.GetDuration("poller.interval"),
		Debug:           v.GetBool("debug"),
		ReadOnly:        v.GetBool("read_only"),
	}

	if s.HAURL == "" || s.HAToken == "" {
		return s, fmt.Errorf("ha.url and ha.token must be set (HA_URL and HA_TOKEN)")
	}
	if !s.ReadOnly && s.MQTTBroker == "" {
		return s, fmt.Errorf("mqtt.broker must be set unless running read-only")
	}
	if s.PollInterval <= 0 {
		return s, fmt.Errorf("poller.interval must be positive, got %s", s.PollInterval)
	}
	if s.APIPort < 0 || s.APIPort > 65535 {
		return s, fmt.Errorf("invalid api.port %d", s.APIPort)
	}
	return s, nil
}

// Topics returns the MQTT topic layout.
func (s Settings) Topics() publish.Topics {
	return publish.Topics{DiscoveryPrefix: s.DiscoveryPrefix, BaseTopic: s.BaseTopic}
}
