package template

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ZephireNZ/home-assistant-core/internal/collection"
	"github.com/ZephireNZ/home-assistant-core/internal/slug"

	"github.com/spf13/cast"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Configuration keys.
const (
	ConfID                    = "id"
	ConfUniqueID              = "unique_id"
	ConfFriendlyName          = "friendly_name"
	ConfValueTemplate         = "value_template"
	ConfIconTemplate          = "icon_template"
	ConfEntityPictureTemplate = "entity_picture_template"
	ConfAvailabilityTemplate  = "availability_template"
	ConfAttributeTemplates    = "attribute_templates"
	ConfDeviceClass           = "device_class"
	ConfDelayOn               = "delay_on"
	ConfDelayOff              = "delay_off"
	ConfEntityID              = "entity_id"
)

// DeviceClasses are the binary sensor device classes Home Assistant knows.
var DeviceClasses = []string{
	"battery", "battery_charging", "cold", "connectivity", "door",
	"garage_door", "gas", "heat", "light", "lock", "moisture", "motion",
	"moving", "occupancy", "opening", "plug", "power", "presence",
	"problem", "safety", "smoke", "sound", "vibration", "window",
}

// ValidationError reports one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Is makes every ValidationError match collection.ErrInvalid.
func (e *ValidationError) Is(target error) bool {
	return target == collection.ErrInvalid
}

// IsValidationError reports whether err holds a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// SensorConfig is a validated template binary sensor configuration.
type SensorConfig struct {
	ID                    string
	UniqueID              string
	FriendlyName          string
	ValueTemplate         string
	IconTemplate          string
	EntityPictureTemplate string
	AvailabilityTemplate  string
	AttributeTemplates    map[string]string
	DeviceClass           string
	DelayOn               time.Duration
	DelayOff              time.Duration
}

type fieldKind int

const (
	kindString fieldKind = iota
	kindTemplate
	kindAttributeTemplates
	kindDeviceClass
	kindDuration
	kindEntityIDs
)

var sensorFields = map[string]fieldKind{
	ConfValueTemplate:         kindTemplate,
	ConfIconTemplate:          kindTemplate,
	ConfEntityPictureTemplate: kindTemplate,
	ConfAvailabilityTemplate:  kindTemplate,
	ConfAttributeTemplates:    kindAttributeTemplates,
	ConfFriendlyName:          kindString,
	ConfEntityID:              kindEntityIDs,
	ConfDeviceClass:           kindDeviceClass,
	ConfDelayOn:               kindDuration,
	ConfDelayOff:              kindDuration,
	ConfUniqueID:              kindString,
}

var storageFields = withField(sensorFields, ConfID, kindString)

var updateFields = map[string]fieldKind{
	ConfFriendlyName:          kindString,
	ConfValueTemplate:         kindTemplate,
	ConfIconTemplate:          kindTemplate,
	ConfEntityPictureTemplate: kindTemplate,
	ConfAvailabilityTemplate:  kindTemplate,
	ConfDeviceClass:           kindDeviceClass,
	ConfDelayOn:               kindDuration,
	ConfDelayOff:              kindDuration,
	ConfAttributeTemplates:    kindAttributeTemplates,
	ConfEntityID:              kindEntityIDs,
}

func withField(fields map[string]fieldKind, key string, kind fieldKind) map[string]fieldKind {
	out := make(map[string]fieldKind, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out[key] = kind
	return out
}

// Schema validates sensor configurations from YAML and from storage.
type Schema struct {
	logger *zap.Logger
}

func NewSchema(logger *zap.Logger) *Schema {
	return &Schema{logger: logger}
}

// ValidateCreate validates the data of a new storage item. friendly_name
// and value_template are required and must not be empty.
func (s *Schema) ValidateCreate(data collection.Item) (collection.Item, error) {
	out, err := s.normalize(data, updateFields)
	for _, key := range []string{ConfFriendlyName, ConfValueTemplate} {
		if v, _ := out[key].(string); v == "" {
			err = multierr.Append(err, &ValidationError{Field: key, Message: "required, must not be empty"})
		}
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ValidateUpdate validates update and merges it onto current. The merged
// record must still be a valid storage record.
func (s *Schema) ValidateUpdate(current, update collection.Item) (collection.Item, error) {
	out, err := s.normalize(update, updateFields)
	if err != nil {
		return nil, err
	}
	merged := current.Clone()
	for k, v := range out {
		merged[k] = v
	}
	if _, err := s.Validate(merged, true); err != nil {
		return nil, err
	}
	for _, key := range []string{ConfFriendlyName, ConfValueTemplate} {
		if v, _ := merged[key].(string); v == "" {
			return nil, &ValidationError{Field: key, Message: "required, must not be empty"}
		}
	}
	return merged, nil
}

// Validate parses a YAML or storage record. requireID selects the storage
// form, whose records carry their id.
func (s *Schema) Validate(item collection.Item, requireID bool) (SensorConfig, error) {
	fields := sensorFields
	if requireID {
		fields = storageFields
	}

	out, err := s.normalize(item, fields)
	if v, _ := out[ConfValueTemplate].(string); v == "" {
		err = multierr.Append(err, &ValidationError{Field: ConfValueTemplate, Message: "required"})
	}
	if requireID {
		if v, _ := out[ConfID].(string); v == "" {
			err = multierr.Append(err, &ValidationError{Field: ConfID, Message: "required"})
		}
	}
	if err != nil {
		return SensorConfig{}, err
	}

	cfg := SensorConfig{
		ID:                    cast.ToString(out[ConfID]),
		UniqueID:              cast.ToString(out[ConfUniqueID]),
		FriendlyName:          cast.ToString(out[ConfFriendlyName]),
		ValueTemplate:         cast.ToString(out[ConfValueTemplate]),
		IconTemplate:          cast.ToString(out[ConfIconTemplate]),
		EntityPictureTemplate: cast.ToString(out[ConfEntityPictureTemplate]),
		AvailabilityTemplate:  cast.ToString(out[ConfAvailabilityTemplate]),
		DeviceClass:           cast.ToString(out[ConfDeviceClass]),
		AttributeTemplates:    cast.ToStringMapString(out[ConfAttributeTemplates]),
	}
	if v, ok := out[ConfDelayOn]; ok {
		cfg.DelayOn, _ = ParseDuration(v)
	}
	if v, ok := out[ConfDelayOff]; ok {
		cfg.DelayOff, _ = ParseDuration(v)
	}
	return cfg, nil
}

// YAMLItems turns the `sensors` mapping of configuration.yaml into
// collection items. Keys must already be slugs.
func (s *Schema) YAMLItems(sensors map[string]map[string]interface{}) ([]collection.Item, error) {
	keys := make([]string, 0, len(sensors))
	for key := range sensors {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var (
		items []collection.Item
		err   error
	)
	for _, key := range keys {
		if slug.Make(key) != key {
			err = multierr.Append(err, &ValidationError{Field: key, Message: fmt.Sprintf("invalid slug %s (try %s)", key, slug.Make(key))})
			continue
		}
		item := collection.Item{ConfID: key}
		for k, v := range sensors[key] {
			item[k] = v
		}
		if _, verr := s.Validate(item, true); verr != nil {
			err = multierr.Append(err, fmt.Errorf("sensor %s: %w", key, verr))
			continue
		}
		items = append(items, item)
	}
	return items, err
}

// normalize checks every field of data against fields and converts values
// to their canonical form.
func (s *Schema) normalize(data collection.Item, fields map[string]fieldKind) (collection.Item, error) {
	out := make(collection.Item, len(data))
	var err error

	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		value := data[key]
		kind, ok := fields[key]
		if !ok {
			err = multierr.Append(err, &ValidationError{Field: key, Message: "extra keys not allowed"})
			continue
		}

		v, ferr := normalizeField(kind, value)
		if ferr != nil {
			err = multierr.Append(err, &ValidationError{Field: key, Message: ferr.Error()})
			continue
		}
		if kind == kindEntityIDs {
			s.logger.Warn("The 'entity_id' option is deprecated, please remove it from your configuration")
		}
		out[key] = v
	}
	return out, err
}

func normalizeField(kind fieldKind, value interface{}) (interface{}, error) {
	switch kind {
	case kindString:
		return cast.ToStringE(value)

	case kindTemplate:
		str, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("template value should be a string")
		}
		return str, nil

	case kindAttributeTemplates:
		m, err := cast.ToStringMapE(value)
		if err != nil {
			return nil, fmt.Errorf("expected a dictionary")
		}
		out := make(map[string]interface{}, len(m))
		for k, v := range m {
			str, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("template value of %s should be a string", k)
			}
			out[k] = str
		}
		return out, nil

	case kindDeviceClass:
		str, err := cast.ToStringE(value)
		if err != nil {
			return nil, err
		}
		str = strings.ToLower(str)
		for _, dc := range DeviceClasses {
			if dc == str {
				return str, nil
			}
		}
		return nil, fmt.Errorf("unknown device class %q", str)

	case kindDuration:
		d, err := ParseDuration(value)
		if err != nil {
			return nil, err
		}
		return FormatDuration(d), nil

	case kindEntityIDs:
		var ids []string
		switch v := value.(type) {
		case string:
			for _, id := range strings.Split(v, ",") {
				ids = append(ids, strings.TrimSpace(id))
			}
		default:
			list, err := cast.ToStringSliceE(v)
			if err != nil {
				return nil, fmt.Errorf("expected a list of entity ids")
			}
			ids = list
		}
		out := make([]interface{}, 0, len(ids))
		for _, id := range ids {
			if !strings.Contains(id, ".") {
				return nil, fmt.Errorf("entity id %q is invalid", id)
			}
			out = append(out, strings.ToLower(id))
		}
		return out, nil
	}

	return nil, fmt.Errorf("unsupported field")
}

// ParseDuration accepts "HH:MM", "HH:MM:SS(.fff)", a number of seconds, or a
// mapping of days, hours, minutes, seconds and milliseconds. Negative
// durations are rejected.
func ParseDuration(value interface{}) (time.Duration, error) {
	var d time.Duration

	switch v := value.(type) {
	case time.Duration:
		d = v
	case string:
		parsed, err := parseClock(v)
		if err != nil {
			return 0, err
		}
		d = parsed
	case map[string]interface{}, map[interface{}]interface{}:
		m, err := cast.ToStringMapE(v)
		if err != nil {
			return 0, err
		}
		parsed, err := parseDurationMap(m)
		if err != nil {
			return 0, err
		}
		d = parsed
	default:
		secs, err := cast.ToFloat64E(v)
		if err != nil {
			return 0, fmt.Errorf("offset %v should be format 'HH:MM', 'HH:MM:SS' or 'HH:MM:SS.F'", value)
		}
		d = time.Duration(secs * float64(time.Second))
	}

	if d < 0 {
		return 0, fmt.Errorf("time period should be positive")
	}
	return d, nil
}

func parseClock(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}

	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(strings.TrimPrefix(s, "-"), "+")

	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("offset %s should be format 'HH:MM', 'HH:MM:SS' or 'HH:MM:SS.F'", s)
	}

	hours, err1 := strconv.Atoi(parts[0])
	minutes, err2 := strconv.Atoi(parts[1])
	var seconds float64
	var err3 error
	if len(parts) == 3 {
		seconds, err3 = strconv.ParseFloat(parts[2], 64)
	}
	if err := multierr.Combine(err1, err2, err3); err != nil {
		return 0, fmt.Errorf("offset %s should be format 'HH:MM', 'HH:MM:SS' or 'HH:MM:SS.F'", s)
	}

	d := time.Duration(hours)*time.Hour +
		time.Duration(minutes)*time.Minute +
		time.Duration(seconds*float64(time.Second))
	if negative {
		d = -d
	}
	return d, nil
}

func parseDurationMap(m map[string]interface{}) (time.Duration, error) {
	units := map[string]time.Duration{
		"days":         24 * time.Hour,
		"hours":        time.Hour,
		"minutes":      time.Minute,
		"seconds":      time.Second,
		"milliseconds": time.Millisecond,
	}

	if len(m) == 0 {
		return 0, fmt.Errorf("must contain at least one of days, hours, minutes, seconds, milliseconds")
	}

	var d time.Duration
	for key, raw := range m {
		unit, ok := units[key]
		if !ok {
			return 0, fmt.Errorf("unknown time unit %q", key)
		}
		n, err := cast.ToFloat64E(raw)
		if err != nil {
			return 0, fmt.Errorf("%s: expected a number", key)
		}
		d += time.Duration(n * float64(unit))
	}
	return d, nil
}

// FormatDuration renders d as "HH:MM:SS", with milliseconds when needed.
func FormatDuration(d time.Duration) string {
	total := d.Round(time.Millisecond)
	hours := int(total / time.Hour)
	minutes := int((total % time.Hour) / time.Minute)
	seconds := (total % time.Minute).Seconds()

	if seconds == math.Trunc(seconds) {
		return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, int(seconds))
	}
	return fmt.Sprintf("%02d:%02d:%06.3f", hours, minutes, seconds)
}
