package metservice

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/ZephireNZ/home-assistant-core/internal/clock"

	"github.com/nathan-osman/go-sunrise"
	"github.com/spf13/cast"
	"go.uber.org/zap"
)

// Mode selects the forecast published with the weather entity.
type Mode string

const (
	ModeDaily  Mode = "daily"
	ModeHourly Mode = "hourly"
)

// ParseMode validates a configured mode. An empty mode is daily.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeDaily:
		return ModeDaily, nil
	case ModeHourly:
		return ModeHourly, nil
	default:
		return "", fmt.Errorf("invalid mode %q, expected %s or %s", s, ModeDaily, ModeHourly)
	}
}

// Attribution is shown with every weather entity.
const Attribution = "Data provided by MetService - Te Ratonga Tirorangi"

const (
	ConditionClearNight = "clear-night"
	defaultCondition    = "sunny"
	temperatureUnit     = "°C"
)

var conditionMap = map[string]string{
	"Partly cloudy": "partlycloudy",
	"Few showers":   "rainy",
	"Wind rain":     "rainy",
	"Showers":       "rainy",
	"Fine":          "sunny",
	"Rain":          "rainy",
	"Cloudy":        "cloudy",
	"Fog":           "fog",
	"Thunder":       "lightning",
	"Windy":         "windy",
}

// MapCondition converts a MetService forecast word to a Home Assistant
// weather condition. Unknown words map to sunny.
func MapCondition(word string) (string, bool) {
	c, ok := conditionMap[word]
	if !ok {
		return defaultCondition, false
	}
	return c, true
}

// Forecast is one entry of the forecast attribute.
type Forecast struct {
	Datetime      time.Time `json:"datetime"`
	Condition     string    `json:"condition,omitempty"`
	Temperature   *int      `json:"temperature,omitempty"`
	TempLow       *int      `json:"templow,omitempty"`
	Precipitation *float64  `json:"precipitation,omitempty"`
	WindBearing   string    `json:"wind_bearing,omitempty"`
	WindSpeed     *float64  `json:"wind_speed,omitempty"`
}

// Record is a snapshot of a weather entity.
type Record struct {
	UniqueID        string     `json:"unique_id"`
	Name            string     `json:"name"`
	Mode            Mode       `json:"mode"`
	Available       bool       `json:"available"`
	Condition       string     `json:"condition"`
	Temperature     *int       `json:"temperature,omitempty"`
	TemperatureUnit string     `json:"temperature_unit"`
	Pressure        *int       `json:"pressure,omitempty"`
	Humidity        *int       `json:"humidity,omitempty"`
	WindSpeed       *int       `json:"wind_speed,omitempty"`
	WindBearing     string     `json:"wind_bearing,omitempty"`
	Attribution     string     `json:"attribution"`
	Forecast        []Forecast `json:"forecast"`
	LastUpdate      time.Time  `json:"last_update"`
}

// Attributes returns the state attributes of the entity.
func (r Record) Attributes() map[string]interface{} {
	attrs := map[string]interface{}{
		"temperature_unit": r.TemperatureUnit,
		"attribution":      r.Attribution,
		"forecast":         r.Forecast,
		"mode":             string(r.Mode),
	}
	if r.Temperature != nil {
		attrs["temperature"] = *r.Temperature
	}
	if r.Pressure != nil {
		attrs["pressure"] = *r.Pressure
	}
	if r.Humidity != nil {
		attrs["humidity"] = *r.Humidity
	}
	if r.WindSpeed != nil {
		attrs["wind_speed"] = *r.WindSpeed
	}
	if r.WindBearing != "" {
		attrs["wind_bearing"] = r.WindBearing
	}
	return attrs
}

type observation struct {
	temperature *int
	pressure    *int
	humidity    *int
	windSpeed   *int
	windBearing string
}

// Weather is a MetService weather entity for one city and mode.
type Weather struct {
	city   City
	mode   Mode
	api    API
	clock  clock.Clock
	logger *zap.Logger

	obsThrottle      *Throttle
	forecastThrottle *Throttle

	mu         sync.RWMutex
	current    *observation
	today      *ForecastDay
	forecast   []Forecast
	available  bool
	lastUpdate time.Time
}

// NewWeather creates the weather entity. Nothing is fetched until Update.
func NewWeather(city City, mode Mode, api API, c clock.Clock, logger *zap.Logger) *Weather {
	w := &Weather{
		city:             city,
		mode:             mode,
		api:              api,
		clock:            c,
		obsThrottle:      NewThrottle(c, MinTimeBetweenUpdates),
		forecastThrottle: NewThrottle(c, MinTimeBetweenForecastUpdates),
	}
	w.logger = logger.With(zap.String("unique_id", w.UniqueID()))
	return w
}

// UniqueID is "<city id>_<mode>".
func (w *Weather) UniqueID() string {
	return w.city.ID + "_" + string(w.mode)
}

// Name is the city name.
func (w *Weather) Name() string { return w.city.Name }

// City returns the entity's location.
func (w *Weather) City() City { return w.city }

// Mode returns the forecast mode.
func (w *Weather) Mode() Mode { return w.mode }

// Update fetches new data, subject to the throttles. A failed fetch marks
// the entity unavailable until a later Update succeeds.
func (w *Weather) Update(ctx context.Context) error {
	err := w.update(ctx)

	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.available = false
		return err
	}
	w.available = w.current != nil && w.today != nil
	w.lastUpdate = w.clock.Now()
	return nil
}

func (w *Weather) update(ctx context.Context) error {
	if _, err := w.obsThrottle.Do(func() error { return w.updateCurrent(ctx) }); err != nil {
		return fmt.Errorf("failed to update observations for %s: %w", w.city.ID, err)
	}
	if _, err := w.forecastThrottle.Do(func() error { return w.updateForecast(ctx) }); err != nil {
		return fmt.Errorf("failed to update forecast for %s: %w", w.city.ID, err)
	}
	return nil
}

func (w *Weather) updateCurrent(ctx context.Context) error {
	obs, err := w.api.LocalObs(ctx, w.city.ID)
	if err != nil {
		return err
	}

	three := obs.ThreeHour
	current := &observation{
		temperature: w.intField("temp", three.Temp),
		pressure:    w.intField("pressure", three.Pressure),
		humidity:    w.intField("humidity", three.Humidity),
		windSpeed:   w.intField("windSpeed", three.WindSpeed),
		windBearing: cast.ToString(three.WindDirection),
	}

	w.mu.Lock()
	w.current = current
	w.mu.Unlock()

	w.logger.Debug("Updated current observations")
	return nil
}

func (w *Weather) updateForecast(ctx context.Context) error {
	local, err := w.api.LocalForecast(ctx, w.city.ID)
	if err != nil {
		return err
	}
	if len(local.Days) == 0 {
		return fmt.Errorf("forecast for %s has no days", w.city.ID)
	}

	for _, day := range local.Days {
		if _, ok := MapCondition(day.ForecastWord); !ok {
			w.logger.Warn("Unrecognised weather condition", zap.String("forecast_word", day.ForecastWord))
		}
	}

	var forecast []Forecast
	switch w.mode {
	case ModeHourly:
		hourly, err := w.api.HourlyObsAndForecast(ctx, w.city.ID)
		if err != nil {
			return err
		}
		forecast = w.hourlyForecast(hourly.ForecastData)
	default:
		forecast = w.dailyForecast(local.Days)
	}

	today := local.Days[0]
	w.mu.Lock()
	w.today = &today
	w.forecast = forecast
	w.mu.Unlock()

	w.logger.Debug("Updated forecast", zap.Int("entries", len(forecast)))
	return nil
}

func (w *Weather) dailyForecast(days []ForecastDay) []Forecast {
	forecast := make([]Forecast, 0, len(days))
	for _, day := range days {
		at, err := time.Parse(time.RFC3339, day.DateISO)
		if err != nil {
			w.logger.Warn("Skipping forecast day with invalid date", zap.String("date", day.DateISO))
			continue
		}
		condition, _ := MapCondition(day.ForecastWord)
		forecast = append(forecast, Forecast{
			Datetime:    at,
			Condition:   condition,
			Temperature: w.intField("max", day.Max),
			TempLow:     w.intField("min", day.Min),
		})
	}
	return forecast
}

func (w *Weather) hourlyForecast(hours []HourlyForecast) []Forecast {
	forecast := make([]Forecast, 0, len(hours))
	for _, hour := range hours {
		at, err := time.Parse(time.RFC3339, hour.DateISO)
		if err != nil {
			w.logger.Warn("Skipping hourly forecast with invalid date", zap.String("date", hour.DateISO))
			continue
		}
		forecast = append(forecast, Forecast{
			Datetime:      at,
			Precipitation: w.floatField("rainFall", hour.RainFall),
			Temperature:   w.intField("temperature", hour.Temperature),
			WindBearing:   cast.ToString(hour.WindDir),
			WindSpeed:     w.floatField("windSpeed", hour.WindSpeed),
		})
	}
	return forecast
}

// Condition is today's forecast condition, or clear-night outside the
// sunrise to sunset window.
func (w *Weather) Condition() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.condition(w.clock.Now())
}

func (w *Weather) condition(now time.Time) string {
	if w.today == nil {
		return ""
	}

	condition, _ := MapCondition(w.today.ForecastWord)
	rise, set, ok := w.sunTimes(*w.today, now)
	if ok && (now.Before(rise) || now.After(set)) {
		return ConditionClearNight
	}
	return condition
}

// sunTimes reads the day's sunrise and sunset, computing them from the
// city's coordinates when MetService leaves them out.
func (w *Weather) sunTimes(day ForecastDay, now time.Time) (time.Time, time.Time, bool) {
	if day.RiseSet != nil {
		rise, riseErr := time.Parse(time.RFC3339, day.RiseSet.SunRiseISO)
		set, setErr := time.Parse(time.RFC3339, day.RiseSet.SunSetISO)
		if riseErr == nil && setErr == nil {
			return rise, set, true
		}
	}

	date := now
	if at, err := time.Parse(time.RFC3339, day.DateISO); err == nil {
		date = at
	}
	rise, set := sunrise.SunriseSunset(w.city.Latitude, w.city.Longitude, date.Year(), date.Month(), date.Day())
	if rise.IsZero() || set.IsZero() {
		return time.Time{}, time.Time{}, false
	}
	return rise, set, true
}

// Available reports whether the last Update succeeded with data.
func (w *Weather) Available() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.available
}

// Record returns a snapshot of the entity.
func (w *Weather) Record() Record {
	w.mu.RLock()
	defer w.mu.RUnlock()

	r := Record{
		UniqueID:        w.UniqueID(),
		Name:            w.city.Name,
		Mode:            w.mode,
		Available:       w.available,
		Condition:       w.condition(w.clock.Now()),
		TemperatureUnit: temperatureUnit,
		Attribution:     Attribution,
		Forecast:        append([]Forecast{}, w.forecast...),
		LastUpdate:      w.lastUpdate,
	}
	if w.current != nil {
		r.Temperature = w.current.temperature
		r.Pressure = w.current.pressure
		r.Humidity = w.current.humidity
		r.WindSpeed = w.current.windSpeed
		r.WindBearing = w.current.windBearing
	}
	return r
}

func (w *Weather) intField(name string, v interface{}) *int {
	n, err := toInt(v)
	if err != nil {
		w.logger.Debug("Ignoring invalid value", zap.String("field", name), zap.Any("value", v), zap.Error(err))
		return nil
	}
	return &n
}

func (w *Weather) floatField(name string, v interface{}) *float64 {
	if v == nil {
		return nil
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		w.logger.Debug("Ignoring invalid value", zap.String("field", name), zap.Any("value", v), zap.Error(err))
		return nil
	}
	return &f
}

// toInt converts MetService's numeric strings, rounding decimals.
func toInt(v interface{}) (int, error) {
	if v == nil {
		return 0, fmt.Errorf("missing value")
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return 0, err
	}
	return int(math.Round(f)), nil
}
