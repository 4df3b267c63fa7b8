package metservice

import (
	"context"
	"sync"
	"time"

	"github.com/ZephireNZ/home-assistant-core/internal/metrics"
	"github.com/ZephireNZ/home-assistant-core/internal/publish"
	"github.com/ZephireNZ/home-assistant-core/internal/slug"

	"go.uber.org/zap"
)

// Component is the MQTT discovery component of weather entities.
const Component = "sensor"

// DefaultInterval is the default scan interval.
const DefaultInterval = time.Minute

var conditionIcons = map[string]string{
	"sunny":             "mdi:weather-sunny",
	ConditionClearNight: "mdi:weather-night",
	"partlycloudy":      "mdi:weather-partly-cloudy",
	"cloudy":            "mdi:weather-cloudy",
	"rainy":             "mdi:weather-rainy",
	"fog":               "mdi:weather-fog",
	"lightning":         "mdi:weather-lightning",
	"windy":             "mdi:weather-windy",
}

// Poller updates one weather entity at the scan interval and publishes it.
type Poller struct {
	weather   *Weather
	publisher publish.Publisher
	interval  time.Duration
	logger    *zap.Logger

	mu        sync.Mutex
	discovery *publish.Discovery
}

// NewPoller creates a poller. A non-positive interval uses DefaultInterval.
func NewPoller(w *Weather, publisher publish.Publisher, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		weather:   w,
		publisher: publisher,
		interval:  interval,
		logger:    logger.With(zap.String("unique_id", w.UniqueID())),
	}
}

// Weather returns the polled entity.
func (p *Poller) Weather() *Weather { return p.weather }

// PublishID is the MQTT unique id of the entity.
func (p *Poller) PublishID() string {
	return "metservice_" + p.weather.UniqueID()
}

// Run polls until ctx is cancelled. Poll errors are logged and retried on
// the next tick.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("Weather poller started", zap.Duration("interval", p.interval))
	_ = p.Poll(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Weather poller stopped")
			return nil
		case <-ticker.C:
			_ = p.Poll(ctx)
		}
	}
}

// Poll updates the entity once and publishes the result.
func (p *Poller) Poll(ctx context.Context) error {
	id := p.weather.UniqueID()
	err := p.weather.Update(ctx)
	metrics.WeatherPolls.WithLabelValues(id, metrics.ResultLabel(err)).Inc()

	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		p.logger.Warn("Failed to update weather", zap.Error(err))
	}

	record := p.weather.Record()
	if err == nil {
		metrics.WeatherLastUpdate.WithLabelValues(id).Set(float64(record.LastUpdate.Unix()))
	}

	p.publish(record)
	return err
}

func (p *Poller) publish(record Record) {
	p.mu.Lock()
	defer p.mu.Unlock()

	d := publish.Discovery{
		Component: Component,
		UniqueID:  p.PublishID(),
		ObjectID:  slug.Make(record.UniqueID),
		Name:      record.Name,
		Icon:      conditionIcons[record.Condition],
	}
	if d.Icon == "" {
		d.Icon = conditionIcons[defaultCondition]
	}
	if p.discovery == nil || *p.discovery != d {
		if err := p.publisher.Announce(d); err != nil {
			p.logger.Error("Failed to announce weather entity", zap.Error(err))
			return
		}
		p.discovery = &d
	}

	err := p.publisher.Publish(Component, p.PublishID(), publish.StateUpdate{
		State:      record.Condition,
		Attributes: record.Attributes(),
		Available:  record.Available,
	})
	if err != nil {
		p.logger.Error("Failed to publish weather", zap.Error(err))
		return
	}
	p.logger.Debug("Published weather",
		zap.String("condition", record.Condition),
		zap.Bool("available", record.Available))
}
