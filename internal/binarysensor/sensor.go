package binarysensor

import (
	"reflect"
	"strings"
	"time"

	"github.com/ZephireNZ/home-assistant-core/internal/clock"
	"github.com/ZephireNZ/home-assistant-core/internal/loop"
	"github.com/ZephireNZ/home-assistant-core/internal/metrics"
	"github.com/ZephireNZ/home-assistant-core/internal/publish"
	"github.com/ZephireNZ/home-assistant-core/internal/templating"

	"go.uber.org/zap"
)

// Domain is the Home Assistant entity domain of binary sensors.
const Domain = "binary_sensor"

// AttrEditable marks sensors that can be changed through the storage API.
const AttrEditable = "editable"

// Config is the runtime configuration of one template binary sensor.
type Config struct {
	// ID is the collection item id; the entity id is derived from it.
	ID            string
	UniqueID      string
	Name          string
	DeviceClass   string
	ValueTemplate string
	Templates     templating.EntityTemplates
	DelayOn       time.Duration
	DelayOff      time.Duration
	Editable      bool
}

// Deps are the collaborators shared by every sensor.
type Deps struct {
	Renderer  templating.Renderer
	Executor  loop.Executor
	Scheduler clock.Scheduler
	Publisher publish.Publisher
	Logger    *zap.Logger
}

type snapshot struct {
	state      string
	available  bool
	attributes map[string]interface{}
}

// Sensor is a template binary sensor. All methods must be called on the
// event loop.
type Sensor struct {
	deps     Deps
	cfg      Config
	entityID string
	logger   *zap.Logger

	tracker *Tracker
	entity  *templating.Entity

	discovery *publish.Discovery
	last      *snapshot
}

// New creates a stopped sensor.
func New(cfg Config, entityID string, deps Deps) *Sensor {
	s := &Sensor{
		deps:     deps,
		cfg:      cfg,
		entityID: entityID,
		logger:   deps.Logger.Named("binary_sensor").With(zap.String("entity_id", entityID)),
	}
	s.tracker = NewTracker(deps.Scheduler, cfg.DelayOn, cfg.DelayOff, func(State) { s.WriteState() })
	s.tracker.Observe = func(kind string) {
		metrics.BinarySensorTransitions.WithLabelValues(s.entityID, kind).Inc()
	}
	s.entity = templating.NewEntity(deps.Renderer, deps.Executor, s.logger, s.WriteState)
	return s
}

// EntityID returns the Home Assistant entity id.
func (s *Sensor) EntityID() string { return s.entityID }

// Config returns the current configuration.
func (s *Sensor) Config() Config { return s.cfg }

// State returns the tracked state.
func (s *Sensor) State() State { return s.tracker.State() }

// Name is the friendly name, falling back to the item id.
func (s *Sensor) Name() string {
	if s.cfg.Name != "" {
		return s.cfg.Name
	}
	return s.cfg.ID
}

// PublishID is the unique id used for MQTT discovery.
func (s *Sensor) PublishID() string {
	if s.cfg.UniqueID != "" {
		return s.cfg.UniqueID
	}
	return "template_" + s.cfg.ID
}

// Start subscribes the templates and publishes the initial state.
func (s *Sensor) Start() {
	if s.entity.Running() {
		return
	}
	s.entity.AddAttribute("_state", s.cfg.ValueTemplate, s.tracker)
	s.entity.AddStandardTemplates(s.cfg.Templates)
	s.entity.Start()
	s.WriteState()
}

// Stop cancels the pending transition and unsubscribes the templates.
func (s *Sensor) Stop() {
	s.tracker.Cancel()
	s.entity.Reset()
}

// Remove stops the sensor and deletes it from Home Assistant.
func (s *Sensor) Remove() {
	s.Stop()
	if err := s.deps.Publisher.Remove(Domain, s.PublishID()); err != nil {
		s.logger.Error("Failed to remove entity", zap.Error(err))
	}
	s.discovery = nil
	s.last = nil
}

// UpdateConfig applies a new configuration and restarts the templates.
func (s *Sensor) UpdateConfig(cfg Config, entityID string) {
	oldID := s.PublishID()
	s.Stop()

	s.cfg = cfg
	if entityID != s.entityID {
		s.logger.Info("Entity id changed", zap.String("new_entity_id", entityID))
		s.entityID = entityID
		s.logger = s.deps.Logger.Named("binary_sensor").With(zap.String("entity_id", entityID))
	}
	s.tracker.SetDelays(cfg.DelayOn, cfg.DelayOff)

	if oldID != s.PublishID() {
		if err := s.deps.Publisher.Remove(Domain, oldID); err != nil {
			s.logger.Error("Failed to remove old entity", zap.Error(err))
		}
	}
	s.discovery = nil
	s.last = nil

	s.Start()
}

// PayloadNone is published while the state is unknown.
const PayloadNone = "None"

// StatePayload maps a State to its MQTT payload.
func StatePayload(st State) string {
	switch st {
	case On:
		return "on"
	case Off:
		return "off"
	default:
		return PayloadNone
	}
}

// WriteState publishes the entity, skipping writes that change nothing.
func (s *Sensor) WriteState() {
	s.announce()

	attrs := s.entity.Attributes()
	attrs[AttrEditable] = s.cfg.Editable

	snap := &snapshot{
		state:      StatePayload(s.tracker.State()),
		available:  s.entity.Available(),
		attributes: attrs,
	}
	if s.last != nil && reflect.DeepEqual(s.last, snap) {
		return
	}

	err := s.deps.Publisher.Publish(Domain, s.PublishID(), publish.StateUpdate{
		State:      snap.state,
		Attributes: snap.attributes,
		Available:  snap.available,
	})
	if err != nil {
		s.logger.Error("Failed to publish state", zap.Error(err))
		return
	}
	s.last = snap
	s.logger.Debug("Published state",
		zap.String("state", snap.state),
		zap.Bool("available", snap.available))
}

// announce (re)publishes discovery when the name, icon or picture changed.
func (s *Sensor) announce() {
	d := publish.Discovery{
		Component:     Domain,
		UniqueID:      s.PublishID(),
		ObjectID:      strings.TrimPrefix(s.entityID, Domain+"."),
		Name:          s.Name(),
		DeviceClass:   s.cfg.DeviceClass,
		Icon:          s.entity.Icon(),
		EntityPicture: s.entity.Picture(),
	}
	if s.discovery != nil && *s.discovery == d {
		return
	}
	if err := s.deps.Publisher.Announce(d); err != nil {
		s.logger.Error("Failed to announce entity", zap.Error(err))
		return
	}
	s.discovery = &d
}
