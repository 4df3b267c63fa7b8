package templating

import (
	"sort"

	"github.com/ZephireNZ/home-assistant-core/internal/loop"
	"github.com/ZephireNZ/home-assistant-core/internal/metrics"

	"go.uber.org/zap"
)

// Sink consumes the renderings of one template.
type Sink interface {
	Apply(value interface{})
	ApplyError(err error)
}

// SinkFuncs adapts a pair of functions to Sink.
type SinkFuncs struct {
	OnValue func(value interface{})
	OnError func(err error)
}

func (s SinkFuncs) Apply(value interface{}) {
	if s.OnValue != nil {
		s.OnValue(value)
	}
}

func (s SinkFuncs) ApplyError(err error) {
	if s.OnError != nil {
		s.OnError(err)
	}
}

// Attribute binds a template to the Sink that receives its renderings.
type Attribute struct {
	Name     string
	Template string
	Sink     Sink
}

// Deliver hands a rendering to the sink.
func (a *Attribute) Deliver(r Result) {
	metrics.TemplateRenders.WithLabelValues(metrics.ResultLabel(r.Err)).Inc()
	if r.IsError() {
		a.Sink.ApplyError(r.Err)
		return
	}
	a.Sink.Apply(r.Value)
}

// Entity holds the templated attributes of one entity: availability, icon,
// picture and free-form attributes, plus whatever state attributes the owner
// adds. Every rendering runs on the executor and is followed by a call to
// the owner's write function.
type Entity struct {
	renderer Renderer
	executor loop.Executor
	logger   *zap.Logger
	write    func()

	attributes []*Attribute
	subs       []Subscription
	generation int
	running    bool

	available bool
	icon      string
	picture   string
	extra     map[string]interface{}
}

// EntityTemplates are the optional templates every template entity supports.
type EntityTemplates struct {
	Availability string
	Icon         string
	Picture      string
	Attributes   map[string]string
}

// NewEntity creates an Entity. write is called after every rendering.
func NewEntity(renderer Renderer, executor loop.Executor, logger *zap.Logger, write func()) *Entity {
	return &Entity{
		renderer:  renderer,
		executor:  executor,
		logger:    logger,
		write:     write,
		available: true,
		extra:     make(map[string]interface{}),
	}
}

// AddAttribute registers a template with its sink. It must be called before Start.
func (e *Entity) AddAttribute(name, template string, sink Sink) {
	if template == "" {
		return
	}
	e.attributes = append(e.attributes, &Attribute{Name: name, Template: template, Sink: sink})
}

// AddStandardTemplates registers the availability, icon, picture and
// attribute templates.
func (e *Entity) AddStandardTemplates(t EntityTemplates) {
	e.AddAttribute("_available", t.Availability, SinkFuncs{
		OnValue: func(v interface{}) { e.available = ResultAsBoolean(v) },
		// A broken availability template leaves the entity available.
		OnError: func(error) { e.available = true },
	})
	e.AddAttribute("_icon", t.Icon, SinkFuncs{
		OnValue: func(v interface{}) { e.icon = ResultAsString(v) },
		OnError: func(error) { e.icon = "" },
	})
	e.AddAttribute("_entity_picture", t.Picture, SinkFuncs{
		OnValue: func(v interface{}) { e.picture = ResultAsString(v) },
		OnError: func(error) { e.picture = "" },
	})

	keys := make([]string, 0, len(t.Attributes))
	for key := range t.Attributes {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		key := key
		e.AddAttribute(key, t.Attributes[key], SinkFuncs{
			OnValue: func(v interface{}) { e.extra[key] = v },
			OnError: func(error) { delete(e.extra, key) },
		})
	}
}

// Start subscribes every attribute. A template that cannot be subscribed is
// reported to its sink as an error rather than failing the entity.
func (e *Entity) Start() {
	if e.running {
		return
	}
	e.running = true
	e.generation++
	gen := e.generation

	for _, attr := range e.attributes {
		attr := attr
		sub, err := e.renderer.Subscribe(attr.Template, func(r Result) {
			e.executor.Post(func() {
				if !e.running || e.generation != gen {
					return
				}
				attr.Deliver(r)
				e.write()
			})
		})
		if err != nil {
			e.logger.Warn("Failed to subscribe template",
				zap.String("attribute", attr.Name),
				zap.String("template", attr.Template),
				zap.Error(err))
			attr.Deliver(Result{Err: &Error{Template: attr.Template, Message: err.Error()}})
			continue
		}
		e.subs = append(e.subs, sub)
	}
}

// Stop unsubscribes every attribute. Renderings already queued are dropped.
func (e *Entity) Stop() {
	if !e.running {
		return
	}
	e.running = false

	for _, sub := range e.subs {
		if err := sub.Unsubscribe(); err != nil {
			e.logger.Debug("Failed to unsubscribe template", zap.Error(err))
		}
	}
	e.subs = nil
}

// Reset stops the entity and forgets its templates so new ones can be added.
func (e *Entity) Reset() {
	e.Stop()
	e.attributes = nil
	e.available = true
	e.icon = ""
	e.picture = ""
	e.extra = make(map[string]interface{})
}

// Running reports whether the entity's templates are subscribed.
func (e *Entity) Running() bool { return e.running }

// Available is the last availability rendering (true without a template).
func (e *Entity) Available() bool { return e.available }

// Icon is the last icon rendering.
func (e *Entity) Icon() string { return e.icon }

// Picture is the last entity picture rendering.
func (e *Entity) Picture() string { return e.picture }

// Attributes returns a copy of the templated attributes.
func (e *Entity) Attributes() map[string]interface{} {
	out := make(map[string]interface{}, len(e.extra))
	for k, v := range e.extra {
		out[k] = v
	}
	return out
}
