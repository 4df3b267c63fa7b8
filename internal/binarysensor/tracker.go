// Package binarysensor implements template binary sensors: a tri-state
// value driven by template renderings, with optional on and off delays.
package binarysensor

import (
	"time"

	"github.com/ZephireNZ/home-assistant-core/internal/clock"
	"github.com/ZephireNZ/home-assistant-core/internal/templating"
)

// State is the tri-state value of a binary sensor.
type State int8

const (
	Unknown State = iota
	Off
	On
)

// FromBool converts a boolean to On or Off.
func FromBool(b bool) State {
	if b {
		return On
	}
	return Off
}

func (s State) String() string {
	switch s {
	case On:
		return "on"
	case Off:
		return "off"
	default:
		return "unknown"
	}
}

// Transition kinds reported to the observer.
const (
	TransitionImmediate = "immediate"
	TransitionDelayed   = "delayed"
	TransitionCancelled = "cancelled"
)

// Tracker turns template renderings into a debounced State. It must only be
// used from the event loop; the scheduler's callbacks run there too.
//
// At most one transition is pending at any time, and every rendering cancels
// it before anything else happens.
type Tracker struct {
	scheduler clock.Scheduler
	delayOn   time.Duration
	delayOff  time.Duration
	onChange  func(State)

	// Observe, if set, is told about every transition.
	Observe func(kind string)

	state         State
	pending       clock.Handle
	pendingTarget State
}

// NewTracker creates a tracker in the Unknown state.
func NewTracker(scheduler clock.Scheduler, delayOn, delayOff time.Duration, onChange func(State)) *Tracker {
	return &Tracker{
		scheduler: scheduler,
		delayOn:   delayOn,
		delayOff:  delayOff,
		onChange:  onChange,
	}
}

// State returns the current state.
func (t *Tracker) State() State {
	return t.state
}

// Pending returns the target of the pending transition, if any.
func (t *Tracker) Pending() (State, bool) {
	if t.pending == nil {
		return Unknown, false
	}
	return t.pendingTarget, true
}

// SetDelays replaces the delays. A pending transition keeps its timer.
func (t *Tracker) SetDelays(delayOn, delayOff time.Duration) {
	t.delayOn = delayOn
	t.delayOff = delayOff
}

// Update applies one rendering.
func (t *Tracker) Update(r templating.Result) {
	t.Cancel()

	candidate := Unknown
	if !r.IsError() {
		candidate = FromBool(templating.ResultAsBoolean(r.Value))
	}

	if candidate == t.state {
		return
	}

	var delay time.Duration
	switch candidate {
	case On:
		delay = t.delayOn
	case Off:
		delay = t.delayOff
	}

	if delay <= 0 {
		t.set(candidate, TransitionImmediate)
		return
	}

	t.pendingTarget = candidate
	t.pending = t.scheduler.CallLater(delay, func() {
		t.pending = nil
		t.set(candidate, TransitionDelayed)
	})
}

// Cancel drops the pending transition, if any.
func (t *Tracker) Cancel() {
	if t.pending == nil {
		return
	}
	t.pending.Cancel()
	t.pending = nil
	t.observe(TransitionCancelled)
}

func (t *Tracker) set(s State, kind string) {
	t.state = s
	t.observe(kind)
	if t.onChange != nil {
		t.onChange(s)
	}
}

func (t *Tracker) observe(kind string) {
	if t.Observe != nil {
		t.Observe(kind)
	}
}

// Apply implements templating.Sink.
func (t *Tracker) Apply(value interface{}) {
	t.Update(templating.Result{Value: value})
}

// ApplyError implements templating.Sink.
func (t *Tracker) ApplyError(err error) {
	t.Update(templating.Result{Err: err})
}
