package metservice

import (
	"sync"
	"time"

	"github.com/ZephireNZ/home-assistant-core/internal/clock"
)

const (
	// MinTimeBetweenUpdates throttles the current observations.
	MinTimeBetweenUpdates = 10 * time.Minute

	// MinTimeBetweenForecastUpdates throttles the forecast.
	MinTimeBetweenForecastUpdates = 30 * time.Minute
)

// Throttle limits how often a call runs. Only successful calls count, so a
// failed fetch is retried on the next poll.
type Throttle struct {
	clock    clock.Clock
	interval time.Duration

	mu   sync.Mutex
	last time.Time
}

// NewThrottle creates a throttle that allows one call per interval.
func NewThrottle(c clock.Clock, interval time.Duration) *Throttle {
	return &Throttle{clock: c, interval: interval}
}

// Do runs f unless it last succeeded less than interval ago. It reports
// whether f ran.
func (t *Throttle) Do(f func() error) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	if !t.last.IsZero() && now.Sub(t.last) < t.interval {
		return false, nil
	}
	if err := f(); err != nil {
		return true, err
	}
	t.last = now
	return true, nil
}
