// Package loop provides the single event-processing goroutine that owns all
// entity state. Template results, timer callbacks and API mutations are
// posted to the loop and run one at a time, so entity code needs no locks.
package loop

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ZephireNZ/home-assistant-core/internal/clock"

	"go.uber.org/zap"
)

// Executor runs tasks on the event goroutine.
type Executor interface {
	Post(task func())
}

// Caller runs a task on the event goroutine and waits for it.
type Caller interface {
	Call(ctx context.Context, f func()) error
}

// ErrStopped is returned by Call once the loop has stopped.
var ErrStopped = errors.New("event loop stopped")

// Loop is a serial task executor. It also implements clock.Scheduler: delayed
// calls are posted back onto the loop when their timer expires.
type Loop struct {
	clock  clock.Clock
	logger *zap.Logger
	tasks  chan func()
	done   chan struct{}
	once   sync.Once
}

// New creates a loop with the given queue capacity.
func New(c clock.Clock, logger *zap.Logger, capacity int) *Loop {
	if capacity <= 0 {
		capacity = 256
	}
	return &Loop{
		clock:  c,
		logger: logger.Named("loop"),
		tasks:  make(chan func(), capacity),
		done:   make(chan struct{}),
	}
}

// Post enqueues a task. Tasks posted after the loop stopped are dropped.
func (l *Loop) Post(task func()) {
	select {
	case <-l.done:
		l.logger.Debug("Dropping task posted after shutdown")
	case l.tasks <- task:
	}
}

// Run drains the task queue until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Debug("Event loop started")
	defer l.logger.Debug("Event loop stopped")
	defer l.once.Do(func() { close(l.done) })

	for {
		select {
		case <-ctx.Done():
			return nil
		case task := <-l.tasks:
			l.run(task)
		}
	}
}

func (l *Loop) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Task panicked", zap.Any("panic", r))
		}
	}()
	task()
}

// Call posts f and waits for it to finish, or for ctx to be done.
func (l *Loop) Call(ctx context.Context, f func()) error {
	finished := make(chan struct{})
	l.Post(func() {
		defer close(finished)
		f()
	})

	select {
	case <-finished:
		return nil
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CallLater schedules f on the loop after d. It must be called from the loop.
func (l *Loop) CallLater(d time.Duration, f func()) clock.Handle {
	h := &handle{}
	h.timer = l.clock.AfterFunc(d, func() {
		l.Post(func() {
			if h.cancelled {
				return
			}
			h.cancelled = true
			f()
		})
	})
	return h
}

// handle is only touched from the loop goroutine.
type handle struct {
	timer     clock.Timer
	cancelled bool
}

func (h *handle) Cancel() {
	if h.cancelled {
		return
	}
	h.cancelled = true
	h.timer.Stop()
}

// Inline runs posted tasks immediately on the caller's goroutine.
// It is meant for tests that drive entities synchronously.
type Inline struct{}

func (Inline) Post(task func()) { task() }

func (Inline) Call(_ context.Context, f func()) error {
	f()
	return nil
}

// Go runs every posted task on a goroutine of its own. Blocking work such
// as websocket round-trips is posted here so the event goroutine never
// waits on the network.
type Go struct{}

func (Go) Post(task func()) { go task() }
