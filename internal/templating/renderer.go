package templating

import (
	"sync"

	"github.com/ZephireNZ/home-assistant-core/internal/ha"
	"github.com/ZephireNZ/home-assistant-core/internal/loop"

	"go.uber.org/zap"
)

// Subscription stops the delivery of renderings.
type Subscription interface {
	Unsubscribe() error
}

// Renderer evaluates templates against live entity state. The handler is
// called once with the initial rendering and again whenever it changes.
type Renderer interface {
	Subscribe(template string, handler func(Result)) (Subscription, error)
}

// HARenderer renders templates with Home Assistant's template engine over
// the websocket API. Subscribe and Unsubscribe return at once; the
// round-trips to Home Assistant run on the io executor.
type HARenderer struct {
	client ha.HAClient
	io     loop.Executor
	logger *zap.Logger
}

// NewHARenderer creates a Renderer backed by client. Production code passes
// loop.Go as io; tests pass loop.Inline to subscribe synchronously.
func NewHARenderer(client ha.HAClient, io loop.Executor, logger *zap.Logger) *HARenderer {
	return &HARenderer{client: client, io: io, logger: logger}
}

// Subscribe implements Renderer. A subscription Home Assistant rejects is
// delivered to handler as an error rendering.
func (r *HARenderer) Subscribe(template string, handler func(Result)) (Subscription, error) {
	sub := &haSubscription{io: r.io, logger: r.logger}

	r.io.Post(func() {
		inner, err := r.client.SubscribeTemplate(template, func(result ha.TemplateResult) {
			if sub.cancelled() {
				return
			}
			handler(FromHA(template, result))
		})
		if err != nil {
			if sub.cancelled() {
				return
			}
			r.logger.Warn("Failed to subscribe template", zap.String("template", template), zap.Error(err))
			handler(Result{Err: &Error{Template: template, Message: err.Error()}})
			return
		}
		if !sub.attach(inner) {
			sub.release(inner)
		}
	})
	return sub, nil
}

type haSubscription struct {
	io     loop.Executor
	logger *zap.Logger

	mu    sync.Mutex
	inner ha.Subscription
	done  bool
}

func (s *haSubscription) cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// attach records the Home Assistant subscription, or reports false when
// Unsubscribe already ran.
func (s *haSubscription) attach(inner ha.Subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false
	}
	s.inner = inner
	return true
}

func (s *haSubscription) release(inner ha.Subscription) {
	if err := inner.Unsubscribe(); err != nil {
		s.logger.Debug("Failed to unsubscribe template", zap.Error(err))
	}
}

// Unsubscribe implements Subscription. A subscription still in flight is
// released as soon as Home Assistant acknowledges it.
func (s *haSubscription) Unsubscribe() error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return nil
	}
	s.done = true
	inner := s.inner
	s.mu.Unlock()

	if inner != nil {
		s.io.Post(func() { s.release(inner) })
	}
	return nil
}
