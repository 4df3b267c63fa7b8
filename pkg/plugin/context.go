package plugin

import (
	"net/http"
	"time"

	"github.com/ZephireNZ/home-assistant-core/internal/clock"
	"github.com/ZephireNZ/home-assistant-core/internal/config"
	"github.com/ZephireNZ/home-assistant-core/internal/ha"
	"github.com/ZephireNZ/home-assistant-core/internal/loop"
	"github.com/ZephireNZ/home-assistant-core/internal/publish"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Context provides dependencies to integrations during initialization.
type Context struct {
	// HAClient renders templates and fires events in Home Assistant.
	HAClient ha.HAClient

	// Loop is the event loop that owns every entity.
	Loop *loop.Loop

	// Clock is the source of time for pollers and throttles.
	Clock clock.Clock

	// Publisher exposes entities to Home Assistant.
	Publisher publish.Publisher

	// Config is the configuration.yaml loader.
	Config *config.Loader

	// Group runs the integration's background goroutines. It is nil in
	// tests that do not start any.
	Group *errgroup.Group

	// HTTPClient is used for calls to third-party APIs.
	HTTPClient *http.Client

	// PollInterval is the scan interval of polling integrations.
	PollInterval time.Duration

	// Logger is a structured logger; integrations should use Logger.Named.
	Logger *zap.Logger

	// ReadOnly indicates that nothing should be written to Home Assistant.
	ReadOnly bool
}
