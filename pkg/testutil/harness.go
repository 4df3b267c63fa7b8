package testutil

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ZephireNZ/home-assistant-core/internal/clock"
	"github.com/ZephireNZ/home-assistant-core/internal/config"
	"github.com/ZephireNZ/home-assistant-core/internal/ha"
	"github.com/ZephireNZ/home-assistant-core/internal/loop"
	"github.com/ZephireNZ/home-assistant-core/internal/publish"
	"github.com/ZephireNZ/home-assistant-core/pkg/plugin"

	"go.uber.org/zap"
)

// TestToken is the access token accepted by the environment's server.
const TestToken = "test_token"

// TestEnv wires the registered integrations to a mock Home Assistant server,
// a real client and event loop, and a fake MQTT publisher.
//
// Example usage:
//
//	env, err := testutil.NewTestEnv(t.TempDir(), configYAML)
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer env.Cleanup()
//
//	require.NoError(t, env.Start())
//	env.Server.SetTemplate("{{ is_state('lock.front', 'unlocked') }}", true)
type TestEnv struct {
	Server       *MockHAServer
	Client       *ha.Client
	Publisher    *publish.FakePublisher
	Loop         *loop.Loop
	Loader       *config.Loader
	Logger       *zap.Logger
	Integrations []plugin.Integration

	// HTTPClient is handed to integrations calling third-party APIs. Set it
	// before Start to redirect them to a test server.
	HTTPClient *http.Client

	// PollInterval is the scan interval of polling integrations.
	PollInterval time.Duration

	cancel   context.CancelFunc
	loopDone chan error
}

// NewTestEnv writes configYAML to configuration.yaml in configDir, starts a
// mock server and connects a client to it.
func NewTestEnv(configDir, configYAML string) (*TestEnv, error) {
	logger, _ := zap.NewDevelopment()

	if configYAML != "" {
		if err := os.WriteFile(filepath.Join(configDir, config.FileName), []byte(configYAML), 0o644); err != nil {
			return nil, fmt.Errorf("failed to write configuration: %w", err)
		}
	}

	server := NewMockHAServer(TestToken)
	client := ha.NewClient(server.URL(), TestToken, logger)
	if err := client.Connect(); err != nil {
		server.Stop()
		return nil, fmt.Errorf("failed to connect client: %w", err)
	}

	return &TestEnv{
		Server:       server,
		Client:       client,
		Publisher:    publish.NewFakePublisher(),
		Loader:       config.NewLoader(configDir, logger),
		Logger:       logger,
		HTTPClient:   http.DefaultClient,
		PollInterval: time.Hour,
	}, nil
}

// Start runs the event loop and creates and starts every registered
// integration.
func (e *TestEnv) Start() error {
	if _, err := e.Loader.Load(); err != nil {
		return err
	}

	realClock := clock.NewRealClock()
	e.Loop = loop.New(realClock, e.Logger, 0)

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.loopDone = make(chan error, 1)
	go func() { e.loopDone <- e.Loop.Run(ctx) }()

	integrations, err := plugin.CreateAll(&plugin.Context{
		HAClient:     e.Client,
		Loop:         e.Loop,
		Clock:        realClock,
		Publisher:    e.Publisher,
		Config:       e.Loader,
		HTTPClient:   e.HTTPClient,
		PollInterval: e.PollInterval,
		Logger:       e.Logger,
	})
	if err != nil {
		return err
	}
	if err := plugin.StartAll(ctx, integrations); err != nil {
		return err
	}
	e.Integrations = integrations
	return nil
}

// Integration returns the started integration called name, or nil.
func (e *TestEnv) Integration(name string) plugin.Integration {
	for _, i := range e.Integrations {
		if i.Name() == name {
			return i
		}
	}
	return nil
}

// Cleanup stops all components in the correct order.
// Always call this in a defer after creating the TestEnv.
func (e *TestEnv) Cleanup() {
	plugin.StopAll(e.Integrations)
	if e.cancel != nil {
		e.cancel()
		<-e.loopDone
	}
	if e.Client != nil {
		_ = e.Client.Disconnect()
	}
	if e.Server != nil {
		e.Server.Stop()
	}
}
