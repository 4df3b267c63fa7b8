package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ZephireNZ/home-assistant-core/internal/api"
	"github.com/ZephireNZ/home-assistant-core/internal/clock"
	"github.com/ZephireNZ/home-assistant-core/internal/config"
	"github.com/ZephireNZ/home-assistant-core/internal/ha"
	"github.com/ZephireNZ/home-assistant-core/internal/loop"
	"github.com/ZephireNZ/home-assistant-core/internal/metrics"
	"github.com/ZephireNZ/home-assistant-core/internal/publish"
	"github.com/ZephireNZ/home-assistant-core/pkg/plugin"

	// Integrations register themselves with the plugin registry.
	_ "github.com/ZephireNZ/home-assistant-core/internal/integrations/metservice"
	_ "github.com/ZephireNZ/home-assistant-core/internal/integrations/template"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var runCmd = cobra.Command{
	Use:   "run",
	Short: "Connect to Home Assistant and run the integrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		settings, err := LoadSettings(viper.GetViper())
		if err != nil {
			return err
		}

		logger, err := NewLogger(settings.Debug)
		if err != nil {
			return fmt.Errorf("failed to create logger: %w", err)
		}
		defer func() { _ = logger.Sync() }()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return Run(ctx, settings, logger)
	},
}

// Run connects to Home Assistant and the MQTT broker, starts every
// registered integration and serves the HTTP API until ctx is cancelled.
func Run(ctx context.Context, settings Settings, logger *zap.Logger) error {
	logger.Info("Starting hassbridge",
		zap.String("url", settings.HAURL),
		zap.String("config_dir", settings.ConfigDir),
		zap.Bool("read_only", settings.ReadOnly))

	loader := config.NewLoader(settings.ConfigDir, logger)
	if _, err := loader.Load(); err != nil {
		return err
	}

	client := ha.NewClient(settings.HAURL, settings.HAToken, logger)
	if err := client.Connect(); err != nil {
		return fmt.Errorf("failed to connect to Home Assistant: %w", err)
	}
	defer func() { _ = client.Disconnect() }()
	logger.Info("Connected to Home Assistant")

	publisher, err := newPublisher(settings, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("Failed to close publisher", zap.Error(err))
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	realClock := clock.NewRealClock()
	eventLoop := loop.New(realClock, logger, 0)
	g.Go(func() error { return eventLoop.Run(gctx) })

	integrations, err := plugin.CreateAll(&plugin.Context{
		HAClient:     client,
		Loop:         eventLoop,
		Clock:        realClock,
		Publisher:    publisher,
		Config:       loader,
		Group:        g,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
		PollInterval: settings.PollInterval,
		Logger:       logger,
		ReadOnly:     settings.ReadOnly,
	})
	if err != nil {
		cancel()
		_ = g.Wait()
		return err
	}
	if err := plugin.StartAll(gctx, integrations); err != nil {
		cancel()
		_ = g.Wait()
		return err
	}
	logger.Info("Integrations started", zap.Strings("integrations", plugin.Names()))

	apiOpts := api.Options{Gatherer: registry, Logger: logger, Port: settings.APIPort}
	for _, integration := range integrations {
		if t, ok := integration.(api.TemplateService); ok {
			apiOpts.Templates = t
		}
		if w, ok := integration.(api.WeatherService); ok {
			apiOpts.Weather = w
		}
	}
	server := api.NewServer(apiOpts)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return watchReload(gctx, integrations, logger) })

	err = g.Wait()
	logger.Info("Shutting down gracefully...")
	plugin.StopAll(integrations)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newPublisher(settings Settings, logger *zap.Logger) (publish.Publisher, error) {
	if settings.ReadOnly {
		logger.Info("Running in READ-ONLY mode - entities are logged, not published")
		return publish.NewLogPublisher(settings.Topics(), logger), nil
	}
	p, err := publish.NewMQTTPublisher(publish.MQTTConfig{
		Broker:   settings.MQTTBroker,
		ClientID: settings.MQTTClientID,
		Username: settings.MQTTUsername,
		Password: settings.MQTTPassword,
		Topics:   settings.Topics(),
	}, logger)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// watchReload reloads the integrations on SIGHUP.
func watchReload(ctx context.Context, integrations []plugin.Integration, logger *zap.Logger) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			logger.Info("Received SIGHUP, reloading configuration")
			if err := plugin.ReloadAll(ctx, integrations); err != nil {
				logger.Error("Reload failed", zap.Error(err))
			}
		}
	}
}
