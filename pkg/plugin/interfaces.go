// Package plugin provides the integration interfaces and registry. Each
// integration registers itself with the global registry from an init()
// function, so the set of integrations is chosen at compile time by the
// packages the binary imports.
package plugin

import "context"

// Integration is implemented by every integration (template, metservice).
type Integration interface {
	// Name returns the unique identifier for this integration.
	Name() string

	// Start loads the integration's configuration and creates its entities.
	// Long-running work (pollers) must be started on the errgroup in the
	// Context rather than blocking here.
	Start(ctx context.Context) error

	// Stop releases subscriptions and timers. Entities stay registered in
	// Home Assistant and are marked unavailable by the bridge status topic.
	Stop()
}

// Reloadable is an optional interface for integrations that can re-read
// configuration.yaml without a restart.
type Reloadable interface {
	Reload(ctx context.Context) error
}

// Factory creates a new integration instance given a context.
type Factory func(ctx *Context) (Integration, error)
