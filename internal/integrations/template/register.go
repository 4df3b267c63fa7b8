package template

import (
	"fmt"

	"github.com/ZephireNZ/home-assistant-core/internal/binarysensor"
	"github.com/ZephireNZ/home-assistant-core/internal/collection"
	"github.com/ZephireNZ/home-assistant-core/internal/loop"
	"github.com/ZephireNZ/home-assistant-core/internal/templating"
	"github.com/ZephireNZ/home-assistant-core/pkg/plugin"
)

func init() {
	plugin.Register(plugin.Info{
		Name:        Name,
		Description: "Template binary sensors from configuration.yaml and storage",
		Priority:    plugin.PriorityDefault,
		Order:       20,
		Factory:     createIntegration,
	})
}

func createIntegration(ctx *plugin.Context) (plugin.Integration, error) {
	if ctx.HAClient == nil || ctx.Loop == nil || ctx.Config == nil {
		return nil, fmt.Errorf("template integration requires a Home Assistant client, event loop and config loader")
	}

	return New(Options{
		Caller: ctx.Loop,
		Deps: binarysensor.Deps{
			Renderer:  templating.NewHARenderer(ctx.HAClient, loop.Go{}, ctx.Logger),
			Executor:  ctx.Loop,
			Scheduler: ctx.Loop,
			Publisher: ctx.Publisher,
			Logger:    ctx.Logger,
		},
		Store:    collection.NewFileStore(ctx.Config.Dir(), StorageKey),
		Sensors:  ctx.Config.TemplateBinarySensors,
		Events:   ctx.HAClient,
		Logger:   ctx.Logger,
		ReadOnly: ctx.ReadOnly,
	}), nil
}
