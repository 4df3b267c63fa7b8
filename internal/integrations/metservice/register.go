package metservice

import (
	"fmt"

	"github.com/ZephireNZ/home-assistant-core/internal/clock"
	"github.com/ZephireNZ/home-assistant-core/pkg/plugin"
)

func init() {
	plugin.Register(plugin.Info{
		Name:        Name,
		Description: "MetService weather entities",
		Priority:    plugin.PriorityDefault,
		Order:       60,
		Factory:     createIntegration,
	})
}

func createIntegration(ctx *plugin.Context) (plugin.Integration, error) {
	if ctx.Config == nil || ctx.Publisher == nil {
		return nil, fmt.Errorf("metservice integration requires a config loader and publisher")
	}

	c := ctx.Clock
	if c == nil {
		c = clock.NewRealClock()
	}

	i, err := New(Options{
		Entries:   ctx.Config.Config().MetService,
		API:       NewClient(DefaultBaseURL, ctx.HTTPClient),
		Clock:     c,
		Publisher: ctx.Publisher,
		Interval:  ctx.PollInterval,
		Group:     ctx.Group,
		Logger:    ctx.Logger,
	})
	if err != nil {
		return nil, err
	}
	return i, nil
}
