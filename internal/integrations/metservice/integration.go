// Package metservice implements weather entities fed by the MetService
// (New Zealand) public data API.
package metservice

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ZephireNZ/home-assistant-core/internal/clock"
	"github.com/ZephireNZ/home-assistant-core/internal/config"
	"github.com/ZephireNZ/home-assistant-core/internal/publish"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Name is the integration name.
const Name = "metservice"

// Options configures an Integration.
type Options struct {
	Entries   []config.MetServiceEntry
	API       API
	Clock     clock.Clock
	Publisher publish.Publisher
	Interval  time.Duration

	// Group runs the pollers. When nil they run on plain goroutines.
	Group  *errgroup.Group
	Logger *zap.Logger
}

// Integration polls one weather entity per configured city and mode.
type Integration struct {
	pollers []*Poller
	group   *errgroup.Group
	logger  *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates the entries and creates their pollers. Unknown cities,
// invalid modes and duplicate city/mode pairs are configuration errors.
func New(opts Options) (*Integration, error) {
	logger := opts.Logger.Named(Name)
	i := &Integration{group: opts.Group, logger: logger}

	seen := make(map[string]bool)
	for n, entry := range opts.Entries {
		city, err := LookupCity(entry.City)
		if err != nil {
			return nil, fmt.Errorf("metservice entry %d: %w", n, err)
		}
		mode, err := ParseMode(entry.Mode)
		if err != nil {
			return nil, fmt.Errorf("metservice entry %d: %w", n, err)
		}

		w := NewWeather(city, mode, opts.API, opts.Clock, logger)
		if seen[w.UniqueID()] {
			return nil, fmt.Errorf("metservice entry %d: %s is already configured", n, w.UniqueID())
		}
		seen[w.UniqueID()] = true

		i.pollers = append(i.pollers, NewPoller(w, opts.Publisher, opts.Interval, logger))
	}
	return i, nil
}

// Name implements plugin.Integration.
func (i *Integration) Name() string { return Name }

// Start launches the pollers. They stop when ctx is cancelled or on Stop.
func (i *Integration) Start(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.cancel != nil {
		return fmt.Errorf("metservice already started")
	}

	ctx, i.cancel = context.WithCancel(ctx)
	for _, p := range i.pollers {
		p := p
		i.wg.Add(1)
		run := func() error {
			defer i.wg.Done()
			return p.Run(ctx)
		}
		if i.group != nil {
			i.group.Go(run)
		} else {
			go func() { _ = run() }()
		}
	}

	i.logger.Info("MetService started", zap.Int("entities", len(i.pollers)))
	return nil
}

// Stop cancels the pollers and waits for them to exit.
func (i *Integration) Stop() {
	i.mu.Lock()
	cancel := i.cancel
	i.cancel = nil
	i.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	i.wg.Wait()
}

// Records returns a snapshot of every weather entity, sorted by unique id.
func (i *Integration) Records() []Record {
	records := make([]Record, 0, len(i.pollers))
	for _, p := range i.pollers {
		records = append(records, p.Weather().Record())
	}
	sort.Slice(records, func(a, b int) bool { return records[a].UniqueID < records[b].UniqueID })
	return records
}
