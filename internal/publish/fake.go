package publish

import (
	"sync"
)

// FakePublisher records everything it is asked to publish.
type FakePublisher struct {
	mu sync.Mutex

	// Announced holds the latest discovery per unique id.
	Announced map[string]Discovery

	// Updates holds every published state, in order, per unique id.
	Updates map[string][]StateUpdate

	// Removed lists the unique ids that were removed.
	Removed []string

	// PublishError, if set, is returned by Publish.
	PublishError error

	Closed bool
}

func NewFakePublisher() *FakePublisher {
	return &FakePublisher{
		Announced: make(map[string]Discovery),
		Updates:   make(map[string][]StateUpdate),
	}
}

func (p *FakePublisher) Announce(d Discovery) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Announced[d.UniqueID] = d
	return nil
}

func (p *FakePublisher) Publish(_, uniqueID string, u StateUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.PublishError != nil {
		return p.PublishError
	}
	p.Updates[uniqueID] = append(p.Updates[uniqueID], u)
	return nil
}

func (p *FakePublisher) Remove(_, uniqueID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.Announced, uniqueID)
	p.Removed = append(p.Removed, uniqueID)
	return nil
}

func (p *FakePublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed = true
	return nil
}

// Last returns the most recent state published for uniqueID.
func (p *FakePublisher) Last(uniqueID string) (StateUpdate, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	updates := p.Updates[uniqueID]
	if len(updates) == 0 {
		return StateUpdate{}, false
	}
	return updates[len(updates)-1], true
}

// Count returns how many states were published for uniqueID.
func (p *FakePublisher) Count(uniqueID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Updates[uniqueID])
}

// Discovery returns the current discovery for uniqueID.
func (p *FakePublisher) Discovery(uniqueID string) (Discovery, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	d, ok := p.Announced[uniqueID]
	return d, ok
}
