package manager

import "sync"

// MemoryPublisher records events in publish order. Tests use it to assert
// on the manager's lifecycle.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

// Names returns the event names in publish order.
func (p *MemoryPublisher) Names() []string {
	return p.collect(func(e Event) (string, bool) { return e.Name, true })
}

// Models returns, in order, the model of every event called name.
func (p *MemoryPublisher) Models(name string) []string {
	return p.collect(func(e Event) (string, bool) { return e.ModelID, e.Name == name })
}

func (p *MemoryPublisher) collect(pick func(Event) (string, bool)) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		if s, ok := pick(e); ok {
			out = append(out, s)
		}
	}
	return out
}
