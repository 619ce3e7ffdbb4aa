package manager

import (
	"time"

	"github.com/rs/zerolog"
)

// Event represents a manager lifecycle event.
// Minimal and stable: name + model ID and optional fields via key/values.
type Event struct {
	Name    string
	ModelID string
	Time    time.Time
	Fields  map[string]any
}

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// LogPublisher writes every event as one structured log line.
type LogPublisher struct {
	Logger zerolog.Logger
}

func (p LogPublisher) Publish(e Event) {
	p.Logger.Info().
		Str("event", e.Name).
		Str("model", e.ModelID).
		Fields(e.Fields).
		Msg("manager event")
}
