package history

import (
	"context"
	"time"
)

// EventType defines the kind of throttle event.
type EventType string

const (
	EventPause  EventType = "pause"
	EventResume EventType = "resume"
	// EventHog records a renderer found at or above the usage threshold.
	EventHog EventType = "hog"
)

// Event is one journal entry exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	PID        int       `json:"pid"`
	Usage      float64   `json:"usage_fraction,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Failed reports whether the event records an unsuccessful delivery.
func (e Event) Failed() bool { return e.Error != "" }

// Sink is a destination for journal events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// Reader is implemented by sinks that can return what they stored.
type Reader interface {
	// Recent returns up to limit events, newest first.
	Recent(ctx context.Context, limit int) ([]Event, error)
}
