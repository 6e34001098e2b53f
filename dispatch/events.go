package dispatch

import (
	"context"
	"time"
)

// Event announces a committed mutation.
type Event struct {
	Action    string    `json:"action"`
	ID        any       `json:"_id,omitempty"`
	Session   string    `json:"session"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher delivers mutation events. Publishing happens after commit and never
// changes the reply; failures are only logged.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, event Event) error

// Publish calls f(ctx, event).
func (f PublisherFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}
