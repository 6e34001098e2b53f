package nats

import (
	"context"
	"encoding/json"

	"github.com/c360/graphbus/dispatch"
	"github.com/c360/graphbus/errors"
	"github.com/c360/graphbus/metric"
)

// Publisher is the part of natsclient.Client the event publisher uses.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// EventPublisher sends committed mutations as JSON to <subject>.<action>, so
// consumers can subscribe to <subject>.> or to single actions.
type EventPublisher struct {
	client  Publisher
	subject string
	metrics *metric.Metrics
}

var _ dispatch.Publisher = (*EventPublisher)(nil)

// NewEventPublisher creates a publisher. registry may be nil.
func NewEventPublisher(client Publisher, subject string, registry *metric.MetricsRegistry) *EventPublisher {
	p := &EventPublisher{client: client, subject: subject}
	if registry != nil {
		p.metrics = registry.CoreMetrics()
	}
	return p
}

// Publish implements dispatch.Publisher.
func (p *EventPublisher) Publish(ctx context.Context, event dispatch.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.WrapInvalid(err, "EventPublisher", "Publish", "marshal event")
	}
	if err := p.client.Publish(ctx, p.subject+"."+event.Action, data); err != nil {
		return errors.WrapTransient(err, "EventPublisher", "Publish", "publish event")
	}
	if p.metrics != nil {
		p.metrics.RecordEventPublished()
	}
	return nil
}
