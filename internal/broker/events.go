package broker

import (
	"context"
	"fmt"

	"order-reconciler/internal/models"
)

// EventSink is where outcome events are written
type EventSink interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing cascade outcome events
type EventPublisher struct {
	sink EventSink
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(sink EventSink) *EventPublisher {
	return &EventPublisher{sink: sink}
}

// PublishCascadeOutcome publishes one cascade verdict keyed by customer phone,
// so verdicts of one customer stay ordered within a partition.
func (ep *EventPublisher) PublishCascadeOutcome(ctx context.Context, event *models.CascadeOutcomeEvent) error {
	key := fmt.Sprintf("ticket-%s", event.Phone)
	return ep.sink.PublishEvent(ctx, key, event)
}

// NoopPublisher discards outcome events when no broker is configured
type NoopPublisher struct{}

func (NoopPublisher) PublishCascadeOutcome(context.Context, *models.CascadeOutcomeEvent) error {
	return nil
}
