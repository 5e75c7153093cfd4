package pubsub

import (
	"context"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

type resultPublisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) *pubsub.PublishResult
}

// EventPublisher publishes keyed envelopes. The key becomes the ordering key so
// events for one stock line are delivered in publish order.
type EventPublisher struct {
	publisher resultPublisher
}

// NewEventPublisher wraps the events topic publisher with message ordering enabled.
func (c *Client) NewEventPublisher() (*EventPublisher, error) {
	p, err := c.eventsPublisher()
	if err != nil {
		return nil, err
	}
	p.EnableMessageOrdering = true
	return &EventPublisher{publisher: p}, nil
}

func (p *EventPublisher) Publish(ctx context.Context, key string, value []byte) error {
	attrs := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, attrs)

	res := p.publisher.Publish(ctx, &pubsub.Message{
		Data:        value,
		OrderingKey: key,
		Attributes:  attrs,
	})
	if _, err := res.Get(ctx); err != nil {
		return fmt.Errorf("publish pubsub message: %w", err)
	}
	return nil
}
