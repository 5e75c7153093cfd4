package consumer

import (
	"context"
	"errors"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/angelmondragon/stockledger/internal/events"
	"github.com/angelmondragon/stockledger/pkg/logger"
	"github.com/angelmondragon/stockledger/pkg/metrics"
)

const pubsubTransport = "pubsub"

type subscription interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

// PubSubConsumer applies events delivered on a Pub/Sub subscription. Pub/Sub
// has no partitions or offsets, so messages are identified by event id, falling
// back to the Pub/Sub message id which is stable across redeliveries.
type PubSubConsumer struct {
	sub   subscription
	topic string
	proc  *processor
}

func NewPubSubConsumer(sub subscription, subscriptionName string, router Router, decoder Decoder, logg *logger.Logger, m *metrics.PipelineMetrics) (*PubSubConsumer, error) {
	if sub == nil {
		return nil, errors.New("pubsub subscription is required")
	}
	if strings.TrimSpace(subscriptionName) == "" {
		return nil, errors.New("subscription name is required")
	}
	if router == nil {
		return nil, errors.New("router is required")
	}
	if decoder == nil {
		return nil, errors.New("decoder is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &PubSubConsumer{
		sub:   sub,
		topic: strings.TrimSpace(subscriptionName),
		proc: &processor{
			transport: pubsubTransport,
			router:    router,
			decoder:   decoder,
			logg:      logg,
			metrics:   m,
		},
	}, nil
}

// Run processes deliveries until the context is canceled.
func (c *PubSubConsumer) Run(ctx context.Context) error {
	return c.sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.MapCarrier(msg.Attributes))
		if c.process(ctx, msg.ID, msg.Data) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// process reports whether the message should be acked.
func (c *PubSubConsumer) process(ctx context.Context, messageID string, data []byte) bool {
	ctx = c.proc.logg.WithField(ctx, "message_id", messageID)
	coords := events.Coordinates{Topic: events.Ptr(c.topic)}
	if err := c.proc.handle(ctx, data, coords, messageID); err != nil {
		c.proc.logg.Error(ctx, "event processing failed, nacking", err)
		return false
	}
	return true
}
