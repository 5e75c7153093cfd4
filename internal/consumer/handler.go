// Package consumer feeds transport messages into the event pipeline.
package consumer

import (
	"context"

	"github.com/angelmondragon/stockledger/internal/events"
	"github.com/angelmondragon/stockledger/pkg/envelope"
	"github.com/angelmondragon/stockledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/stockledger/pkg/errors"
	"github.com/angelmondragon/stockledger/pkg/logger"
	"github.com/angelmondragon/stockledger/pkg/metrics"
)

// Router applies one decoded event.
type Router interface {
	Route(ctx context.Context, event events.Event, coords events.Coordinates) (enums.Outcome, error)
}

// Decoder turns an envelope into an event variant.
type Decoder interface {
	Decode(env envelope.Envelope) (events.Event, error)
}

type processor struct {
	transport string
	router    Router
	decoder   Decoder
	logg      *logger.Logger
	metrics   *metrics.PipelineMetrics
}

// handle decodes and routes raw. A nil error means the message is consumed and
// may be committed or acked; an error means it must be redelivered.
// fallbackID becomes the event id when the envelope carries none.
func (p *processor) handle(ctx context.Context, raw []byte, coords events.Coordinates, fallbackID string) error {
	ctx = p.logg.WithEventCoordinates(ctx, coords.Topic, coords.Partition, coords.Offset)

	env, err := envelope.Parse(raw)
	if err != nil {
		return p.dropUndecodable(ctx, raw, err)
	}
	if env.EventID == "" {
		env.EventID = fallbackID
	}
	event, err := p.decoder.Decode(env)
	if err != nil {
		return p.dropUndecodable(ctx, raw, err)
	}

	outcome, err := p.router.Route(ctx, event, coords)
	if err != nil {
		if pkgerrors.IsRetryable(err) {
			return err
		}
		p.logg.Error(ctx, "event dropped after non-retryable failure", err)
		return nil
	}
	p.logg.Debug(p.logg.WithField(ctx, "outcome", outcome.String()), "message consumed")
	return nil
}

func (p *processor) dropUndecodable(ctx context.Context, raw []byte, err error) error {
	p.metrics.IncDecodeFailure(p.transport)
	p.logg.Error(p.logg.WithFields(ctx, map[string]any{
		"payload_preview": preview(raw, 512),
		"payload_len":     len(raw),
	}), "dropping undecodable message", err)
	return nil
}

func preview(raw []byte, limit int) string {
	if len(raw) <= limit {
		return string(raw)
	}
	return string(raw[:limit]) + "..."
}
