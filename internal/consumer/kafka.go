package consumer

import (
	"context"
	"errors"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/stockledger/internal/events"
	pkgkafka "github.com/angelmondragon/stockledger/pkg/kafka"
	"github.com/angelmondragon/stockledger/pkg/logger"
	"github.com/angelmondragon/stockledger/pkg/metrics"
)

const (
	kafkaTransport        = "kafka"
	defaultPartitionQueue = 64
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaConsumer reads a consumer group and hands each partition to its own
// worker, so messages of one partition are applied in offset order while
// partitions proceed concurrently. A message is committed only after it has
// been applied or deliberately dropped.
type KafkaConsumer struct {
	reader     messageReader
	proc       *processor
	queueDepth int
	tracer     trace.Tracer
}

type KafkaOptions struct {
	PartitionQueue int
	Metrics        *metrics.PipelineMetrics
}

func NewKafkaConsumer(reader messageReader, router Router, decoder Decoder, logg *logger.Logger, opts KafkaOptions) (*KafkaConsumer, error) {
	if reader == nil {
		return nil, errors.New("kafka reader is required")
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
	depth := opts.PartitionQueue
	if depth <= 0 {
		depth = defaultPartitionQueue
	}
	return &KafkaConsumer{
		reader: reader,
		proc: &processor{
			transport: kafkaTransport,
			router:    router,
			decoder:   decoder,
			logg:      logg,
			metrics:   opts.Metrics,
		},
		queueDepth: depth,
		tracer:     otel.Tracer("github.com/angelmondragon/stockledger/internal/consumer"),
	}, nil
}

// Run consumes until ctx is canceled or a worker hits a retryable failure. In
// the latter case the failing message stays uncommitted and Run returns the error.
func (c *KafkaConsumer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	workers := map[int]chan kafka.Message{}

	g.Go(func() error {
		defer func() {
			for _, ch := range workers {
				close(ch)
			}
		}()
		for {
			msg, err := c.reader.FetchMessage(gctx)
			if err != nil {
				if gctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("fetch kafka message: %w", err)
			}

			ch, ok := workers[msg.Partition]
			if !ok {
				ch = make(chan kafka.Message, c.queueDepth)
				workers[msg.Partition] = ch
				g.Go(func() error { return c.work(gctx, ch) })
			}
			select {
			case ch <- msg:
			case <-gctx.Done():
				return nil
			}
		}
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (c *KafkaConsumer) work(ctx context.Context, msgs <-chan kafka.Message) error {
	for msg := range msgs {
		if ctx.Err() != nil {
			return nil
		}
		if err := c.process(ctx, msg); err != nil {
			return err
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit kafka offset %s/%d/%d: %w", msg.Topic, msg.Partition, msg.Offset, err)
		}
	}
	return nil
}

func (c *KafkaConsumer) process(ctx context.Context, msg kafka.Message) error {
	ctx = pkgkafka.ExtractTraceContext(ctx, msg.Headers)
	ctx, span := c.tracer.Start(ctx, "kafka.consume "+msg.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", kafkaTransport),
			attribute.String("messaging.destination.name", msg.Topic),
			attribute.Int("messaging.kafka.destination.partition", msg.Partition),
			attribute.Int64("messaging.kafka.message.offset", msg.Offset),
		),
	)
	defer span.End()

	coords := events.At(msg.Topic, int32(msg.Partition), msg.Offset)
	if err := c.proc.handle(ctx, msg.Value, coords, ""); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
