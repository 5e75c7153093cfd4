// Package kafka builds the segmentio/kafka-go readers and writers the services use.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/angelmondragon/stockledger/pkg/config"
)

var (
	errNoBrokers = errors.New("kafka brokers are required")
	errNoTopics  = errors.New("kafka topics are required")
)

// NewReader returns a consumer-group reader over every configured topic.
// Offsets are committed explicitly by the caller.
func NewReader(cfg config.KafkaConfig) (*kafka.Reader, error) {
	brokers := clean(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, errNoBrokers
	}
	topics := clean(cfg.Topics)
	if len(topics) == 0 {
		return nil, errNoTopics
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, errors.New("kafka group id is required")
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        cfg.GroupID,
		GroupTopics:    topics,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		MaxWait:        cfg.MaxWait,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	}), nil
}

// NewWriter returns a writer for the given topic. Messages with the same key
// land on the same partition.
func NewWriter(cfg config.KafkaConfig, topic string) (*kafka.Writer, error) {
	brokers := clean(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, errNoBrokers
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("kafka topic is required")
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		WriteTimeout: cfg.WriteTimeout,
		BatchTimeout: 10 * time.Millisecond,
	}, nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Publisher writes keyed messages and carries the caller's trace context in
// the message headers.
type Publisher struct {
	writer messageWriter
}

func NewPublisher(writer messageWriter) (*Publisher, error) {
	if writer == nil {
		return nil, errors.New("kafka writer is required")
	}
	return &Publisher{writer: writer}, nil
}

func (p *Publisher) Publish(ctx context.Context, key string, value []byte) error {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	headers := make([]kafka.Header, 0, len(carrier))
	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	msg := kafka.Message{Key: []byte(key), Value: value, Headers: headers}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish kafka message: %w", err)
	}
	return nil
}

// ExtractTraceContext returns ctx enriched with the trace context carried in headers.
func ExtractTraceContext(ctx context.Context, headers []kafka.Header) context.Context {
	carrier := propagation.MapCarrier{}
	for _, header := range headers {
		carrier[header.Key] = string(header.Value)
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// Ping dials the first reachable broker.
func Ping(ctx context.Context, brokers []string) error {
	brokers = clean(brokers)
	if len(brokers) == 0 {
		return errNoBrokers
	}
	var lastErr error
	for _, broker := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		_ = conn.Close()
		return nil
	}
	return fmt.Errorf("no kafka broker reachable: %w", lastErr)
}

func clean(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

