package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/angelmondragon/stockledger/pkg/config"
)

func TestNewReaderValidation(t *testing.T) {
	_, err := NewReader(config.KafkaConfig{GroupID: "g", Topics: []string{"sales"}})
	require.ErrorIs(t, err, errNoBrokers)

	_, err = NewReader(config.KafkaConfig{Brokers: []string{"localhost:9092"}, GroupID: "g", Topics: []string{" "}})
	require.ErrorIs(t, err, errNoTopics)

	_, err = NewReader(config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topics: []string{"sales"}})
	require.Error(t, err)

	reader, err := NewReader(config.KafkaConfig{
		Brokers: []string{"localhost:9092"},
		GroupID: "stockledger",
		Topics:  []string{"sales", "stock"},
		MaxWait: 100 * time.Millisecond,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"sales", "stock"}, reader.Config().GroupTopics)
	require.NoError(t, reader.Close())
}

func TestNewWriter(t *testing.T) {
	_, err := NewWriter(config.KafkaConfig{}, "stock")
	require.ErrorIs(t, err, errNoBrokers)
	_, err = NewWriter(config.KafkaConfig{Brokers: []string{"b:9092"}}, "")
	require.Error(t, err)

	w, err := NewWriter(config.KafkaConfig{Brokers: []string{"b:9092", " "}, WriteTimeout: time.Second}, "stock")
	require.NoError(t, err)
	require.Equal(t, "stock", w.Topic)
	require.Equal(t, time.Second, w.WriteTimeout)
}

func TestPublisherPropagatesTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	w := &captureWriter{}
	pub, err := NewPublisher(w)
	require.NoError(t, err)
	require.NoError(t, pub.Publish(ctx, "S1:A", []byte(`{}`)))
	require.Len(t, w.msgs, 1)
	require.Equal(t, "S1:A", string(w.msgs[0].Key))

	extracted := trace.SpanContextFromContext(ExtractTraceContext(context.Background(), w.msgs[0].Headers))
	require.Equal(t, traceID, extracted.TraceID())
	require.True(t, extracted.IsRemote())
}

func TestPublisherWrapsWriteErrors(t *testing.T) {
	boom := errors.New("leader not available")
	pub, _ := NewPublisher(&captureWriter{err: boom})
	require.ErrorIs(t, pub.Publish(context.Background(), "k", nil), boom)

	_, err := NewPublisher(nil)
	require.Error(t, err)
}

func TestPingWithoutBrokers(t *testing.T) {
	require.ErrorIs(t, Ping(context.Background(), nil), errNoBrokers)
}

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (c *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, msgs...)
	return nil
}
