package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rootline-io/rootline/internal/correlation"
	"github.com/rootline-io/rootline/internal/metrics"
)

// publisherBatchTimeout caps how long the writer buffers before flushing a
// partial batch. Incident updates are low-volume, so latency wins over
// batching efficiency.
const publisherBatchTimeout = 50 * time.Millisecond

// Compile-time interface checks.
var (
	_ correlation.IncidentSink = (*Publisher)(nil)
	_ correlation.IncidentSink = (*LogSink)(nil)
)

// messageWriter is the subset of kafka.Writer the publisher depends on.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher emits incident snapshots onto the incident topic. Messages are
// keyed by incident ID through a hash balancer, so every update of one
// incident lands on the same partition and consumers see its revisions in
// order.
type Publisher struct {
	writer messageWriter
	logger *slog.Logger
}

// NewPublisher creates a Kafka-backed incident publisher.
//
// The writer runs in async mode to honor the sink contract of never
// blocking the engine: delivery failures surface through the completion
// callback as logs and metrics, not as engine backpressure.
func NewPublisher(cfg *Config, logger *slog.Logger) *Publisher {
	publisher := &Publisher{logger: logger}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.IncidentTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: publisherBatchTimeout,
		Async:        true,
		Completion:   publisher.completion,
		// Lets a fresh cluster provision the topic on first publish.
		AllowAutoTopicCreation: true,
	}

	publisher.writer = writer

	return publisher
}

// PublishIncident serializes the snapshot and hands it to the writer. Only
// serialization and enqueueing errors are returned; async delivery results
// are reported by the completion callback.
func (p *Publisher) PublishIncident(ctx context.Context, inc correlation.Incident) error {
	payload, err := json.Marshal(inc)
	if err != nil {
		metrics.ObservePublish(metrics.PublishError)

		return fmt.Errorf("failed to serialize incident %s: %w", inc.ID, err)
	}

	msg := kafka.Message{
		Key:   []byte(inc.ID),
		Value: payload,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		metrics.ObservePublish(metrics.PublishError)

		return fmt.Errorf("failed to enqueue incident %s: %w", inc.ID, err)
	}

	return nil
}

// Close flushes buffered messages and releases the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// completion records async delivery results.
func (p *Publisher) completion(messages []kafka.Message, err error) {
	if err != nil {
		for _, msg := range messages {
			metrics.ObservePublish(metrics.PublishError)
			p.logger.Error("Incident publish failed",
				slog.String("incident_id", string(msg.Key)),
				slog.String("error", err.Error()))
		}

		return
	}

	for range messages {
		metrics.ObservePublish(metrics.PublishOK)
	}
}

// LogSink is the stand-in incident sink used when Kafka is disabled. Every
// snapshot is logged with enough structure to follow an incident's life in
// the service log.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log-only incident sink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// PublishIncident logs the snapshot and always succeeds.
func (s *LogSink) PublishIncident(_ context.Context, inc correlation.Incident) error {
	attrs := []any{
		slog.String("incident_id", inc.ID),
		slog.String("status", string(inc.Status)),
		slog.Int("members", len(inc.MemberAlertIDs)),
		slog.Uint64("revision", inc.Revision),
		slog.Bool("storm", inc.IsStorm),
	}

	if inc.RootCause != nil {
		attrs = append(attrs,
			slog.String("root_cause", inc.RootCause.ComponentID),
			slog.Float64("confidence", inc.RootCause.Confidence))
	}

	s.logger.Info("Incident update", attrs...)
	metrics.ObservePublish(metrics.PublishOK)

	return nil
}
