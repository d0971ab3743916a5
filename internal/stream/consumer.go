// Package stream connects the correlation engine to Kafka: a consumer group
// feeding alert events into the engine and a publisher emitting incident
// snapshots. When Kafka is disabled a log sink stands in for the publisher
// so the engine's outbound contract stays identical.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/rootline-io/rootline/internal/alert"
	"github.com/rootline-io/rootline/internal/correlation"
	"github.com/rootline-io/rootline/internal/metrics"
)

const (
	// consumerMaxBytes bounds a single fetch so one oversized batch cannot
	// stall the shard queues behind it.
	consumerMaxBytes = 10 << 20 // 10 MiB

	// consumerMaxWait is how long a fetch waits for new records before
	// returning an empty batch.
	consumerMaxWait = 500 * time.Millisecond
)

// Processor accepts normalized-input alert events. The correlation engine is
// the production implementation.
type Processor interface {
	Process(ctx context.Context, event *alert.Event) error
}

var _ Processor = (*correlation.Engine)(nil)

// messageFetcher is the subset of kafka.Reader the consumer depends on.
type messageFetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads alert events from the alert topic and feeds them into the
// engine. Offsets are committed only after the engine has accepted the
// event, so a crash between fetch and enqueue redelivers rather than loses.
type Consumer struct {
	reader messageFetcher
	proc   Processor
	logger *slog.Logger
}

// NewConsumer creates a consumer-group reader on the configured alert topic.
func NewConsumer(cfg *Config, proc Processor, logger *slog.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.ConsumerGroup,
		Topic:    cfg.AlertTopic,
		MinBytes: 1,
		MaxBytes: consumerMaxBytes,
		MaxWait:  consumerMaxWait,
	})

	return &Consumer{
		reader: reader,
		proc:   proc,
		logger: logger,
	}
}

// Run consumes until the context is cancelled or the reader is closed.
//
// Malformed payloads and alerts the engine rejects as invalid are logged,
// counted and committed; redelivering them cannot make them valid. Shutdown
// conditions leave the current offset uncommitted so another group member
// picks the message up.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
				return nil
			}

			return err
		}

		var event alert.Event

		if err := json.Unmarshal(msg.Value, &event); err != nil {
			metrics.ObserveStreamMessage(metrics.MessageMalformed)
			c.logger.Warn("Dropping undecodable alert message",
				slog.String("topic", msg.Topic),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.String("error", err.Error()))

			if err := c.commit(ctx, msg); err != nil {
				return err
			}

			continue
		}

		metrics.ObserveStreamMessage(metrics.MessageDecoded)

		if err := c.proc.Process(ctx, &event); err != nil {
			if errors.Is(err, correlation.ErrEngineClosed) || errors.Is(err, context.Canceled) {
				return nil
			}

			// Validation failure: the event itself is bad, so commit past it.
			c.logger.Warn("Alert event rejected by engine",
				slog.String("fingerprint", event.Fingerprint),
				slog.String("name", event.Name),
				slog.String("error", err.Error()))
		}

		if err := c.commit(ctx, msg); err != nil {
			return err
		}
	}
}

// Close shuts down the reader, which also unblocks a Run in progress.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) error {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, io.ErrClosedPipe) {
			return nil
		}

		return err
	}

	return nil
}
