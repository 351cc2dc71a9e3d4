// Package stream mirrors archived records onto a Kafka topic so downstream
// consumers (dashboards, long-term analytics) see the same stream the
// object store receives. The mirror is optional and best-effort.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"fieldsense/internal/config"
	"fieldsense/internal/logger"
	"fieldsense/internal/metrics"
	"fieldsense/internal/models"
)

// Publisher errors
var (
	ErrPublisherClosed = errors.New("publisher is closed")
	ErrSerializeFailed = errors.New("failed to serialize record")
)

const (
	maxRetries     = 3
	initialBackoff = 100 * time.Millisecond
)

// Publisher writes record envelopes to Kafka, keyed by device coreid so one
// device's records stay in order on a partition.
type Publisher struct {
	writer *kafka.Writer
	closed atomic.Bool

	messagesSent   atomic.Uint64
	messagesFailed atomic.Uint64

	log zerolog.Logger
}

// NewPublisher creates a Kafka publisher for the configured topic.
func NewPublisher(cfg config.KafkaConfig) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("topic is required")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
		Compression:  kafka.Snappy,
	}

	return &Publisher{
		writer: writer,
		log:    logger.WithComponent("stream"),
	}, nil
}

// Publish writes one envelope, retrying transient failures with doubling
// backoff. Context cancellation aborts immediately.
func (p *Publisher) Publish(ctx context.Context, env *models.Envelope) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}

	b, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerializeFailed, err)
	}

	msg := kafka.Message{
		Key:   []byte(env.PartitionKey),
		Value: b,
		Time:  env.ReceivedAt,
	}

	backoff := initialBackoff
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			metrics.KafkaPublishRetries.Inc()
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := p.writer.WriteMessages(ctx, msg)
		if err == nil {
			p.messagesSent.Add(1)
			metrics.KafkaPublishTotal.WithLabelValues("success").Inc()
			return nil
		}

		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			break
		}
		p.log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Str("coreid", env.PartitionKey).
			Msg("kafka publish attempt failed")
	}

	p.messagesFailed.Add(1)
	metrics.KafkaPublishTotal.WithLabelValues("failed").Inc()
	return fmt.Errorf("publish failed after %d attempts: %w", maxRetries+1, lastErr)
}

// Close closes the underlying writer
func (p *Publisher) Close() error {
	if p.closed.Swap(true) {
		return nil // already closed
	}
	return p.writer.Close()
}

// Stats returns publisher statistics
func (p *Publisher) Stats() Stats {
	return Stats{
		MessagesSent:   p.messagesSent.Load(),
		MessagesFailed: p.messagesFailed.Load(),
	}
}

// Stats holds publisher metrics
type Stats struct {
	MessagesSent   uint64
	MessagesFailed uint64
}

// HealthCheck verifies the publisher is usable
func (p *Publisher) HealthCheck(ctx context.Context) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_ = p.writer.Stats()
	return nil
}
