// Package redpanda provides the event streaming layer for the coding
// pipeline with franz-go. The producer carries coded claim bundles, job
// events, and dead-lettered outbox entries; durability is favored over
// latency since every record is either a claim or its audit trail.
package redpanda

import (
	"context"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// ProducerConfig holds producer settings. Envelope and bundle payloads
// are small JSON documents, so the defaults lean on linger-based
// batching rather than large buffers.
type ProducerConfig struct {
	Brokers []string
	// Linger is how long a partial batch waits for more records.
	Linger time.Duration
	// MaxRetries bounds broker-level resends; delivery beyond this is
	// the outbox relay's problem, not the client's.
	MaxRetries int
	// RetryBackoff is the base backoff between resends.
	RetryBackoff time.Duration
}

// DefaultProducerConfig returns settings suited to claim traffic: acks
// from all replicas, lz4 compression, a short linger.
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		Brokers:      []string{"localhost:9092"},
		Linger:       50 * time.Millisecond,
		MaxRetries:   3,
		RetryBackoff: 100 * time.Millisecond,
	}
}

// Producer publishes pipeline records. All sends are synchronous: the
// callers (the export path and the outbox relay) need a definite
// outcome before they mark anything exported or processed.
type Producer struct {
	client *kgo.Client
	logger *zap.Logger
}

// NewProducer creates a producer connected to the given brokers.
func NewProducer(cfg ProducerConfig, logger *zap.Logger) (*Producer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.Lz4Compression()),
		kgo.ProducerLinger(cfg.Linger),
		kgo.RecordRetries(cfg.MaxRetries),
		kgo.RetryBackoffFn(func(attempt int) time.Duration {
			return cfg.RetryBackoff * time.Duration(attempt+1)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	return &Producer{client: client, logger: logger}, nil
}

// ProduceMessage publishes one record and waits for the broker ack.
// The key is the coding job ID (or outbox entry ID), so all events for
// a job land on one partition and replay in order.
func (p *Producer) ProduceMessage(ctx context.Context, topic, key string, value []byte) error {
	record := &kgo.Record{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	}
	injectTraceHeaders(ctx, record)

	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		p.logger.Error("produce failed",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err))
		return fmt.Errorf("produce to %s: %w", topic, err)
	}

	p.logger.Debug("record produced",
		zap.String("topic", record.Topic),
		zap.Int32("partition", record.Partition),
		zap.Int64("offset", record.Offset))
	return nil
}

// Flush blocks until all buffered records are sent.
func (p *Producer) Flush(ctx context.Context) error {
	if err := p.client.Flush(ctx); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}

// Close flushes and closes the producer.
func (p *Producer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("flush on close failed", zap.Error(err))
	}
	p.client.Close()
	return nil
}

// injectTraceHeaders propagates the W3C trace context into record
// headers so the worker's span joins the submitter's trace.
func injectTraceHeaders(ctx context.Context, record *kgo.Record) {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
}
