package redpanda

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"
)

// ConsumerConfig holds consumer settings for the coding worker group.
type ConsumerConfig struct {
	Brokers []string
	// GroupID names the consumer group; all worker replicas share it so
	// the request topic's partitions are balanced across them.
	GroupID string
	Topics  []string
	// SessionTimeout is how long the group coordinator waits before
	// reassigning a silent worker's partitions.
	SessionTimeout time.Duration
	// FetchMaxBytes caps one poll's fetch.
	FetchMaxBytes int32
}

// DefaultConsumerConfig returns settings for the coding worker group.
// Offsets reset to earliest so a fresh group replays unprocessed
// envelopes; the idempotency inbox makes replays safe.
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Brokers:        []string{"localhost:9092"},
		GroupID:        "coding-worker",
		SessionTimeout: 30 * time.Second,
		FetchMaxBytes:  50 * 1024 * 1024,
	}
}

// MessageHandler is called once per consumed record. A returned error
// leaves the offset uncommitted so the record is redelivered.
type MessageHandler func(ctx context.Context, msg *ConsumedMessage) error

// ConsumedMessage is one record off the stream. Key is the coding job
// or claim identifier the producer partitioned on.
type ConsumedMessage struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
}

// Consumer reads intake envelopes off the request topic and hands them
// to the worker's handler. Offsets are committed only after the handler
// succeeds, so a crashed worker redelivers rather than drops.
type Consumer struct {
	client  *kgo.Client
	logger  *zap.Logger
	handler MessageHandler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer creates a consumer in the configured group.
func NewConsumer(cfg ConsumerConfig, handler MessageHandler, logger *zap.Logger) (*Consumer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if handler == nil {
		return nil, errors.New("message handler is required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.SessionTimeout(cfg.SessionTimeout),
		kgo.FetchMaxBytes(cfg.FetchMaxBytes),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.DisableAutoCommit(),
		kgo.OnPartitionsAssigned(func(ctx context.Context, client *kgo.Client, assigned map[string][]int32) {
			logger.Info("partitions assigned", zap.Any("partitions", assigned))
		}),
		kgo.OnPartitionsRevoked(func(ctx context.Context, client *kgo.Client, revoked map[string][]int32) {
			logger.Info("partitions revoked", zap.Any("partitions", revoked))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		client:  client,
		logger:  logger,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins consuming in the background.
func (c *Consumer) Start() {
	c.wg.Add(1)
	go c.consumeLoop()
}

// Stop drains the loop, commits what was marked, and closes the client.
func (c *Consumer) Stop() error {
	c.cancel()
	c.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.client.CommitMarkedOffsets(ctx); err != nil {
		c.logger.Warn("commit on stop failed", zap.Error(err))
	}

	c.client.Close()
	return nil
}

func (c *Consumer) consumeLoop() {
	defer c.wg.Done()

	for {
		fetches := c.client.PollFetches(c.ctx)
		if fetches.IsClientClosed() || c.ctx.Err() != nil {
			return
		}

		if errs := fetches.Errors(); len(errs) > 0 {
			for _, err := range errs {
				c.logger.Error("fetch error",
					zap.String("topic", err.Topic),
					zap.Int32("partition", err.Partition),
					zap.Error(err.Err))
			}
			continue
		}

		// Mark each successfully handled record, then commit the marks
		// once per batch. A failed record stays unmarked and is
		// redelivered after rebalance or restart.
		fetches.EachRecord(func(record *kgo.Record) {
			if c.handleRecord(record) {
				c.client.MarkCommitRecords(record)
			}
		})

		if err := c.client.CommitMarkedOffsets(c.ctx); err != nil {
			c.logger.Error("offset commit failed", zap.Error(err))
		}
	}
}

// handleRecord runs the handler for one record and reports whether its
// offset may be committed.
func (c *Consumer) handleRecord(record *kgo.Record) bool {
	ctx := extractTraceContext(c.ctx, record)

	msg := &ConsumedMessage{
		Topic:     record.Topic,
		Partition: record.Partition,
		Offset:    record.Offset,
		Key:       record.Key,
		Value:     record.Value,
		Timestamp: record.Timestamp,
	}

	if err := c.handler(ctx, msg); err != nil {
		c.logger.Error("envelope handling failed",
			zap.String("topic", record.Topic),
			zap.Int32("partition", record.Partition),
			zap.Int64("offset", record.Offset),
			zap.Error(err))
		return false
	}
	return true
}

// extractTraceContext restores the W3C trace context the producer put
// in the record headers, linking the worker's spans to the submission.
func extractTraceContext(ctx context.Context, record *kgo.Record) context.Context {
	carrier := propagation.MapCarrier{}
	for _, h := range record.Headers {
		carrier[h.Key] = string(h.Value)
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
