// Package postgres provides the transactional outbox for the coding pipeline.
//
// Domain repositories stage events with WriteEntry inside the same
// transaction that persists the event, and the relay drains staged entries
// to Redpanda. Entries that exhaust their retries are diverted to the
// dead-letter topic so one bad payload cannot wedge the event stream.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/gooclaim/coding-engine/internal/infrastructure/redpanda"
)

// OutboxEntry is one staged event awaiting publication.
type OutboxEntry struct {
	ID            int64
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       json.RawMessage
	KafkaTopic    string
	KafkaKey      string
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	RetryCount    int
	LastError     *string
}

// TopicFor returns the pipeline topic an event type is published on.
// Coding job lifecycle events share the event stream; anything
// unrecognized goes to the audit trail so it is never silently dropped.
func TopicFor(eventType string) string {
	switch eventType {
	case "CodingJobReceived", "CodingJobCoded", "CodingJobExported", "CodingJobFailed":
		return redpanda.TopicCodingEvents
	default:
		return redpanda.TopicAuditTrail
	}
}

// WriteEntry stages an entry inside the caller's transaction. Entries with
// no explicit topic are routed by event type via TopicFor.
func WriteEntry(ctx context.Context, tx pgx.Tx, entry *OutboxEntry) error {
	if entry.KafkaTopic == "" {
		entry.KafkaTopic = TopicFor(entry.EventType)
	}

	query := `
		INSERT INTO outbox (aggregate_id, aggregate_type, event_type, payload, kafka_topic, kafka_key)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`
	err := tx.QueryRow(ctx, query,
		entry.AggregateID,
		entry.AggregateType,
		entry.EventType,
		entry.Payload,
		entry.KafkaTopic,
		entry.KafkaKey,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("stage outbox entry: %w", err)
	}
	return nil
}

// Publisher publishes drained entries to the event stream.
type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// RelayConfig tunes the outbox relay.
type RelayConfig struct {
	// BatchSize is the number of entries drained per poll.
	BatchSize int
	// PollInterval is the drain cadence.
	PollInterval time.Duration
	// MaxRetries is the publish attempts before an entry is dead-lettered.
	MaxRetries int
	// SweepInterval is how often exhausted entries are dead-lettered.
	SweepInterval time.Duration
}

// DefaultRelayConfig returns defaults tuned for the coding event stream:
// a short poll keeps coded-claim events near real time, and a slow sweep
// is enough because dead letters are rare.
func DefaultRelayConfig() RelayConfig {
	return RelayConfig{
		BatchSize:     100,
		PollInterval:  100 * time.Millisecond,
		MaxRetries:    5,
		SweepInterval: time.Minute,
	}
}

// Relay drains staged outbox entries to Redpanda. Only one relay drains at
// a time: an advisory lock keyed on the relay name guards each cycle, so
// running a second relay instance is safe.
type Relay struct {
	pool      *pgxpool.Pool
	config    RelayConfig
	publisher Publisher
	logger    *zap.Logger
	tracer    trace.Tracer

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// relayLockID derives the advisory lock key from the relay name, so the
// lock survives renames of this file but not of the relay itself.
func relayLockID() int64 {
	h := fnv.New64a()
	h.Write([]byte("coding-outbox-relay"))
	return int64(h.Sum64())
}

// NewRelay creates an outbox relay.
func NewRelay(pool *pgxpool.Pool, publisher Publisher, cfg RelayConfig, logger *zap.Logger) *Relay {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Relay{
		pool:      pool,
		config:    cfg,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("outbox-relay"),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
}

// Start begins draining and dead-letter sweeping.
func (r *Relay) Start() {
	go r.run()
	r.logger.Info("outbox relay started",
		zap.Int("batch_size", r.config.BatchSize),
		zap.Duration("poll_interval", r.config.PollInterval))
}

// Stop drains the current cycle and stops.
func (r *Relay) Stop() {
	r.cancel()
	<-r.done
	r.logger.Info("outbox relay stopped")
}

func (r *Relay) run() {
	defer close(r.done)

	poll := time.NewTicker(r.config.PollInterval)
	defer poll.Stop()
	sweep := time.NewTicker(r.config.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-poll.C:
			r.drain()
		case <-sweep.C:
			if n, err := r.sweepExhausted(r.ctx); err != nil {
				r.logger.Error("dead-letter sweep failed", zap.Error(err))
			} else if n > 0 {
				r.logger.Warn("entries dead-lettered", zap.Int64("count", n))
			}
		}
	}
}

// drain publishes one batch of staged entries under the advisory lock.
func (r *Relay) drain() {
	ctx, span := r.tracer.Start(r.ctx, "outbox_drain")
	defer span.End()

	var locked bool
	if err := r.pool.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", relayLockID()).Scan(&locked); err != nil || !locked {
		return
	}
	defer r.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", relayLockID())

	entries, err := r.pending(ctx)
	if err != nil {
		r.logger.Error("fetching staged entries failed", zap.Error(err))
		span.RecordError(err)
		return
	}
	if len(entries) == 0 {
		return
	}
	span.SetAttributes(attribute.Int("batch_size", len(entries)))

	for _, entry := range entries {
		if err := r.publish(ctx, entry); err != nil {
			r.logger.Error("publishing entry failed",
				zap.Int64("id", entry.ID),
				zap.String("event_type", entry.EventType),
				zap.String("topic", entry.KafkaTopic),
				zap.Error(err))
		}
	}
}

// pending fetches the oldest staged entries still within their retry budget.
func (r *Relay) pending(ctx context.Context) ([]*OutboxEntry, error) {
	query := `
		SELECT id, aggregate_id, aggregate_type, event_type, payload,
		       kafka_topic, kafka_key, created_at, retry_count, last_error
		FROM outbox
		WHERE processed_at IS NULL
		  AND retry_count < $1
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`
	rows, err := r.pool.Query(ctx, query, r.config.MaxRetries, r.config.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("query staged entries: %w", err)
	}
	defer rows.Close()

	var entries []*OutboxEntry
	for rows.Next() {
		entry := &OutboxEntry{}
		if err := rows.Scan(
			&entry.ID, &entry.AggregateID, &entry.AggregateType,
			&entry.EventType, &entry.Payload, &entry.KafkaTopic,
			&entry.KafkaKey, &entry.CreatedAt, &entry.RetryCount, &entry.LastError,
		); err != nil {
			return nil, fmt.Errorf("scan staged entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// publish sends one entry and marks it processed, or records the failure
// for the next attempt.
func (r *Relay) publish(ctx context.Context, entry *OutboxEntry) error {
	ctx, span := r.tracer.Start(ctx, "outbox_publish",
		trace.WithAttributes(
			attribute.Int64("entry_id", entry.ID),
			attribute.String("event_type", entry.EventType),
			attribute.String("aggregate_id", entry.AggregateID),
		))
	defer span.End()

	if err := r.publisher.Publish(ctx, entry.KafkaTopic, entry.KafkaKey, entry.Payload); err != nil {
		retry := `
			UPDATE outbox
			SET retry_count = retry_count + 1, last_error = $1, updated_at = NOW()
			WHERE id = $2
		`
		if _, uerr := r.pool.Exec(ctx, retry, err.Error(), entry.ID); uerr != nil {
			r.logger.Error("recording publish failure failed", zap.Error(uerr))
		}
		span.RecordError(err)
		return fmt.Errorf("publish: %w", err)
	}

	if _, err := r.pool.Exec(ctx, "UPDATE outbox SET processed_at = NOW(), updated_at = NOW() WHERE id = $1", entry.ID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("mark processed: %w", err)
	}

	r.logger.Debug("entry published",
		zap.Int64("id", entry.ID),
		zap.String("topic", entry.KafkaTopic))
	return nil
}

// deadLetter is the envelope wrapped around an exhausted entry so the
// billing team can replay it once the cause is fixed.
type deadLetter struct {
	OriginalTopic string          `json:"original_topic"`
	EventType     string          `json:"event_type"`
	AggregateID   string          `json:"aggregate_id"`
	Payload       json.RawMessage `json:"payload"`
	Retries       int             `json:"retries"`
	LastError     string          `json:"last_error,omitempty"`
	StagedAt      time.Time       `json:"staged_at"`
}

func deadLetterPayload(entry *OutboxEntry) ([]byte, error) {
	dl := deadLetter{
		OriginalTopic: entry.KafkaTopic,
		EventType:     entry.EventType,
		AggregateID:   entry.AggregateID,
		Payload:       entry.Payload,
		Retries:       entry.RetryCount,
		StagedAt:      entry.CreatedAt,
	}
	if entry.LastError != nil {
		dl.LastError = *entry.LastError
	}
	return json.Marshal(dl)
}

// sweepExhausted moves entries past their retry budget to the dead-letter
// topic and marks them processed.
func (r *Relay) sweepExhausted(ctx context.Context) (int64, error) {
	query := `
		SELECT id, aggregate_id, aggregate_type, event_type, payload,
		       kafka_topic, kafka_key, created_at, retry_count, last_error
		FROM outbox
		WHERE processed_at IS NULL
		  AND retry_count >= $1
		FOR UPDATE SKIP LOCKED
	`
	rows, err := r.pool.Query(ctx, query, r.config.MaxRetries)
	if err != nil {
		return 0, fmt.Errorf("query exhausted entries: %w", err)
	}
	defer rows.Close()

	var exhausted []*OutboxEntry
	for rows.Next() {
		entry := &OutboxEntry{}
		if err := rows.Scan(
			&entry.ID, &entry.AggregateID, &entry.AggregateType,
			&entry.EventType, &entry.Payload, &entry.KafkaTopic,
			&entry.KafkaKey, &entry.CreatedAt, &entry.RetryCount, &entry.LastError,
		); err != nil {
			return 0, fmt.Errorf("scan exhausted entry: %w", err)
		}
		exhausted = append(exhausted, entry)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var moved int64
	for _, entry := range exhausted {
		payload, err := deadLetterPayload(entry)
		if err != nil {
			r.logger.Error("building dead letter failed", zap.Int64("id", entry.ID), zap.Error(err))
			continue
		}
		if err := r.publisher.Publish(ctx, redpanda.TopicDeadLetter, entry.KafkaKey, payload); err != nil {
			r.logger.Error("publishing dead letter failed", zap.Int64("id", entry.ID), zap.Error(err))
			continue
		}
		if _, err := r.pool.Exec(ctx, "UPDATE outbox SET processed_at = NOW() WHERE id = $1", entry.ID); err != nil {
			r.logger.Error("marking dead letter failed", zap.Int64("id", entry.ID), zap.Error(err))
			continue
		}
		moved++
	}
	return moved, nil
}

// CleanupProcessed deletes published entries older than the given age.
func (r *Relay) CleanupProcessed(ctx context.Context, olderThan time.Duration) (int64, error) {
	result, err := r.pool.Exec(ctx, `
		DELETE FROM outbox
		WHERE processed_at IS NOT NULL
		  AND processed_at < NOW() - $1::interval
	`, olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("cleanup: %w", err)
	}
	return result.RowsAffected(), nil
}

// RelayStats summarizes the outbox backlog.
type RelayStats struct {
	Pending   int64
	Exhausted int64
}

// Stats reports the current backlog, for the relay's periodic log line and
// the outbox_pending_entries gauge.
func (r *Relay) Stats(ctx context.Context) (RelayStats, error) {
	var stats RelayStats
	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE retry_count < $1),
			COUNT(*) FILTER (WHERE retry_count >= $1)
		FROM outbox
		WHERE processed_at IS NULL
	`, r.config.MaxRetries).Scan(&stats.Pending, &stats.Exhausted)
	if err != nil {
		return RelayStats{}, err
	}
	return stats, nil
}
