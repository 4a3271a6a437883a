// Package idempotency keeps encounter coding exactly-once. The inbox
// records each envelope under a deterministic key derived from the
// patient MRN, claim ID and encounter date, so a replayed or
// re-submitted envelope returns the original coding result instead of
// producing a second claim.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Status is the lifecycle of one inbox entry.
type Status string

const (
	StatusStarted     Status = "STARTED"
	StatusFinished    Status = "FINISHED"
	StatusRecoverable Status = "RECOVERABLE"
	StatusFailed      Status = "FAILED"
)

// ErrDuplicateMessage reports that the envelope was already processed.
var ErrDuplicateMessage = errors.New("duplicate message: already processed")

// ErrMessageInProgress reports that another worker currently holds the
// envelope.
var ErrMessageInProgress = errors.New("message in progress by another handler")

// InboxEntry is one recorded envelope.
type InboxEntry struct {
	IdempotencyKey string
	HandlerName    string
	Status         Status
	Payload        json.RawMessage
	Result         json.RawMessage
	CreatedAt      time.Time
	UpdatedAt      time.Time
	ExpiresAt      *time.Time
}

// InboxConfig tunes retention and crash recovery.
type InboxConfig struct {
	// DefaultTTL is how long an entry blocks re-coding of its envelope.
	DefaultTTL time.Duration
	// CleanupInterval is how often expired entries are purged.
	CleanupInterval time.Duration
	// RecoveryTimeout is the age at which a STARTED entry is presumed
	// orphaned by a crashed worker and released for re-coding.
	RecoveryTimeout time.Duration
}

// DefaultInboxConfig returns retention suited to claim resubmission
// windows: clearinghouses may replay a batch days later.
func DefaultInboxConfig() InboxConfig {
	return InboxConfig{
		DefaultTTL:      7 * 24 * time.Hour,
		CleanupInterval: time.Hour,
		RecoveryTimeout: 5 * time.Minute,
	}
}

// Inbox guards envelope processing against duplicates.
type Inbox struct {
	pool   *pgxpool.Pool
	config InboxConfig
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewInbox creates an inbox over the given pool.
func NewInbox(pool *pgxpool.Pool, cfg InboxConfig, logger *zap.Logger) *Inbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Inbox{
		pool:   pool,
		config: cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// GenerateKey derives the deterministic idempotency key for an
// envelope. The separator keeps component boundaries unambiguous; MRN
// and claim ID may be empty and the key is still stable for identical
// envelopes.
func GenerateKey(mrn, claimID, encounterDate string) string {
	data := strings.Join([]string{mrn, claimID, encounterDate}, "|")
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ProcessResult reports how an envelope was handled.
type ProcessResult struct {
	// IsNew is false when the stored result was returned instead of
	// running the handler.
	IsNew        bool
	WasRecovered bool
	Result       json.RawMessage
}

// ProcessFunc codes one envelope and returns a JSON summary to store.
type ProcessFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Process runs fn at most once per key. A finished entry short-circuits
// with the stored result; a fresh STARTED entry blocks concurrent
// workers; a stale or RECOVERABLE entry is re-coded.
func (i *Inbox) Process(ctx context.Context, key, handlerName string, payload json.RawMessage, fn ProcessFunc) (*ProcessResult, error) {
	prior, err := i.getEntry(ctx, key)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check inbox: %w", err)
	}

	if prior != nil {
		proceed, res, perr := i.resolvePrior(ctx, key, prior)
		if !proceed {
			return res, perr
		}
	}

	if err := i.claim(ctx, key, handlerName, payload); err != nil {
		return nil, err
	}

	result, codeErr := fn(ctx, payload)
	if codeErr != nil {
		status := StatusRecoverable
		if isTerminalError(codeErr) {
			status = StatusFailed
		}
		if err := i.recordFailure(ctx, key, status, codeErr); err != nil {
			i.logger.Error("failed to record coding failure", zap.Error(err))
		}
		return nil, codeErr
	}

	if err := i.recordSuccess(ctx, key, result); err != nil {
		// The envelope was coded; losing the marker only risks a
		// redundant replay, which this inbox exists to absorb.
		i.logger.Error("failed to record coding result", zap.Error(err))
	}

	return &ProcessResult{
		IsNew:        prior == nil,
		WasRecovered: prior != nil && prior.Status == StatusRecoverable,
		Result:       result,
	}, nil
}

// resolvePrior decides what an existing entry means for this attempt.
// It returns proceed=true when the envelope should be re-coded.
func (i *Inbox) resolvePrior(ctx context.Context, key string, prior *InboxEntry) (proceed bool, res *ProcessResult, err error) {
	switch prior.Status {
	case StatusFinished:
		return false, &ProcessResult{IsNew: false, Result: prior.Result}, nil

	case StatusFailed:
		return false, nil, fmt.Errorf("message previously failed permanently: %s", key)

	case StatusStarted:
		if time.Since(prior.UpdatedAt) <= i.config.RecoveryTimeout {
			return false, nil, ErrMessageInProgress
		}
		// Holder presumed crashed; release the entry and re-code.
		if err := i.markRecoverable(ctx, key); err != nil {
			return false, nil, fmt.Errorf("release stale entry: %w", err)
		}
		return true, nil, nil

	default: // StatusRecoverable
		return true, nil, nil
	}
}

func (i *Inbox) getEntry(ctx context.Context, key string) (*InboxEntry, error) {
	entry := &InboxEntry{}
	err := i.pool.QueryRow(ctx, `
		SELECT idempotency_key, handler_name, status, payload, result, created_at, updated_at, expires_at
		FROM inbox
		WHERE idempotency_key = $1
	`, key).Scan(
		&entry.IdempotencyKey, &entry.HandlerName, &entry.Status,
		&entry.Payload, &entry.Result, &entry.CreatedAt, &entry.UpdatedAt, &entry.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// claim inserts the entry as STARTED, or takes over a RECOVERABLE one.
// A conflicting row in any other status means another worker won.
func (i *Inbox) claim(ctx context.Context, key, handlerName string, payload json.RawMessage) error {
	var returned string
	err := i.pool.QueryRow(ctx, `
		INSERT INTO inbox (idempotency_key, handler_name, status, payload, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_key) DO UPDATE
		SET status = $3, updated_at = NOW()
		WHERE inbox.status IN ('RECOVERABLE')
		RETURNING idempotency_key
	`, key, handlerName, StatusStarted, payload, time.Now().Add(i.config.DefaultTTL)).Scan(&returned)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDuplicateMessage
	}
	if err != nil {
		return fmt.Errorf("claim inbox entry: %w", err)
	}
	return nil
}

func (i *Inbox) recordSuccess(ctx context.Context, key string, result json.RawMessage) error {
	_, err := i.pool.Exec(ctx, `
		UPDATE inbox
		SET status = $1, result = $2, updated_at = NOW()
		WHERE idempotency_key = $3
	`, StatusFinished, result, key)
	return err
}

func (i *Inbox) recordFailure(ctx context.Context, key string, status Status, cause error) error {
	detail, _ := json.Marshal(map[string]string{"error": cause.Error()})
	_, err := i.pool.Exec(ctx, `
		UPDATE inbox
		SET status = $1, result = $2, updated_at = NOW()
		WHERE idempotency_key = $3
	`, status, detail, key)
	return err
}

func (i *Inbox) markRecoverable(ctx context.Context, key string) error {
	_, err := i.pool.Exec(ctx, `
		UPDATE inbox
		SET status = $1, updated_at = NOW()
		WHERE idempotency_key = $2
	`, StatusRecoverable, key)
	return err
}

// StartCleanup launches the background purge of expired entries.
func (i *Inbox) StartCleanup() {
	go i.cleanupLoop()
	i.logger.Info("inbox cleanup started", zap.Duration("interval", i.config.CleanupInterval))
}

// Stop halts the cleanup loop.
func (i *Inbox) Stop() {
	i.cancel()
	<-i.done
	i.logger.Info("inbox stopped")
}

func (i *Inbox) cleanupLoop() {
	defer close(i.done)

	ticker := time.NewTicker(i.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-i.ctx.Done():
			return
		case <-ticker.C:
			if err := i.cleanup(i.ctx); err != nil {
				i.logger.Error("inbox cleanup failed", zap.Error(err))
			}
		}
	}
}

func (i *Inbox) cleanup(ctx context.Context) error {
	tag, err := i.pool.Exec(ctx, `
		DELETE FROM inbox
		WHERE expires_at < NOW()
		   OR (status = 'FINISHED' AND updated_at < NOW() - INTERVAL '7 days')
	`)
	if err != nil {
		return err
	}
	if tag.RowsAffected() > 0 {
		i.logger.Info("expired inbox entries purged", zap.Int64("deleted", tag.RowsAffected()))
	}
	return nil
}

// isTerminalError reports whether re-coding the envelope could ever
// succeed. Malformed or unknown input fails the same way every time;
// everything else is presumed transient and left recoverable.
func isTerminalError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, phrase := range []string{"validation", "invalid", "not found", "unauthorized", "forbidden"} {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}
