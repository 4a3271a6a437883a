// Package circuitbreaker guards claim export per payer. Each payer
// endpoint gets its own sony/gobreaker instance, so one payer's outage
// stops exports to that payer only while the rest of the pipeline keeps
// coding.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// State mirrors the breaker's lifecycle for logging and health checks.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config tunes one payer's breaker.
type Config struct {
	// Name is the payer the breaker guards.
	Name string
	// MaxRequests is how many trial exports the half-open state allows.
	MaxRequests uint32
	// Interval is the closed-state window after which counts reset.
	Interval time.Duration
	// Timeout is how long an open breaker holds exports back before
	// probing the payer again.
	Timeout time.Duration
	// FailureThreshold trips the breaker on this many consecutive
	// failures while traffic is light.
	FailureThreshold uint32
	// FailureRatio trips the breaker once MinRequests have been seen
	// and this share of them failed.
	FailureRatio float64
	MinRequests  uint32
}

// DefaultConfig returns thresholds suited to payer export endpoints:
// clearinghouses degrade gradually, so the ratio rule does the work
// under load and the consecutive rule catches hard outages early.
func DefaultConfig(payer string) Config {
	return Config{
		Name:             payer,
		MaxRequests:      3,
		Interval:         60 * time.Second,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
		FailureRatio:     0.6,
		MinRequests:      10,
	}
}

// CircuitBreaker wraps gobreaker for one payer with logging and
// OpenTelemetry counters.
type CircuitBreaker struct {
	cb     *gobreaker.CircuitBreaker
	payer  string
	logger *zap.Logger

	exportCounter   metric.Int64Counter
	failureCounter  metric.Int64Counter
	rejectedCounter metric.Int64Counter
}

// New creates a breaker for the configured payer.
func New(cfg Config, logger *zap.Logger) (*CircuitBreaker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &CircuitBreaker{
		payer:  cfg.Name,
		logger: logger,
	}

	meter := otel.Meter("claim-export")
	var err error
	if c.exportCounter, err = meter.Int64Counter("claim_export_attempts_total",
		metric.WithDescription("Claim export attempts per payer")); err != nil {
		return nil, fmt.Errorf("create export counter: %w", err)
	}
	if c.failureCounter, err = meter.Int64Counter("claim_export_failures_total",
		metric.WithDescription("Claim export failures per payer")); err != nil {
		return nil, fmt.Errorf("create failure counter: %w", err)
	}
	if c.rejectedCounter, err = meter.Int64Counter("claim_export_rejected_total",
		metric.WithDescription("Claim exports rejected by an open breaker")); err != nil {
		return nil, fmt.Errorf("create rejected counter: %w", err)
	}

	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return counts.ConsecutiveFailures >= cfg.FailureThreshold
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("payer breaker state changed",
				zap.String("payer", name),
				zap.String("from", string(mapState(from))),
				zap.String("to", string(mapState(to))))
		},
	})

	return c, nil
}

// Execute runs one export attempt through the breaker. When the
// breaker is open the attempt is rejected without touching the payer;
// the job stays in coded state for a later export.
func (c *CircuitBreaker) Execute(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	attrs := metric.WithAttributes(attribute.String("payer", c.payer))
	c.exportCounter.Add(ctx, 1, attrs)

	result, err := c.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.rejectedCounter.Add(ctx, 1, attrs)
		} else {
			c.failureCounter.Add(ctx, 1, attrs)
		}
		return nil, err
	}
	return result, nil
}

// GetState reports the breaker's current state.
func (c *CircuitBreaker) GetState() State {
	return mapState(c.cb.State())
}

// IsOpen reports whether exports to this payer are currently held back.
func (c *CircuitBreaker) IsOpen() bool {
	return c.GetState() == StateOpen
}

func mapState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Manager holds one breaker per payer, created lazily as claims for
// new payers arrive.
type Manager struct {
	breakers map[string]*CircuitBreaker
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewManager creates an empty manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		breakers: make(map[string]*CircuitBreaker),
		logger:   logger,
	}
}

// GetOrCreate returns the payer's breaker, creating it on first use.
func (m *Manager) GetOrCreate(payer string, cfg Config) (*CircuitBreaker, error) {
	m.mu.RLock()
	cb, ok := m.breakers[payer]
	m.mu.RUnlock()
	if ok {
		return cb, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.breakers[payer]; ok {
		return cb, nil
	}

	cfg.Name = payer
	cb, err := New(cfg, m.logger)
	if err != nil {
		return nil, err
	}
	m.breakers[payer] = cb
	return cb, nil
}
