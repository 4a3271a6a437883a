// Package workerpool bounds the concurrency of encounter coding. The
// consumer hands each envelope off the request topic to the pool, so a
// burst of submissions queues here instead of overwhelming the database
// and the export path.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrQueueFull is returned by Submit when the task queue is at
// capacity. The consumer leaves the offset uncommitted so the envelope
// is redelivered.
var ErrQueueFull = errors.New("task queue is full")

// ErrPoolStopped is returned by Submit after Stop.
var ErrPoolStopped = errors.New("pool is shutting down")

// Task is one envelope to code. ID is the record key (the claim or job
// identifier), Payload the raw envelope bytes.
type Task struct {
	ID      string
	Payload interface{}
	Context context.Context
}

// Result is the outcome of coding one task.
type Result struct {
	TaskID  string
	Success bool
	Error   error
}

// WorkerFunc codes one task. A failed result is retried with backoff
// up to the configured limit.
type WorkerFunc func(ctx context.Context, task *Task) *Result

// Config holds pool sizing and retry behavior.
type Config struct {
	Workers    int
	QueueSize  int
	MaxRetries int
	// RetryDelay is the base backoff; attempt n waits n times this.
	RetryDelay time.Duration
	// GracefulShutdownTimeout bounds how long Stop waits for in-flight
	// envelopes to finish coding.
	GracefulShutdownTimeout time.Duration
}

// DefaultConfig returns sizing suited to encounter coding: the work is
// mostly database round-trips, so workers well beyond core count pay off.
func DefaultConfig() Config {
	return Config{
		Workers:                 50,
		QueueSize:               5000,
		MaxRetries:              3,
		RetryDelay:              100 * time.Millisecond,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

// Pool runs a fixed set of coding workers over a bounded queue.
type Pool struct {
	config     Config
	workerFunc WorkerFunc
	logger     *zap.Logger

	taskChan chan *Task
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a pool; call Start to launch the workers.
func New(cfg Config, fn WorkerFunc, logger *zap.Logger) (*Pool, error) {
	if fn == nil {
		return nil, errors.New("worker function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		config:     cfg,
		workerFunc: fn,
		logger:     logger,
		taskChan:   make(chan *Task, cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start launches the workers.
func (p *Pool) Start() {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize))
}

// Submit queues a task without blocking. ErrQueueFull signals the
// caller to back off and redeliver.
func (p *Pool) Submit(task *Task) error {
	select {
	case <-p.ctx.Done():
		return ErrPoolStopped
	default:
	}

	select {
	case p.taskChan <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop drains queued tasks and waits for in-flight ones, up to the
// graceful shutdown timeout.
func (p *Pool) Stop() error {
	p.logger.Info("stopping worker pool")
	p.cancel()
	close(p.taskChan)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-time.After(p.config.GracefulShutdownTimeout):
		p.logger.Warn("worker pool shutdown timed out")
		return errors.New("shutdown timed out")
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for task := range p.taskChan {
		result := p.runWithRetry(task)
		if !result.Success {
			p.logger.Error("task failed",
				zap.String("task_id", task.ID),
				zap.Int("worker_id", id),
				zap.Error(result.Error))
		}
	}
}

// runWithRetry runs the worker function, retrying failures with linear
// backoff until success, context cancellation, or retry exhaustion.
func (p *Pool) runWithRetry(task *Task) *Result {
	ctx := task.Context
	if ctx == nil {
		ctx = p.ctx
	}

	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			p.logger.Debug("retrying task",
				zap.String("task_id", task.ID),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return &Result{TaskID: task.ID, Success: false, Error: ctx.Err()}
			case <-time.After(p.config.RetryDelay * time.Duration(attempt)):
			}
		}
		if ctx.Err() != nil {
			return &Result{TaskID: task.ID, Success: false, Error: ctx.Err()}
		}

		result := p.workerFunc(ctx, task)
		if result.Success {
			return result
		}
		lastErr = result.Error
	}

	return &Result{
		TaskID:  task.ID,
		Success: false,
		Error:   fmt.Errorf("task failed after %d retries: %w", p.config.MaxRetries, lastErr),
	}
}
