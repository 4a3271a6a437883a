package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Workers = 2
	cfg.QueueSize = 10
	cfg.RetryDelay = time.Millisecond
	cfg.GracefulShutdownTimeout = time.Second
	return cfg
}

func TestPoolProcessesSubmittedTasks(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}
	done := make(chan struct{}, 3)

	pool, err := New(testConfig(), func(ctx context.Context, task *Task) *Result {
		mu.Lock()
		seen[task.ID] = true
		mu.Unlock()
		done <- struct{}{}
		return &Result{TaskID: task.ID, Success: true}
	}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	pool.Start()
	defer pool.Stop()

	for _, id := range []string{"CLM-1", "CLM-2", "CLM-3"} {
		if err := pool.Submit(&Task{ID: id, Payload: []byte("{}")}); err != nil {
			t.Fatalf("Submit(%s): %v", id, err)
		}
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for tasks")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	for _, id := range []string{"CLM-1", "CLM-2", "CLM-3"} {
		if !seen[id] {
			t.Errorf("task %s was never processed", id)
		}
	}
}

func TestPoolRetriesUntilSuccess(t *testing.T) {
	var attempts int32
	done := make(chan struct{})

	pool, err := New(testConfig(), func(ctx context.Context, task *Task) *Result {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return &Result{TaskID: task.ID, Success: false, Error: errors.New("transient")}
		}
		close(done)
		return &Result{TaskID: task.ID, Success: true}
	}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	pool.Start()
	defer pool.Stop()

	if err := pool.Submit(&Task{ID: "CLM-retry"}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task never succeeded")
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestPoolGivesUpAfterMaxRetries(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2

	var attempts int32
	attempted := make(chan struct{}, 8)
	pool, err := New(cfg, func(ctx context.Context, task *Task) *Result {
		atomic.AddInt32(&attempts, 1)
		attempted <- struct{}{}
		return &Result{TaskID: task.ID, Success: false, Error: errors.New("payer endpoint down")}
	}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	pool.Start()
	defer pool.Stop()

	if err := pool.Submit(&Task{ID: "CLM-doomed"}); err != nil {
		t.Fatal(err)
	}

	// Initial attempt plus two retries.
	for i := 0; i < 3; i++ {
		select {
		case <-attempted:
		case <-time.After(2 * time.Second):
			t.Fatalf("saw %d attempts, want 3", atomic.LoadInt32(&attempts))
		}
	}
	select {
	case <-attempted:
		t.Errorf("attempts = %d, want 3", atomic.LoadInt32(&attempts))
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubmitAfterStopIsRejected(t *testing.T) {
	pool, err := New(testConfig(), func(ctx context.Context, task *Task) *Result {
		return &Result{TaskID: task.ID, Success: true}
	}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	pool.Start()
	pool.Stop()

	if err := pool.Submit(&Task{ID: "CLM-late"}); !errors.Is(err, ErrPoolStopped) {
		t.Errorf("Submit after Stop = %v, want ErrPoolStopped", err)
	}
}

func TestSubmitFullQueue(t *testing.T) {
	cfg := testConfig()
	cfg.Workers = 1
	cfg.QueueSize = 1

	block := make(chan struct{})
	pool, err := New(cfg, func(ctx context.Context, task *Task) *Result {
		<-block
		return &Result{TaskID: task.ID, Success: true}
	}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	pool.Start()
	defer func() {
		close(block)
		pool.Stop()
	}()

	// First task occupies the worker, second fills the queue.
	if err := pool.Submit(&Task{ID: "CLM-a"}); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(time.Second)
	for {
		err := pool.Submit(&Task{ID: "CLM-b"})
		if err == nil && time.Now().Before(deadline) {
			continue
		}
		if err == nil {
			t.Fatal("queue never filled")
		}
		if !errors.Is(err, ErrQueueFull) {
			t.Fatalf("Submit on full queue = %v, want ErrQueueFull", err)
		}
		break
	}
}
