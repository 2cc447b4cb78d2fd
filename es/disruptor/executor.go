package disruptor

import (
	"context"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/getpup/pupcommand/es"
)

// Executor runs callbacks and reschedules off the pipeline goroutines.
type Executor interface {
	// Execute runs task asynchronously.
	Execute(task func())

	// Shutdown waits for submitted tasks to finish or ctx to be done.
	Shutdown(ctx context.Context) error
}

// PoolExecutor runs tasks on goroutines, at most concurrency at a time.
// Tasks submitted after Shutdown run on the submitting goroutine.
type PoolExecutor struct {
	sem    *semaphore.Weighted
	logger es.Logger
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewPoolExecutor creates a PoolExecutor. concurrency <= 0 defaults to 64.
func NewPoolExecutor(concurrency int64, logger es.Logger) *PoolExecutor {
	if concurrency <= 0 {
		concurrency = 64
	}
	return &PoolExecutor{
		sem:    semaphore.NewWeighted(concurrency),
		logger: es.LoggerOrNoOp(logger),
	}
}

// Execute implements Executor.
func (e *PoolExecutor) Execute(task func()) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.run(task)
		return
	}
	e.wg.Add(1)
	e.mu.Unlock()

	go func() {
		defer e.wg.Done()
		// Acquire with a background context never fails.
		_ = e.sem.Acquire(context.Background(), 1)
		defer e.sem.Release(1)
		e.run(task)
	}()
}

func (e *PoolExecutor) run(task func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(context.Background(), "executor task panicked", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task()
}

// Shutdown implements Executor.
func (e *PoolExecutor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
