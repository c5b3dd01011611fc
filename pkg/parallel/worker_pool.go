// Package parallel provides a small generic worker pool for fan-out work such
// as parsing many trace files at once.
package parallel

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// PoolConfig configures worker pool behavior.
type PoolConfig struct {
	// MaxWorkers is the maximum number of concurrent workers.
	// Default: min(runtime.NumCPU(), 8)
	MaxWorkers int

	// Timeout bounds the entire operation. Zero means no timeout.
	Timeout time.Duration
}

// DefaultPoolConfig returns a default pool configuration.
func DefaultPoolConfig() PoolConfig {
	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8
	}
	if workers < 2 {
		workers = 2
	}
	return PoolConfig{MaxWorkers: workers}
}

// WithWorkers returns a new config with the specified number of workers.
func (c PoolConfig) WithWorkers(n int) PoolConfig {
	c.MaxWorkers = n
	return c
}

// WithTimeout returns a new config with the specified timeout.
func (c PoolConfig) WithTimeout(d time.Duration) PoolConfig {
	c.Timeout = d
	return c
}

// TaskResult holds the outcome of one task.
type TaskResult[T any, R any] struct {
	Input    T
	Result   R
	Error    error
	Duration time.Duration
}

// WorkerPool runs independent tasks concurrently. Results come back in input
// order regardless of completion order, so a caller reducing them gets a
// deterministic sequence.
type WorkerPool[T any, R any] struct {
	config PoolConfig
}

// NewWorkerPool creates a worker pool with the given configuration.
func NewWorkerPool[T any, R any](config PoolConfig) *WorkerPool[T, R] {
	if config.MaxWorkers <= 0 {
		config.MaxWorkers = DefaultPoolConfig().MaxWorkers
	}
	return &WorkerPool[T, R]{config: config}
}

// ExecuteFunc applies fn to every input in parallel and returns one result
// per input, in input order. A canceled context leaves the remaining results
// with ctx.Err set.
func (p *WorkerPool[T, R]) ExecuteFunc(
	ctx context.Context,
	inputs []T,
	fn func(ctx context.Context, input T) (R, error),
) []TaskResult[T, R] {
	if len(inputs) == 0 {
		return nil
	}

	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	results := make([]TaskResult[T, R], len(inputs))
	ran := make([]bool, len(inputs))
	taskCh := make(chan int)

	numWorkers := p.config.MaxWorkers
	if numWorkers > len(inputs) {
		numWorkers = len(inputs)
	}

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case idx, ok := <-taskCh:
					if !ok {
						return
					}
					start := time.Now()
					result, err := fn(ctx, inputs[idx])
					results[idx] = TaskResult[T, R]{
						Input:    inputs[idx],
						Result:   result,
						Error:    err,
						Duration: time.Since(start),
					}
					ran[idx] = true
				}
			}
		}()
	}

	go func() {
		defer close(taskCh)
		for i := range inputs {
			select {
			case <-ctx.Done():
				return
			case taskCh <- i:
			}
		}
	}()

	wg.Wait()

	// Mark tasks that never ran because the context ended.
	if err := ctx.Err(); err != nil {
		for i := range results {
			if !ran[i] {
				results[i].Input = inputs[i]
				results[i].Error = err
			}
		}
	}

	return results
}
