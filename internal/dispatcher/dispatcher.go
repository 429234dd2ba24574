// Package dispatcher fans commands out to a fixed pool of workers and streams back their results.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nadmax/sendbatch/internal/command"
	"github.com/nadmax/sendbatch/internal/metrics"
	"github.com/nadmax/sendbatch/internal/queue"
	"github.com/nadmax/sendbatch/internal/result"
)

type ErrorKind string

const InvalidConfig ErrorKind = "INVALID_CONFIG"

type DispatchError struct {
	Kind    ErrorKind
	Message string
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Runner executes one command, including its retries, and returns a final result.
type Runner interface {
	Run(ctx context.Context, rec command.Record) *result.CommandResult
}

const defaultPopRetryDelay = 250 * time.Millisecond

type Dispatcher struct {
	runner        Runner
	queue         queue.WorkQueue
	workers       int
	runID         string
	popRetryDelay time.Duration
}

type Option func(*Dispatcher)

func WithQueue(q queue.WorkQueue) Option {
	return func(d *Dispatcher) {
		if q != nil {
			d.queue = q
		}
	}
}

func WithRunID(id string) Option {
	return func(d *Dispatcher) {
		d.runID = id
	}
}

// WithPopRetryDelay sets how long a worker waits before retrying a failed
// queue read.
func WithPopRetryDelay(delay time.Duration) Option {
	return func(d *Dispatcher) {
		if delay > 0 {
			d.popRetryDelay = delay
		}
	}
}

func New(runner Runner, workers int, opts ...Option) (*Dispatcher, error) {
	if runner == nil {
		return nil, &DispatchError{Kind: InvalidConfig, Message: "runner is required"}
	}
	if workers < 1 {
		return nil, &DispatchError{Kind: InvalidConfig, Message: fmt.Sprintf("worker count must be >= 1, got %d", workers)}
	}

	d := &Dispatcher{
		runner:        runner,
		queue:         queue.NewMemoryQueue(),
		workers:       workers,
		popRetryDelay: defaultPopRetryDelay,
	}
	for _, opt := range opts {
		opt(d)
	}

	return d, nil
}

// Workers returns the pool size that would be used for n commands.
func (d *Dispatcher) Workers(n int) int {
	return min(d.workers, n)
}

// Dispatch seeds the queue with records and starts the pool. The returned
// channel yields exactly one final result per record and is closed once all
// of them have been delivered. Cancelling ctx stops workers from taking new
// records; records that were never started are reported as cancelled.
func (d *Dispatcher) Dispatch(ctx context.Context, records []command.Record) (<-chan *result.CommandResult, error) {
	if err := d.queue.Push(ctx, records...); err != nil {
		return nil, fmt.Errorf("failed to seed work queue: %w", err)
	}

	workers := d.Workers(len(records))
	out := make(chan *result.CommandResult, max(workers, 1))

	var remaining atomic.Int64
	remaining.Store(int64(len(records)))
	metrics.UpdateQueueDepth(len(records))

	var mu sync.Mutex
	taken := make(map[string]bool, len(records))

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			d.work(ctx, id, out, func(rec command.Record) {
				mu.Lock()
				taken[rec.RawText] = true
				mu.Unlock()
				metrics.UpdateQueueDepth(int(remaining.Add(-1)))
			})
		}(fmt.Sprintf("worker-%d", i+1))
	}

	slog.Info("dispatch started", "commands", len(records), "workers", workers)

	go func() {
		wg.Wait()

		cancelled := 0
		for _, rec := range records {
			if taken[rec.RawText] {
				continue
			}

			res := result.New(rec)
			res.RunID = d.runID
			_ = res.Finalize(result.StateFailed, result.OutcomeCancelled)
			metrics.RecordFinished(res.FinalState, 0)
			out <- res
			cancelled++
		}

		if cancelled > 0 {
			slog.Warn("commands never started", "count", cancelled)
		}
		metrics.UpdateQueueDepth(0)
		close(out)
	}()

	return out, nil
}

func (d *Dispatcher) work(ctx context.Context, id string, out chan<- *result.CommandResult, onTake func(command.Record)) {
	slog.Debug("worker started", "worker", id)
	defer slog.Debug("worker stopped", "worker", id)

	for {
		if ctx.Err() != nil {
			return
		}

		rec, ok, err := d.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("failed to take command from queue, retrying", "worker", id, "delay", d.popRetryDelay, "error", err)
			if !sleep(ctx, d.popRetryDelay) {
				return
			}
			continue
		}
		if !ok {
			return
		}

		onTake(rec)
		metrics.RecordDispatched()
		metrics.WorkerStarted()

		res := d.runner.Run(ctx, rec)
		res.WorkerID = id

		metrics.WorkerFinished()
		out <- res
	}
}

// sleep waits for delay and reports false if ctx ended first.
func sleep(ctx context.Context, delay time.Duration) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
