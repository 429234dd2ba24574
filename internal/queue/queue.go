// Package queue holds the commands waiting for a worker. Every pushed record is
// popped by exactly one caller.
package queue

import (
	"context"
	"sync"

	"github.com/nadmax/sendbatch/internal/command"
)

type WorkQueue interface {
	Push(ctx context.Context, recs ...command.Record) error
	// Pop returns false when the queue is empty.
	Pop(ctx context.Context) (command.Record, bool, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

type MemoryQueue struct {
	mu    sync.Mutex
	items []command.Record
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Push(_ context.Context, recs ...command.Record) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = append(q.items, recs...)
	return nil
}

func (q *MemoryQueue) Pop(_ context.Context) (command.Record, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return command.Record{}, false, nil
	}

	rec := q.items[0]
	q.items[0] = command.Record{}
	q.items = q.items[1:]
	return rec, true, nil
}

func (q *MemoryQueue) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items), nil
}

func (q *MemoryQueue) Close() error {
	return nil
}
