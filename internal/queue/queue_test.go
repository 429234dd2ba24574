package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/nadmax/sendbatch/internal/command"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedisQueue(t *testing.T) (*RedisQueue, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	q, err := NewRedisQueue(mr.Addr(), "run-1")
	require.NoError(t, err)

	return q, mr
}

func testRecords(t *testing.T, n int) []command.Record {
	recs := make([]command.Record, 0, n)
	for i := range n {
		rec, err := command.Parse(i+1, fmt.Sprintf("sendevent -E CHANGE_STATUS -s INACTIVE -J JOB_%03d", i), "")
		require.NoError(t, err)
		recs = append(recs, rec)
	}
	return recs
}

func queues(t *testing.T) map[string]WorkQueue {
	q, mr := setupTestRedisQueue(t)
	t.Cleanup(func() {
		_ = q.Close()
		mr.Close()
	})

	return map[string]WorkQueue{
		"memory": NewMemoryQueue(),
		"redis":  q,
	}
}

func TestPushPop_FIFO(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			recs := testRecords(t, 3)
			require.NoError(t, q.Push(ctx, recs...))

			n, err := q.Len(ctx)
			require.NoError(t, err)
			assert.Equal(t, 3, n)

			for _, want := range recs {
				got, ok, err := q.Pop(ctx)
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, want, got)
			}

			_, ok, err := q.Pop(ctx)
			assert.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestPop_ExactlyOnceUnderContention(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			recs := testRecords(t, 200)
			require.NoError(t, q.Push(ctx, recs...))

			var mu sync.Mutex
			seen := make(map[string]int)
			var wg sync.WaitGroup
			for range 16 {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for {
						rec, ok, err := q.Pop(ctx)
						if err != nil || !ok {
							return
						}
						mu.Lock()
						seen[rec.JobName]++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			assert.Len(t, seen, 200)
			for job, count := range seen {
				assert.Equal(t, 1, count, "job %s popped more than once", job)
			}
		})
	}
}

func TestPush_Empty(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, q.Push(context.Background()))

			n, err := q.Len(context.Background())
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestNewRedisQueue_InvalidAddress(t *testing.T) {
	_, err := NewRedisQueue("invalid:99999", "run-1")
	assert.Error(t, err)
}

func TestRedisQueue_KeyAndClear(t *testing.T) {
	q, mr := setupTestRedisQueue(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()

	assert.Equal(t, "sendbatch:run-1:queue", q.Key())

	require.NoError(t, q.Push(context.Background(), testRecords(t, 2)...))
	assert.True(t, mr.Exists(q.Key()))

	require.NoError(t, q.Clear(context.Background()))
	assert.False(t, mr.Exists(q.Key()))
}

func TestRedisQueue_CorruptEntrySkipped(t *testing.T) {
	q, mr := setupTestRedisQueue(t)
	defer mr.Close()
	defer func() { _ = q.Close() }()

	ctx := context.Background()
	recs := testRecords(t, 1)
	require.NoError(t, q.Push(ctx, recs...))

	_, err := mr.Lpush(q.Key(), "not json")
	require.NoError(t, err)

	rec, ok, err := q.Pop(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, recs[0].JobName, rec.JobName)

	_, ok, err = q.Pop(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
