package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nadmax/sendbatch/internal/command"
	"github.com/redis/go-redis/v9"
)

// RedisQueue keeps the pending commands of one run in a Redis list. LPOP is
// atomic, so concurrent workers never receive the same record.
type RedisQueue struct {
	client *redis.Client
	key    string
}

func NewRedisQueue(redisAddr, runID string) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisQueue{
		client: client,
		key:    fmt.Sprintf("sendbatch:%s:queue", runID),
	}, nil
}

func (q *RedisQueue) Key() string {
	return q.key
}

func (q *RedisQueue) Push(ctx context.Context, recs ...command.Record) error {
	if len(recs) == 0 {
		return nil
	}

	values := make([]any, 0, len(recs))
	for _, rec := range recs {
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal record: %w", err)
		}
		values = append(values, data)
	}

	return q.client.RPush(ctx, q.key, values...).Err()
}

// Pop skips entries that cannot be decoded; LPOP has already removed them.
func (q *RedisQueue) Pop(ctx context.Context) (command.Record, bool, error) {
	for {
		data, err := q.client.LPop(ctx, q.key).Bytes()
		if errors.Is(err, redis.Nil) {
			return command.Record{}, false, nil
		}
		if err != nil {
			return command.Record{}, false, err
		}

		var rec command.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			slog.Error("dropping undecodable queue entry", "key", q.key, "error", err)
			continue
		}

		return rec, true, nil
	}
}

func (q *RedisQueue) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	return int(n), err
}

// Clear removes the run's list.
func (q *RedisQueue) Clear(ctx context.Context) error {
	return q.client.Del(ctx, q.key).Err()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
