package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/nadmax/sendbatch/internal/metrics"
	"github.com/nadmax/sendbatch/internal/queue"
	"github.com/nadmax/sendbatch/internal/report"
)

const progressInterval = 10 * time.Second

type snapshotter interface {
	Snapshot() report.Summary
}

// startProgressReporter logs run progress and refreshes the queue depth gauge
// until ctx is done.
func startProgressReporter(ctx context.Context, src snapshotter, q queue.WorkQueue, total int, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reportProgress(ctx, src, q, total)
		}
	}
}

func reportProgress(ctx context.Context, src snapshotter, q queue.WorkQueue, total int) {
	s := src.Snapshot()

	attrs := []any{
		"done", s.Total,
		"total", total,
		"succeeded", s.Succeeded,
		"failed", s.Failed,
		"skipped", s.Skipped,
		"retries", s.Retries,
		"elapsed", s.Duration().Round(time.Second).String(),
	}

	pending, err := q.Len(ctx)
	if err != nil {
		slog.Debug("failed to read queue length", "error", err)
	} else {
		metrics.UpdateQueueDepth(pending)
		attrs = append(attrs, "pending", pending)
	}

	slog.Info("progress", attrs...)
}
