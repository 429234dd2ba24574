// Package repository persists command results for later inspection across runs.
package repository

import (
	"context"
	"time"

	"github.com/nadmax/sendbatch/internal/repository/models"
	"github.com/nadmax/sendbatch/internal/result"
)

type ResultRepository interface {
	SaveResult(ctx context.Context, res *result.CommandResult) error
	GetRunResults(ctx context.Context, runID string) ([]*result.CommandResult, error)
	GetFailedJobs(ctx context.Context, runID string) ([]string, error)
	GetRunStats(ctx context.Context, runID string) ([]models.StateStats, error)
	GetRecentRuns(ctx context.Context, limit int) ([]models.RunInfo, error)
	Close() error
}

const defaultWriteTimeout = 10 * time.Second

// Sink adapts a repository to the result stream. Each write gets its own
// deadline so an interrupted run can still flush what it finished.
type Sink struct {
	repo    ResultRepository
	timeout time.Duration
}

func NewSink(repo ResultRepository, timeout time.Duration) *Sink {
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}

	return &Sink{repo: repo, timeout: timeout}
}

func (s *Sink) Write(res *result.CommandResult) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	return s.repo.SaveResult(ctx, res)
}

func (s *Sink) Close() error {
	return s.repo.Close()
}
