package repository

import (
	"context"
	"sync"

	"github.com/nadmax/sendbatch/internal/repository/models"
	"github.com/nadmax/sendbatch/internal/result"
)

type MockResultRepository struct {
	mu              sync.Mutex
	SaveResultCalls []*result.CommandResult
	Runs            map[string][]*result.CommandResult
	Stats           []models.StateStats
	SaveResultError error
	GetResultsError error
	Closed          bool
}

func NewMockResultRepository() *MockResultRepository {
	return &MockResultRepository{
		Runs: make(map[string][]*result.CommandResult),
	}
}

func (m *MockResultRepository) SaveResult(ctx context.Context, res *result.CommandResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SaveResultCalls = append(m.SaveResultCalls, res)
	if m.SaveResultError != nil {
		return m.SaveResultError
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.Runs[res.RunID] = append(m.Runs[res.RunID], res)
	return nil
}

func (m *MockResultRepository) GetRunResults(_ context.Context, runID string) ([]*result.CommandResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetResultsError != nil {
		return nil, m.GetResultsError
	}

	return append([]*result.CommandResult(nil), m.Runs[runID]...), nil
}

func (m *MockResultRepository) GetFailedJobs(_ context.Context, runID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.GetResultsError != nil {
		return nil, m.GetResultsError
	}

	var jobs []string
	for _, res := range m.Runs[runID] {
		if res.FinalState == result.StateFailed {
			jobs = append(jobs, res.JobName)
		}
	}

	return jobs, nil
}

func (m *MockResultRepository) GetRunStats(context.Context, string) ([]models.StateStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.Stats, m.GetResultsError
}

func (m *MockResultRepository) GetRecentRuns(_ context.Context, limit int) ([]models.RunInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var runs []models.RunInfo
	for id, results := range m.Runs {
		info := models.RunInfo{RunID: id, Total: len(results)}
		for _, res := range results {
			switch res.FinalState {
			case result.StateSucceeded:
				info.Succeeded++
			case result.StateFailed:
				info.Failed++
			case result.StateSkipped:
				info.Skipped++
			}
		}
		runs = append(runs, info)
		if len(runs) == limit {
			break
		}
	}

	return runs, m.GetResultsError
}

func (m *MockResultRepository) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Closed = true
	return nil
}

func (m *MockResultRepository) SaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.SaveResultCalls)
}
