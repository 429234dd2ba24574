// Package report accumulates command results into a run summary and writes them to durable sinks.
package report

import (
	"log/slog"
	"sync"
	"time"

	"github.com/nadmax/sendbatch/internal/result"
)

// Sink receives every finalized result as soon as it arrives.
type Sink interface {
	Write(res *result.CommandResult) error
	Close() error
}

type Summary struct {
	RunID      string    `json:"run_id"`
	DryRun     bool      `json:"dry_run"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at,omitempty"`
	WallTime   string    `json:"wall_time"`
	Total      int       `json:"total"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Cancelled  int       `json:"cancelled"`
	Attempts   int       `json:"attempts"`
	Retries    int       `json:"retries"`
	Rejected   int       `json:"rejected_lines"`
	Duplicates int       `json:"duplicate_lines"`
	SinkErrors int       `json:"sink_errors"`
	FailedJobs []string  `json:"failed_jobs"`
	LogPath    string    `json:"log_path,omitempty"`
	Complete   bool      `json:"complete"`
}

func (s Summary) Duration() time.Duration {
	end := s.EndedAt
	if end.IsZero() {
		end = time.Now()
	}

	return end.Sub(s.StartedAt)
}

// ExitCode maps a finished run to the process exit status: 1 when any command
// failed, 0 otherwise.
func (s Summary) ExitCode() int {
	if s.Failed > 0 {
		return 1
	}

	return 0
}

// Aggregator is the single owner of the run summary. Results reach it only
// through Add or Consume.
type Aggregator struct {
	mu      sync.RWMutex
	summary Summary
	results []*result.CommandResult
	sinks   []Sink
}

func NewAggregator(runID string, dryRun bool, sinks ...Sink) *Aggregator {
	return &Aggregator{
		summary: Summary{
			RunID:      runID,
			DryRun:     dryRun,
			StartedAt:  time.Now(),
			FailedJobs: []string{},
		},
		sinks: sinks,
	}
}

func (a *Aggregator) SetInputStats(rejected, duplicates int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.summary.Rejected = rejected
	a.summary.Duplicates = duplicates
}

func (a *Aggregator) SetLogPath(path string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.summary.LogPath = path
}

// Add records one result and forwards it to every sink before returning.
func (a *Aggregator) Add(res *result.CommandResult) {
	sinkErrors := 0
	for _, s := range a.sinks {
		if err := s.Write(res); err != nil {
			sinkErrors++
			slog.Error("failed to write result", "job", res.JobName, "error", err)
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.results = append(a.results, res)
	a.summary.Total++
	a.summary.SinkErrors += sinkErrors

	switch res.FinalState {
	case result.StateSucceeded:
		a.summary.Succeeded++
	case result.StateSkipped:
		a.summary.Skipped++
	case result.StateFailed:
		a.summary.Failed++
		a.summary.FailedJobs = append(a.summary.FailedJobs, res.JobName)
		if res.Reason == result.OutcomeCancelled {
			a.summary.Cancelled++
		}
	}

	if res.FinalState != result.StateSkipped {
		a.summary.Attempts += len(res.Attempts)
		a.summary.Retries += res.Retries()
	}
}

// Consume drains results until the channel closes and returns the final summary.
func (a *Aggregator) Consume(results <-chan *result.CommandResult) Summary {
	for res := range results {
		a.Add(res)
	}

	a.mu.Lock()
	a.summary.EndedAt = time.Now()
	a.summary.WallTime = a.summary.EndedAt.Sub(a.summary.StartedAt).Round(time.Millisecond).String()
	a.summary.Complete = true
	a.mu.Unlock()

	return a.Snapshot()
}

// Snapshot returns a copy of the summary that is safe to use while the run continues.
func (a *Aggregator) Snapshot() Summary {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s := a.summary
	s.FailedJobs = append([]string(nil), a.summary.FailedJobs...)
	if !s.Complete {
		s.WallTime = time.Since(s.StartedAt).Round(time.Millisecond).String()
	}

	return s
}

// Results returns the results received so far, optionally filtered by final state.
func (a *Aggregator) Results(state result.FinalState) []*result.CommandResult {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]*result.CommandResult, 0, len(a.results))
	for _, res := range a.results {
		if state == result.StatePending || res.FinalState == state {
			out = append(out, res)
		}
	}

	return out
}

func (a *Aggregator) Close() error {
	var firstErr error
	for _, s := range a.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
