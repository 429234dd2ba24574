// Package runner executes one scheduler command to completion, retrying transient failures.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nadmax/sendbatch/internal/command"
	"github.com/nadmax/sendbatch/internal/metrics"
	"github.com/nadmax/sendbatch/internal/result"
	"github.com/nadmax/sendbatch/internal/retry"
)

const DefaultTimeout = 60 * time.Second

type Runner struct {
	executor Executor
	policy   retry.Policy
	timeout  time.Duration
	dryRun   bool
	runID    string
	abort    context.Context
}

type Option func(*Runner)

func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

func WithDryRun(dryRun bool) Option {
	return func(r *Runner) {
		r.dryRun = dryRun
	}
}

func WithRunID(id string) Option {
	return func(r *Runner) {
		r.runID = id
	}
}

// WithAbortContext sets the context that kills in-flight scheduler processes.
// It is separate from the stop signal passed to Run, which only prevents new
// attempts from starting.
func WithAbortContext(ctx context.Context) Option {
	return func(r *Runner) {
		if ctx != nil {
			r.abort = ctx
		}
	}
}

func New(executor Executor, policy retry.Policy, opts ...Option) *Runner {
	if policy.Classifier == nil {
		policy.Classifier = retry.DefaultClassifier()
	}

	r := &Runner{
		executor: executor,
		policy:   policy,
		timeout:  DefaultTimeout,
		abort:    context.Background(),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

func (r *Runner) DryRun() bool {
	return r.dryRun
}

// Run drives rec through its attempts and returns a finalized result. Once ctx
// is done no further attempt starts; a running attempt is left to finish or
// time out.
func (r *Runner) Run(ctx context.Context, rec command.Record) *result.CommandResult {
	res := result.New(rec)
	res.RunID = r.runID

	if r.dryRun {
		now := time.Now()
		r.mustAddAttempt(res, result.Attempt{
			Number:    1,
			Outcome:   result.OutcomeSuccess,
			StartedAt: now,
			EndedAt:   now,
		})
		r.finalize(res, result.StateSkipped, "")
		slog.Debug("dry-run: skipped scheduler call", "job", rec.JobName, "command", rec.RawText)
		return res
	}

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			r.finalize(res, result.StateFailed, result.OutcomeCancelled)
			return res
		}

		a := r.runAttempt(rec, attempt)
		r.mustAddAttempt(res, a)

		if a.Outcome == result.OutcomeSuccess {
			r.finalize(res, result.StateSucceeded, "")
			return res
		}

		if r.abort.Err() != nil {
			r.finalize(res, result.StateFailed, result.OutcomeCancelled)
			return res
		}

		outcome := a.Outcome
		if a.TimedOut {
			outcome = result.OutcomeTimeout
		}

		decision := r.policy.Decide(outcome, attempt)
		if decision.Action == retry.GiveUp {
			slog.Warn("command failed",
				"job", rec.JobName,
				"line", rec.LineNumber,
				"attempts", attempt,
				"outcome", outcome,
				"stderr", a.StderrExcerpt,
				"error", a.Error,
			)
			r.finalize(res, result.StateFailed, outcome)
			return res
		}

		metrics.RecordRetry()
		slog.Info("command failed, will retry",
			"job", rec.JobName,
			"attempt", attempt,
			"max_retries", r.policy.MaxRetries,
			"outcome", outcome,
			"delay", decision.Delay,
		)

		if !sleep(ctx, decision.Delay) {
			r.finalize(res, result.StateFailed, result.OutcomeCancelled)
			return res
		}
	}
}

func (r *Runner) runAttempt(rec command.Record, number int) result.Attempt {
	a := result.Attempt{Number: number, StartedAt: time.Now()}

	out, err := r.executor.Execute(r.abort, rec.Argv(), r.timeout)
	a.EndedAt = time.Now()

	if err != nil {
		a.Outcome = result.OutcomePermanent
		a.Error = err.Error()
		metrics.RecordAttempt(a.Outcome, a.Duration())
		return a
	}

	a.TimedOut = out.TimedOut
	a.StdoutExcerpt = out.Stdout
	a.StderrExcerpt = out.Stderr
	if out.TimedOut {
		a.Error = fmt.Sprintf("timed out after %s", r.timeout)
	} else {
		a.ExitCode = result.ExitCode(out.ExitCode)
	}
	a.Outcome = r.policy.Classifier.Classify(out.ExitCode, out.TimedOut, out.Stdout, out.Stderr)

	metrics.RecordAttempt(a.Outcome, a.Duration())
	return a
}

func (r *Runner) mustAddAttempt(res *result.CommandResult, a result.Attempt) {
	if err := res.AddAttempt(a); err != nil {
		slog.Error("failed to record attempt", "job", res.JobName, "attempt", a.Number, "error", err)
	}
}

func (r *Runner) finalize(res *result.CommandResult, state result.FinalState, reason result.Outcome) {
	if err := res.Finalize(state, reason); err != nil {
		slog.Error("failed to finalize result", "job", res.JobName, "error", err)
		return
	}

	metrics.RecordFinished(state, res.Duration())
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
