// Package result defines the per-command execution model shared by the runner, dispatcher and reporters.
// It contains attempt and result records, outcome and final state definitions, and serialization helpers.
package result

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nadmax/sendbatch/internal/command"
)

type (
	Outcome    string
	FinalState string
	Attempt    struct {
		Number        int       `json:"attempt_number"`
		ExitCode      *int      `json:"exit_code"`
		Outcome       Outcome   `json:"classified_outcome"`
		TimedOut      bool      `json:"timed_out,omitempty"`
		StartedAt     time.Time `json:"started_at"`
		EndedAt       time.Time `json:"ended_at"`
		StdoutExcerpt string    `json:"stdout_excerpt,omitempty"`
		StderrExcerpt string    `json:"stderr_excerpt,omitempty"`
		Error         string    `json:"error,omitempty"`
	}
	CommandResult struct {
		RunID      string     `json:"run_id,omitempty"`
		LineNumber int        `json:"line_number"`
		JobName    string     `json:"job_name"`
		Command    string     `json:"command"`
		FinalState FinalState `json:"final_state"`
		Reason     Outcome    `json:"reason,omitempty"`
		WorkerID   string     `json:"worker_id,omitempty"`
		Attempts   []Attempt  `json:"attempts"`
	}
)

const (
	OutcomeSuccess   Outcome = "SUCCESS"
	OutcomeTransient Outcome = "TRANSIENT_FAILURE"
	OutcomePermanent Outcome = "PERMANENT_FAILURE"
	OutcomeTimeout   Outcome = "TIMEOUT"
	OutcomeCancelled Outcome = "CANCELLED"
)

const (
	StatePending   FinalState = ""
	StateSucceeded FinalState = "SUCCEEDED"
	StateFailed    FinalState = "FAILED_EXHAUSTED"
	StateSkipped   FinalState = "SKIPPED_DRYRUN"
)

var (
	ErrAlreadyFinal       = errors.New("result already finalized")
	ErrAttemptOutOfOrder  = errors.New("attempt number must be strictly increasing")
	ErrInvalidFinalState  = errors.New("invalid final state")
	ErrAttemptAfterFinish = errors.New("cannot add attempt to a finalized result")
)

func New(rec command.Record) *CommandResult {
	return &CommandResult{
		LineNumber: rec.LineNumber,
		JobName:    rec.JobName,
		Command:    rec.RawText,
		Attempts:   []Attempt{},
	}
}

// AddAttempt appends a finished attempt. Attempt numbers must grow by exactly one.
func (r *CommandResult) AddAttempt(a Attempt) error {
	if r.IsFinal() {
		return ErrAttemptAfterFinish
	}
	if a.Number != len(r.Attempts)+1 {
		return fmt.Errorf("%w: got %d after %d", ErrAttemptOutOfOrder, a.Number, len(r.Attempts))
	}

	r.Attempts = append(r.Attempts, a)
	return nil
}

// Finalize sets the final state once.
func (r *CommandResult) Finalize(state FinalState, reason Outcome) error {
	if r.IsFinal() {
		return ErrAlreadyFinal
	}

	switch state {
	case StateSucceeded, StateFailed, StateSkipped:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidFinalState, state)
	}

	r.FinalState = state
	r.Reason = reason
	return nil
}

func (r *CommandResult) IsFinal() bool {
	return r.FinalState != StatePending
}

func (r *CommandResult) LastAttempt() *Attempt {
	if len(r.Attempts) == 0 {
		return nil
	}

	return &r.Attempts[len(r.Attempts)-1]
}

// Retries is the number of attempts beyond the first.
func (r *CommandResult) Retries() int {
	if len(r.Attempts) <= 1 {
		return 0
	}

	return len(r.Attempts) - 1
}

func (r *CommandResult) Duration() time.Duration {
	if len(r.Attempts) == 0 {
		return 0
	}

	return r.Attempts[len(r.Attempts)-1].EndedAt.Sub(r.Attempts[0].StartedAt)
}

func (r *CommandResult) ToJSON() (string, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func FromJSON(data string) (*CommandResult, error) {
	var r CommandResult
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, err
	}

	return &r, nil
}

func (a Attempt) Duration() time.Duration {
	return a.EndedAt.Sub(a.StartedAt)
}

func ExitCode(code int) *int {
	return &code
}
