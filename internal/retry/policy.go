// Package retry decides whether a failed scheduler call is retried and how long to wait first.
package retry

import (
	"time"

	"github.com/nadmax/sendbatch/internal/result"
)

type Action int

const (
	GiveUp Action = iota
	Retry
)

func (a Action) String() string {
	if a == Retry {
		return "retry"
	}

	return "give_up"
}

type Decision struct {
	Action Action
	Delay  time.Duration
}

type Backoff struct {
	Base time.Duration
	Max  time.Duration
}

// Delay returns Base * 2^(attempt-1), capped at Max when Max is positive.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 || b.Base <= 0 {
		return 0
	}

	delay := b.Base
	for i := 1; i < attempt; i++ {
		if b.Max > 0 && delay >= b.Max {
			break
		}
		next := delay * 2
		if next <= delay {
			break
		}
		delay = next
	}

	if b.Max > 0 && delay > b.Max {
		return b.Max
	}

	return delay
}

// Decide is pure: the same outcome, attempt number and budget always produce
// the same decision. Only transient failures and timeouts are retried, and only
// while attempt <= maxRetries.
func Decide(outcome result.Outcome, attempt, maxRetries int, backoff Backoff) Decision {
	switch outcome {
	case result.OutcomeTransient, result.OutcomeTimeout:
		if attempt <= maxRetries {
			return Decision{Action: Retry, Delay: backoff.Delay(attempt)}
		}
	}

	return Decision{Action: GiveUp}
}

type Policy struct {
	MaxRetries int
	Backoff    Backoff
	Classifier *Classifier
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: 3,
		Backoff:    Backoff{Base: 2 * time.Second, Max: time.Minute},
		Classifier: DefaultClassifier(),
	}
}

func (p Policy) Decide(outcome result.Outcome, attempt int) Decision {
	return Decide(outcome, attempt, p.MaxRetries, p.Backoff)
}
