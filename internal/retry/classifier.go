package retry

import (
	"fmt"
	"regexp"

	"github.com/nadmax/sendbatch/internal/result"
)

// DefaultTransientPatterns match connectivity and scheduler-busy messages.
// Anything else that exits non-zero is permanent.
var DefaultTransientPatterns = []string{
	`connection refused`,
	`connection reset`,
	`timed out`,
	`timeout`,
	`scheduler unavailable`,
	`server unavailable`,
	`temporarily unavailable`,
}

type Classifier struct {
	transientCodes map[int]struct{}
	patterns       []*regexp.Regexp
}

// NewClassifier builds a classifier from exit codes and case-insensitive
// regular expressions that mark a failure as transient.
func NewClassifier(transientExitCodes []int, transientPatterns []string) (*Classifier, error) {
	c := &Classifier{
		transientCodes: make(map[int]struct{}, len(transientExitCodes)),
	}

	for _, code := range transientExitCodes {
		if code == 0 {
			return nil, fmt.Errorf("exit code 0 cannot be transient")
		}
		c.transientCodes[code] = struct{}{}
	}

	for _, p := range transientPatterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("invalid transient pattern %q: %w", p, err)
		}
		c.patterns = append(c.patterns, re)
	}

	return c, nil
}

func DefaultClassifier() *Classifier {
	c, err := NewClassifier(nil, DefaultTransientPatterns)
	if err != nil {
		panic(err)
	}

	return c
}

// Classify maps one process outcome to SUCCESS, TRANSIENT_FAILURE or PERMANENT_FAILURE.
// A timed out attempt is always transient.
func (c *Classifier) Classify(exitCode int, timedOut bool, output ...string) result.Outcome {
	if timedOut {
		return result.OutcomeTransient
	}
	if exitCode == 0 {
		return result.OutcomeSuccess
	}
	if _, ok := c.transientCodes[exitCode]; ok {
		return result.OutcomeTransient
	}

	for _, out := range output {
		if out == "" {
			continue
		}
		for _, re := range c.patterns {
			if re.MatchString(out) {
				return result.OutcomeTransient
			}
		}
	}

	return result.OutcomePermanent
}
