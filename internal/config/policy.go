package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nadmax/sendbatch/internal/retry"
)

// PolicyFile is the YAML form of the retry policy. Unset fields keep the
// values from flags and environment.
//
//	max_retries: 5
//	transient_exit_codes: [75, 111]
//	transient_patterns:
//	  - "connection refused"
//	  - "CAUAJM_E_\\d+: .*unavailable"
//	replace_default_patterns: false
//	backoff:
//	  base: 1s
//	  max: 30s
type PolicyFile struct {
	MaxRetries             *int          `yaml:"max_retries,omitempty"`
	TransientExitCodes     []int         `yaml:"transient_exit_codes"`
	TransientPatterns      []string      `yaml:"transient_patterns"`
	ReplaceDefaultPatterns bool          `yaml:"replace_default_patterns"`
	Backoff                BackoffConfig `yaml:"backoff"`
}

type BackoffConfig struct {
	Base time.Duration `yaml:"base"`
	Max  time.Duration `yaml:"max"`
}

func LoadPolicyFile(path string) (*PolicyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read policy file: %w", ErrInvalid, err)
	}

	var pf PolicyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("%w: failed to parse policy file %s: %w", ErrInvalid, path, err)
	}

	return &pf, nil
}

func (pf *PolicyFile) Apply(base retry.Policy) (retry.Policy, error) {
	policy := base

	if pf.MaxRetries != nil {
		if *pf.MaxRetries < 0 {
			return retry.Policy{}, fmt.Errorf("%w: max_retries must be >= 0", ErrInvalid)
		}
		policy.MaxRetries = *pf.MaxRetries
	}
	if pf.Backoff.Base > 0 {
		policy.Backoff.Base = pf.Backoff.Base
	}
	if pf.Backoff.Max > 0 {
		policy.Backoff.Max = pf.Backoff.Max
	}
	if policy.Backoff.Max > 0 && policy.Backoff.Base > policy.Backoff.Max {
		return retry.Policy{}, fmt.Errorf("%w: backoff base %s exceeds max %s", ErrInvalid, policy.Backoff.Base, policy.Backoff.Max)
	}

	patterns := pf.TransientPatterns
	if !pf.ReplaceDefaultPatterns {
		patterns = append(append([]string{}, retry.DefaultTransientPatterns...), patterns...)
	}

	classifier, err := retry.NewClassifier(pf.TransientExitCodes, patterns)
	if err != nil {
		return retry.Policy{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	policy.Classifier = classifier

	return policy, nil
}
