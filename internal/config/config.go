// Package config resolves run settings from SENDBATCH_* environment variables and command-line flags.
// Flags win over the environment, the environment wins over built-in defaults.
// A policy file overrides retry settings except those given as flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/nadmax/sendbatch/internal/retry"
)

const EnvPrefix = "SENDBATCH_"

var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	File         string        `env:"FILE"`
	Threads      int           `env:"THREADS" envDefault:"10"`
	Retries      int           `env:"RETRIES" envDefault:"3"`
	DryRun       bool          `env:"DRY_RUN" envDefault:"false"`
	Timeout      time.Duration `env:"TIMEOUT" envDefault:"60s"`
	BackoffBase  time.Duration `env:"BACKOFF_BASE" envDefault:"2s"`
	BackoffMax   time.Duration `env:"BACKOFF_MAX" envDefault:"60s"`
	LogDir       string        `env:"LOG_DIR" envDefault:"./logs"`
	SendeventBin string        `env:"SENDEVENT_BIN" envDefault:"sendevent"`
	EnvFile      string        `env:"ENV_FILE"`
	PolicyFile   string        `env:"POLICY"`
	RedisAddr    string        `env:"REDIS_ADDR"`
	PostgresDSN  string        `env:"POSTGRES_DSN"`
	StatusAddr   string        `env:"STATUS_ADDR"`
	SummaryOut   string        `env:"SUMMARY_OUT"`
	NotifyTo     string        `env:"NOTIFY_TO"`
	NotifyFrom   string        `env:"NOTIFY_FROM" envDefault:"sendbatch@localhost"`
	SendGridKey  string        `env:"SENDGRID_API_KEY,unset"`
	LogFormat    string        `env:"LOG_FORMAT" envDefault:"text"`
	LogLevel     string        `env:"LOG_LEVEL" envDefault:"info"`

	// flags given on the command line, by name
	explicit map[string]bool
}

// FromEnv reads the environment only. environ entries are KEY=VALUE pairs;
// a nil environ means the process environment.
func FromEnv(environ []string) (Config, error) {
	var cfg Config
	opts := env.Options{Prefix: EnvPrefix}
	if environ != nil {
		opts.Environment = env.ToMap(environ)
	}

	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	return cfg, nil
}

// Parse layers command-line flags over the environment. flag.ErrHelp is
// returned as-is when --help is given.
func Parse(args []string, environ []string, output io.Writer) (Config, error) {
	cfg, err := FromEnv(environ)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("sendbatch", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.Usage = func() { usage(fs, output) }

	fs.StringVar(&cfg.File, "file", cfg.File, "file with one sendevent command per line (required)")
	fs.IntVar(&cfg.Threads, "threads", cfg.Threads, "number of concurrent workers")
	fs.IntVar(&cfg.Retries, "retries", cfg.Retries, "retries after the first attempt for transient failures")
	fs.BoolVar(&cfg.DryRun, "dry-run", cfg.DryRun, "log what would run without executing anything")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "per-attempt timeout")
	fs.DurationVar(&cfg.BackoffBase, "backoff-base", cfg.BackoffBase, "delay before the first retry, doubled on each retry")
	fs.DurationVar(&cfg.BackoffMax, "backoff-max", cfg.BackoffMax, "upper bound for the retry delay")
	fs.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "directory for the JSONL result log")
	fs.StringVar(&cfg.SendeventBin, "sendevent-bin", cfg.SendeventBin, "program executed in place of sendevent")
	fs.StringVar(&cfg.EnvFile, "env-file", cfg.EnvFile, "shell environment file sourced before each call")
	fs.StringVar(&cfg.PolicyFile, "policy", cfg.PolicyFile, "YAML file with transient exit codes, patterns and backoff")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", cfg.RedisAddr, "use a Redis work queue at this address")
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", cfg.PostgresDSN, "persist results to PostgreSQL")
	fs.StringVar(&cfg.StatusAddr, "status-addr", cfg.StatusAddr, "serve live status and /metrics on this address")
	fs.StringVar(&cfg.SummaryOut, "summary-out", cfg.SummaryOut, "export the run summary to a .json or .csv file")
	fs.StringVar(&cfg.NotifyTo, "notify-to", cfg.NotifyTo, "email the run summary to this address via SendGrid")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "operator log format: text or json")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "operator log level: debug, info, warn or error")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return Config{}, err
		}
		return Config{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	cfg.explicit = make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { cfg.explicit[f.Name] = true })

	if fs.NArg() > 0 {
		return Config{}, fmt.Errorf("%w: unexpected arguments: %s", ErrInvalid, strings.Join(fs.Args(), " "))
	}

	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	var problems []string

	if c.File == "" {
		problems = append(problems, "--file is required")
	}
	if c.Threads < 1 {
		problems = append(problems, fmt.Sprintf("--threads must be >= 1, got %d", c.Threads))
	}
	if c.Retries < 0 {
		problems = append(problems, fmt.Sprintf("--retries must be >= 0, got %d", c.Retries))
	}
	if c.Timeout <= 0 {
		problems = append(problems, "--timeout must be positive")
	}
	if c.BackoffBase < 0 || c.BackoffMax < 0 {
		problems = append(problems, "backoff durations must not be negative")
	}
	if c.BackoffMax > 0 && c.BackoffBase > c.BackoffMax {
		problems = append(problems, "--backoff-base must not exceed --backoff-max")
	}
	if c.LogDir == "" {
		problems = append(problems, "--log-dir must not be empty")
	}
	if c.SendeventBin == "" {
		problems = append(problems, "--sendevent-bin must not be empty")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		problems = append(problems, fmt.Sprintf("--log-format must be text or json, got %q", c.LogFormat))
	}
	if _, err := c.Level(); err != nil {
		problems = append(problems, err.Error())
	}
	if c.SummaryOut != "" {
		switch strings.ToLower(filepath.Ext(c.SummaryOut)) {
		case ".json", ".csv":
		default:
			problems = append(problems, "--summary-out must end in .json or .csv")
		}
	}
	if c.NotifyTo != "" && c.SendGridKey == "" {
		problems = append(problems, "--notify-to needs SENDBATCH_SENDGRID_API_KEY")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}

	return nil
}

func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("--log-level: %w", err)
	}

	return level, nil
}

// Policy combines the flag settings with the optional policy file. An
// explicit --retries keeps its value over max_retries.
func (c Config) Policy() (retry.Policy, error) {
	policy := retry.Policy{
		MaxRetries: c.Retries,
		Backoff:    retry.Backoff{Base: c.BackoffBase, Max: c.BackoffMax},
		Classifier: retry.DefaultClassifier(),
	}

	if c.PolicyFile == "" {
		return policy, nil
	}

	pf, err := LoadPolicyFile(c.PolicyFile)
	if err != nil {
		return retry.Policy{}, err
	}

	policy, err = pf.Apply(policy)
	if err != nil {
		return retry.Policy{}, err
	}
	if c.explicit["retries"] {
		policy.MaxRetries = c.Retries
	}

	return policy, nil
}

// Logger builds the operator logger on w.
func (c Config) Logger(w io.Writer) *slog.Logger {
	level, _ := c.Level()
	opts := &slog.HandlerOptions{Level: level}

	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}

	return slog.New(slog.NewTextHandler(w, opts))
}

func usage(fs *flag.FlagSet, w io.Writer) {
	_, _ = fmt.Fprintf(w, `Usage: sendbatch --file <commands.txt> [options]

Runs AutoSys sendevent commands from a file concurrently, retrying transient
failures with exponential backoff. Every result is appended to a JSONL log.

Each flag can also be set through the environment as %s<NAME>, for example
%sTHREADS=20. Flags take precedence. A --policy file overrides the
environment for retry settings, but max_retries yields to an explicit --retries.

Exit codes: 0 all commands succeeded or were skipped, 1 at least one command
failed, 2 invalid arguments or unreadable input.

Options:
`, EnvPrefix, EnvPrefix)
	fs.PrintDefaults()
}
