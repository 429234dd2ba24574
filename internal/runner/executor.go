package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/nadmax/sendbatch/internal/metrics"
)

const (
	DefaultMaxOutput = 4096
	defaultWaitDelay = 2 * time.Second
)

// Output is what one scheduler process produced.
type Output struct {
	ExitCode int
	Stdout   string
	Stderr   string
	TimedOut bool
}

// Executor runs a single scheduler call. A returned error means the process
// could not be started; a non-zero exit is reported through Output.
type Executor interface {
	Execute(ctx context.Context, argv []string, timeout time.Duration) (Output, error)
}

// ProcessExecutor spawns the scheduler program as a child process.
type ProcessExecutor struct {
	// Binary replaces argv[0] when set, e.g. an absolute path to sendevent.
	Binary string
	// EnvFile is sourced by /bin/sh before the program is exec'd.
	EnvFile   string
	ExtraEnv  map[string]string
	MaxOutput int
	WaitDelay time.Duration
}

func (e *ProcessExecutor) Execute(ctx context.Context, argv []string, timeout time.Duration) (Output, error) {
	if len(argv) == 0 {
		return Output{}, errors.New("empty command")
	}

	args := make([]string, len(argv))
	copy(args, argv)
	if e.Binary != "" {
		args[0] = e.Binary
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var cmd *exec.Cmd
	if e.EnvFile != "" {
		script := `. "$0" && exec "$@"`
		cmd = exec.CommandContext(cmdCtx, "sh", append([]string{"-c", script, e.EnvFile}, args...)...)
	} else {
		cmd = exec.CommandContext(cmdCtx, args[0], args[1:]...)
	}
	if len(e.ExtraEnv) > 0 {
		cmd.Env = mergeEnv(os.Environ(), e.ExtraEnv)
	}

	cmd.WaitDelay = e.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = defaultWaitDelay
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Output{}, fmt.Errorf("failed to start %s: %w", args[0], err)
	}
	metrics.RecordProcessInvocation()

	err := cmd.Wait()

	maxOutput := e.MaxOutput
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutput
	}

	out := Output{
		Stdout:   truncate(stdout.String(), maxOutput),
		Stderr:   truncate(stderr.String(), maxOutput),
		TimedOut: errors.Is(cmdCtx.Err(), context.DeadlineExceeded),
	}

	if err != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(err, &exitErr):
			out.ExitCode = exitErr.ExitCode()
		case out.TimedOut, ctx.Err() != nil:
			out.ExitCode = -1
		default:
			return out, fmt.Errorf("failed to wait for %s: %w", args[0], err)
		}
	}

	return out, nil
}

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxLen {
		return s
	}

	return s[:maxLen] + fmt.Sprintf("\n... (truncated, %d more bytes)", len(s)-maxLen)
}

func mergeEnv(base []string, overrides map[string]string) []string {
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := overrides[key]; ok {
			continue
		}
		out = append(out, kv)
	}
	for k, v := range overrides {
		out = append(out, k+"="+v)
	}

	return out
}
