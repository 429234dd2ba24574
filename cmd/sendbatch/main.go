package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/nadmax/sendbatch/internal/api"
	"github.com/nadmax/sendbatch/internal/command"
	"github.com/nadmax/sendbatch/internal/config"
	"github.com/nadmax/sendbatch/internal/dashboard"
	"github.com/nadmax/sendbatch/internal/dispatcher"
	"github.com/nadmax/sendbatch/internal/notify"
	"github.com/nadmax/sendbatch/internal/queue"
	"github.com/nadmax/sendbatch/internal/report"
	"github.com/nadmax/sendbatch/internal/repository"
	"github.com/nadmax/sendbatch/internal/repository/postgres"
	"github.com/nadmax/sendbatch/internal/runner"
)

const (
	exitOK      = 0
	exitFailed  = 1
	exitInvalid = 2

	sampleSize = 5
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], nil, os.Stdout, os.Stderr))
}

// run is main without the process exit. A nil environ reads the process environment.
func run(ctx context.Context, args, environ []string, stdout, stderr io.Writer) int {
	cfg, err := config.Parse(args, environ, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		_, _ = fmt.Fprintf(stderr, "sendbatch: %v\n", err)
		return exitInvalid
	}

	slog.SetDefault(cfg.Logger(stderr))

	policy, err := cfg.Policy()
	if err != nil {
		slog.Error("invalid retry policy", "error", err)
		return exitInvalid
	}

	batch, err := command.Load(cfg.File, command.Options{})
	if err != nil {
		slog.Error("cannot read command file", "path", cfg.File, "error", err)
		return exitInvalid
	}
	for _, rej := range batch.Rejected {
		slog.Warn("line rejected", "line", rej.Line, "error", rej.Err)
	}

	runID := uuid.NewString()
	startedAt := time.Now()

	var q queue.WorkQueue = queue.NewMemoryQueue()
	if cfg.RedisAddr != "" {
		rq, err := queue.NewRedisQueue(cfg.RedisAddr, runID)
		if err != nil {
			slog.Error("cannot use redis work queue", "addr", cfg.RedisAddr, "error", err)
			return exitInvalid
		}
		q = rq
	}
	defer closeQueue(q)

	var history repository.ResultRepository
	if cfg.PostgresDSN != "" {
		repo, err := postgres.NewPostgresResultRepository(cfg.PostgresDSN)
		if err == nil {
			err = repo.EnsureSchema(ctx)
		}
		if err != nil {
			slog.Error("cannot use result database", "error", err)
			if repo != nil {
				_ = repo.Close()
			}
			return exitInvalid
		}
		history = repo
	}

	resultLog, err := report.OpenLog(cfg.LogDir, runID, startedAt)
	if err != nil {
		slog.Error("cannot open result log", "dir", cfg.LogDir, "error", err)
		if history != nil {
			_ = history.Close()
		}
		return exitInvalid
	}

	sinks := []report.Sink{resultLog}
	if history != nil {
		sinks = append(sinks, repository.NewSink(history, 0))
	}

	agg := report.NewAggregator(runID, cfg.DryRun, sinks...)
	agg.SetInputStats(len(batch.Rejected), batch.Duplicates)
	agg.SetLogPath(resultLog.Path())
	defer func() {
		if err := agg.Close(); err != nil {
			slog.Warn("failed to close result sinks", "error", err)
		}
	}()

	stopCtx, abortCtx, stopSignals := watchSignals(ctx)
	defer stopSignals()

	exec := &runner.ProcessExecutor{
		Binary:  cfg.SendeventBin,
		EnvFile: cfg.EnvFile,
	}
	r := runner.New(exec, policy,
		runner.WithTimeout(cfg.Timeout),
		runner.WithDryRun(cfg.DryRun),
		runner.WithRunID(runID),
		runner.WithAbortContext(abortCtx),
	)

	d, err := dispatcher.New(r, cfg.Threads, dispatcher.WithQueue(q), dispatcher.WithRunID(runID))
	if err != nil {
		slog.Error("invalid dispatcher configuration", "error", err)
		return exitInvalid
	}

	report.RenderBanner(stdout, report.Banner{
		RunID:     runID,
		StartedAt: startedAt,
		File:      cfg.File,
		Commands:  len(batch.Records),
		Workers:   d.Workers(len(batch.Records)),
		Retries:   policy.MaxRetries,
		DryRun:    cfg.DryRun,
		LogPath:   resultLog.Path(),
	})
	report.RenderSample(stdout, batch, sampleSize)

	if cfg.StatusAddr != "" {
		srv, err := api.Start(cfg.StatusAddr, api.NewRouter(dashboard.NewDashboard(agg, history)))
		if err != nil {
			slog.Error("cannot start status server", "addr", cfg.StatusAddr, "error", err)
			return exitInvalid
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Warn("status server shutdown failed", "error", err)
			}
		}()
	}

	slog.Info("run started",
		"run_id", runID,
		"file", cfg.File,
		"commands", len(batch.Records),
		"rejected", len(batch.Rejected),
		"duplicates", batch.Duplicates,
		"threads", cfg.Threads,
		"retries", policy.MaxRetries,
		"dry_run", cfg.DryRun,
	)

	results, err := d.Dispatch(stopCtx, batch.Records)
	if err != nil {
		slog.Error("dispatch failed", "error", err)
		return exitInvalid
	}

	progressCtx, stopProgress := context.WithCancel(ctx)
	go startProgressReporter(progressCtx, agg, q, len(batch.Records), progressInterval)

	summary := agg.Consume(results)
	stopProgress()

	report.RenderSummary(stdout, summary)
	slog.Info("run finished",
		"run_id", runID,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"wall_time", summary.WallTime,
	)

	if cfg.SummaryOut != "" {
		if err := report.Export(cfg.SummaryOut, summary, agg.Results("")); err != nil {
			slog.Warn("failed to export summary", "path", cfg.SummaryOut, "error", err)
		} else {
			slog.Info("summary exported", "path", cfg.SummaryOut)
		}
	}

	if cfg.NotifyTo != "" {
		notifySummary(ctx, cfg, summary)
	}

	return summary.ExitCode()
}

func closeQueue(q queue.WorkQueue) {
	if rq, ok := q.(*queue.RedisQueue); ok {
		if err := rq.Clear(context.Background()); err != nil {
			slog.Warn("failed to clear work queue", "key", rq.Key(), "error", err)
		}
	}

	if err := q.Close(); err != nil {
		slog.Warn("failed to close work queue", "error", err)
	}
}

func notifySummary(ctx context.Context, cfg config.Config, s report.Summary) {
	var to []string
	for _, addr := range strings.Split(cfg.NotifyTo, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}

	n, err := notify.NewSendGridNotifier(cfg.SendGridKey, cfg.NotifyFrom, to)
	if err != nil {
		slog.Warn("summary email not sent", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := n.Notify(ctx, s); err != nil {
		slog.Warn("summary email not sent", "error", err)
	}
}

// watchSignals returns a stop context cancelled by the first interrupt and an
// abort context cancelled by the second. Stop ends intake; abort kills
// running attempts.
func watchSignals(parent context.Context) (context.Context, context.Context, func()) {
	stopCtx, stop := context.WithCancel(parent)
	abortCtx, abort := context.WithCancel(context.WithoutCancel(parent))

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		count := 0
		for {
			select {
			case sig := <-sigCh:
				count++
				if count == 1 {
					slog.Warn("interrupt received, finishing running commands; interrupt again to abort", "signal", sig.String())
					stop()
					continue
				}
				slog.Warn("second interrupt, aborting running commands", "signal", sig.String())
				abort()
				return
			case <-done:
				return
			}
		}
	}()

	return stopCtx, abortCtx, func() {
		signal.Stop(sigCh)
		close(done)
		stop()
		abort()
	}
}
