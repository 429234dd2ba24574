// Package postgres provides PostgreSQL-backed implementations of repository interfaces.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
	"github.com/nadmax/sendbatch/internal/repository/models"
	"github.com/nadmax/sendbatch/internal/result"
)

const Schema = `
CREATE TABLE IF NOT EXISTS sendbatch_results (
	run_id        TEXT        NOT NULL,
	line_number   INTEGER     NOT NULL,
	job_name      TEXT        NOT NULL,
	command       TEXT        NOT NULL,
	final_state   TEXT        NOT NULL,
	reason        TEXT,
	worker_id     TEXT,
	attempt_count INTEGER     NOT NULL DEFAULT 0,
	duration_ms   BIGINT,
	recorded_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (run_id, line_number)
);

CREATE TABLE IF NOT EXISTS sendbatch_attempts (
	run_id         TEXT        NOT NULL,
	line_number    INTEGER     NOT NULL,
	attempt_number INTEGER     NOT NULL,
	exit_code      INTEGER,
	outcome        TEXT        NOT NULL,
	timed_out      BOOLEAN     NOT NULL DEFAULT FALSE,
	started_at     TIMESTAMPTZ,
	ended_at       TIMESTAMPTZ,
	stdout_excerpt TEXT,
	stderr_excerpt TEXT,
	error_message  TEXT,
	PRIMARY KEY (run_id, line_number, attempt_number),
	FOREIGN KEY (run_id, line_number) REFERENCES sendbatch_results (run_id, line_number) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_sendbatch_results_state ON sendbatch_results (run_id, final_state);
`

type PostgresResultRepository struct {
	db *sql.DB
}

func NewPostgresResultRepository(connectionString string) (*PostgresResultRepository, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresResultRepository{db: db}, nil
}

func NewWithDB(db *sql.DB) *PostgresResultRepository {
	return &PostgresResultRepository{db: db}
}

func (r *PostgresResultRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// SaveResult writes a result and its attempts in one transaction. Saving the
// same (run, line) again replaces the earlier row.
func (r *PostgresResultRepository) SaveResult(ctx context.Context, res *result.CommandResult) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			slog.Warn("failed to rollback transaction", "error", err)
		}
	}()

	query := `
		INSERT INTO sendbatch_results (
			run_id, line_number, job_name, command, final_state,
			reason, worker_id, attempt_count, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (run_id, line_number) DO UPDATE SET
			final_state = EXCLUDED.final_state,
			reason = EXCLUDED.reason,
			worker_id = EXCLUDED.worker_id,
			attempt_count = EXCLUDED.attempt_count,
			duration_ms = EXCLUDED.duration_ms,
			recorded_at = NOW()
	`

	_, err = tx.ExecContext(
		ctx,
		query,
		res.RunID,
		res.LineNumber,
		res.JobName,
		res.Command,
		string(res.FinalState),
		nullString(string(res.Reason)),
		nullString(res.WorkerID),
		len(res.Attempts),
		res.Duration().Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sendbatch_attempts WHERE run_id = $1 AND line_number = $2`, res.RunID, res.LineNumber); err != nil {
		return fmt.Errorf("failed to clear attempts: %w", err)
	}

	attemptQuery := `
		INSERT INTO sendbatch_attempts (
			run_id, line_number, attempt_number, exit_code, outcome, timed_out,
			started_at, ended_at, stdout_excerpt, stderr_excerpt, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	for _, a := range res.Attempts {
		var exitCode any
		if a.ExitCode != nil {
			exitCode = *a.ExitCode
		}

		_, err := tx.ExecContext(
			ctx,
			attemptQuery,
			res.RunID,
			res.LineNumber,
			a.Number,
			exitCode,
			string(a.Outcome),
			a.TimedOut,
			a.StartedAt,
			a.EndedAt,
			nullString(a.StdoutExcerpt),
			nullString(a.StderrExcerpt),
			nullString(a.Error),
		)
		if err != nil {
			return fmt.Errorf("failed to save attempt %d: %w", a.Number, err)
		}
	}

	return tx.Commit()
}

func (r *PostgresResultRepository) GetRunResults(ctx context.Context, runID string) ([]*result.CommandResult, error) {
	query := `
		SELECT
			line_number, job_name, command, final_state,
			COALESCE(reason, ''), COALESCE(worker_id, '')
		FROM sendbatch_results
		WHERE run_id = $1
		ORDER BY line_number ASC
	`
	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var results []*result.CommandResult
	byLine := make(map[int]*result.CommandResult)
	for rows.Next() {
		res := &result.CommandResult{RunID: runID, Attempts: []result.Attempt{}}
		var state, reason string
		if err := rows.Scan(
			&res.LineNumber,
			&res.JobName,
			&res.Command,
			&state,
			&reason,
			&res.WorkerID,
		); err != nil {
			return nil, err
		}

		res.FinalState = result.FinalState(state)
		res.Reason = result.Outcome(reason)
		results = append(results, res)
		byLine[res.LineNumber] = res
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.loadAttempts(ctx, runID, byLine); err != nil {
		return nil, err
	}

	return results, nil
}

func (r *PostgresResultRepository) loadAttempts(ctx context.Context, runID string, byLine map[int]*result.CommandResult) error {
	query := `
		SELECT
			line_number, attempt_number, exit_code, outcome, timed_out,
			started_at, ended_at, COALESCE(stdout_excerpt, ''),
			COALESCE(stderr_excerpt, ''), COALESCE(error_message, '')
		FROM sendbatch_attempts
		WHERE run_id = $1
		ORDER BY line_number ASC, attempt_number ASC
	`
	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return err
	}
	defer closeRows(rows)

	for rows.Next() {
		var line int
		var a result.Attempt
		var outcome string
		var exitCode sql.NullInt64
		var startedAt, endedAt sql.NullTime

		if err := rows.Scan(
			&line,
			&a.Number,
			&exitCode,
			&outcome,
			&a.TimedOut,
			&startedAt,
			&endedAt,
			&a.StdoutExcerpt,
			&a.StderrExcerpt,
			&a.Error,
		); err != nil {
			return err
		}

		a.Outcome = result.Outcome(outcome)
		if exitCode.Valid {
			a.ExitCode = result.ExitCode(int(exitCode.Int64))
		}
		if startedAt.Valid {
			a.StartedAt = startedAt.Time
		}
		if endedAt.Valid {
			a.EndedAt = endedAt.Time
		}

		if res, ok := byLine[line]; ok {
			res.Attempts = append(res.Attempts, a)
		}
	}

	return rows.Err()
}

func (r *PostgresResultRepository) GetFailedJobs(ctx context.Context, runID string) ([]string, error) {
	query := `
		SELECT job_name
		FROM sendbatch_results
		WHERE run_id = $1 AND final_state = $2
		ORDER BY line_number ASC
	`
	rows, err := r.db.QueryContext(ctx, query, runID, string(result.StateFailed))
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var jobs []string
	for rows.Next() {
		var job string
		if err := rows.Scan(&job); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

func (r *PostgresResultRepository) GetRunStats(ctx context.Context, runID string) ([]models.StateStats, error) {
	query := `
		SELECT
			final_state, COALESCE(reason, ''), COUNT(*) as count,
			COALESCE(AVG(attempt_count), 0) as avg_attempts,
			COALESCE(AVG(duration_ms), 0) as avg_duration_ms,
			COALESCE(MAX(duration_ms), 0) as max_duration_ms
		FROM sendbatch_results
		WHERE run_id = $1
		GROUP BY final_state, reason
		ORDER BY final_state, reason
	`
	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var stats []models.StateStats
	for rows.Next() {
		var s models.StateStats
		if err := rows.Scan(
			&s.FinalState,
			&s.Reason,
			&s.Count,
			&s.AvgAttempts,
			&s.AvgDurationMs,
			&s.MaxDurationMs,
		); err != nil {
			return nil, err
		}

		stats = append(stats, s)
	}

	return stats, rows.Err()
}

func (r *PostgresResultRepository) GetRecentRuns(ctx context.Context, limit int) ([]models.RunInfo, error) {
	query := `
		SELECT
			run_id, COUNT(*) as total,
			COUNT(*) FILTER (WHERE final_state = 'SUCCEEDED') as succeeded,
			COUNT(*) FILTER (WHERE final_state = 'FAILED_EXHAUSTED') as failed,
			COUNT(*) FILTER (WHERE final_state = 'SKIPPED_DRYRUN') as skipped
		FROM sendbatch_results
		GROUP BY run_id
		ORDER BY MAX(recorded_at) DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer closeRows(rows)

	var runs []models.RunInfo
	for rows.Next() {
		var run models.RunInfo
		if err := rows.Scan(&run.RunID, &run.Total, &run.Succeeded, &run.Failed, &run.Skipped); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

func (r *PostgresResultRepository) DB() *sql.DB {
	return r.db
}

func (r *PostgresResultRepository) Close() error {
	return r.db.Close()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}

	return s
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		slog.Warn("failed to close rows", "error", err)
	}
}
