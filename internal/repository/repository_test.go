package repository

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/nadmax/sendbatch/internal/command"
	"github.com/nadmax/sendbatch/internal/result"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFinishedResult(t *testing.T, job string, state result.FinalState) *result.CommandResult {
	t.Helper()

	rec, err := command.Parse(1, "sendevent -E FORCE_STARTJOB -J "+job, "")
	require.NoError(t, err)

	res := result.New(rec)
	res.RunID = "run-1"
	require.NoError(t, res.Finalize(state, ""))
	return res
}

func TestSink_Write(t *testing.T) {
	mock := NewMockResultRepository()
	sink := NewSink(mock, 0)

	require.NoError(t, sink.Write(newFinishedResult(t, "JOB_A", result.StateSucceeded)))
	require.NoError(t, sink.Write(newFinishedResult(t, "JOB_B", result.StateFailed)))

	assert.Equal(t, 2, mock.SaveCount())
	assert.Equal(t, defaultWriteTimeout, sink.timeout)

	failed, err := mock.GetFailedJobs(t.Context(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"JOB_B"}, failed)

	runs, err := mock.GetRecentRuns(t.Context(), 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].Succeeded)
	assert.Equal(t, 1, runs[0].Failed)
}

func TestSink_WriteError(t *testing.T) {
	var logs bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&logs, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	mock := NewMockResultRepository()
	mock.SaveResultError = errors.New("connection reset")
	sink := NewSink(mock, time.Second)

	err := sink.Write(newFinishedResult(t, "JOB_A", result.StateSucceeded))
	assert.EqualError(t, err, "connection reset")
	assert.Empty(t, logs.String(), "the caller reports sink errors")
	assert.Equal(t, 1, mock.SaveCount())

	results, err := mock.GetRunResults(t.Context(), "run-1")
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSink_Close(t *testing.T) {
	mock := NewMockResultRepository()
	require.NoError(t, NewSink(mock, 0).Close())
	assert.True(t, mock.Closed)
}
