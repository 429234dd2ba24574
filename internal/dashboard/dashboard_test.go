package dashboard

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/nadmax/sendbatch/internal/command"
	"github.com/nadmax/sendbatch/internal/report"
	"github.com/nadmax/sendbatch/internal/repository"
	"github.com/nadmax/sendbatch/internal/result"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResult(t *testing.T, line int, job string, state result.FinalState) *result.CommandResult {
	t.Helper()

	rec, err := command.Parse(line, "sendevent -E FORCE_STARTJOB -J "+job, "")
	require.NoError(t, err)

	res := result.New(rec)
	res.RunID = "run-dash"
	require.NoError(t, res.Finalize(state, ""))
	return res
}

func setupTestDashboard(t *testing.T) (*Dashboard, *report.Aggregator, *repository.MockResultRepository) {
	agg := report.NewAggregator("run-dash", false)
	agg.Add(newResult(t, 1, "JOB_A", result.StateSucceeded))
	agg.Add(newResult(t, 2, "JOB_B", result.StateFailed))
	agg.Add(newResult(t, 3, "JOB_C", result.StateSucceeded))

	history := repository.NewMockResultRepository()
	return NewDashboard(agg, history), agg, history
}

func serve(dash *Dashboard, path string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Get("/api/summary", dash.GetSummary)
	r.Get("/api/results", dash.GetResults)
	r.Get("/api/results/{line}", dash.GetResult)
	r.Get("/api/runs", dash.GetRecentRuns)
	r.Get("/api/runs/{runID}/failures", dash.GetRunFailures)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestGetSummary(t *testing.T) {
	dash, _, _ := setupTestDashboard(t)

	w := serve(dash, "/api/summary")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body SummaryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 3, body.Total)
	assert.Equal(t, 2, body.Succeeded)
	assert.Equal(t, 1, body.Failed)
	assert.Equal(t, []string{"JOB_B"}, body.FailedJobs)
	assert.False(t, body.Complete)
	assert.NotZero(t, body.LastUpdated)
}

func TestGetResults(t *testing.T) {
	dash, _, _ := setupTestDashboard(t)

	tests := []struct {
		name     string
		query    string
		status   int
		expected int
	}{
		{name: "all", query: "", status: http.StatusOK, expected: 3},
		{name: "succeeded", query: "?state=SUCCEEDED", status: http.StatusOK, expected: 2},
		{name: "failed lower case", query: "?state=failed_exhausted", status: http.StatusOK, expected: 1},
		{name: "skipped", query: "?state=SKIPPED_DRYRUN", status: http.StatusOK, expected: 0},
		{name: "invalid", query: "?state=RUNNING", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(dash, "/api/results"+tt.query)
			require.Equal(t, tt.status, w.Code)

			if tt.status != http.StatusOK {
				assert.Contains(t, w.Body.String(), "invalid state filter")
				return
			}

			var body ResultsResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.expected, body.Count)
			assert.Len(t, body.Results, tt.expected)
		})
	}
}

func TestGetResult(t *testing.T) {
	dash, _, _ := setupTestDashboard(t)

	w := serve(dash, "/api/results/2")
	require.Equal(t, http.StatusOK, w.Code)

	var res result.CommandResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Equal(t, "JOB_B", res.JobName)

	assert.Equal(t, http.StatusNotFound, serve(dash, "/api/results/99").Code)
	assert.Equal(t, http.StatusBadRequest, serve(dash, "/api/results/abc").Code)
	assert.Equal(t, http.StatusBadRequest, serve(dash, "/api/results/0").Code)
}

func TestGetRecentRuns(t *testing.T) {
	dash, _, history := setupTestDashboard(t)
	require.NoError(t, history.SaveResult(t.Context(), newResult(t, 1, "JOB_OLD", result.StateFailed)))

	w := serve(dash, "/api/runs?limit=5")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"run_id":"run-dash"`)
	assert.Contains(t, w.Body.String(), `"failed":1`)

	assert.Equal(t, http.StatusBadRequest, serve(dash, "/api/runs?limit=0").Code)

	history.GetResultsError = errors.New("db down")
	assert.Equal(t, http.StatusInternalServerError, serve(dash, "/api/runs").Code)
}

func TestGetRunFailures(t *testing.T) {
	dash, _, history := setupTestDashboard(t)
	require.NoError(t, history.SaveResult(t.Context(), newResult(t, 4, "JOB_X", result.StateFailed)))

	w := serve(dash, "/api/runs/run-dash/failures")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		RunID      string   `json:"run_id"`
		FailedJobs []string `json:"failed_jobs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "run-dash", body.RunID)
	assert.Equal(t, []string{"JOB_X"}, body.FailedJobs)

	w = serve(dash, "/api/runs/other/failures")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"failed_jobs":[]`)
}

func TestHistoryNotConfigured(t *testing.T) {
	dash := NewDashboard(report.NewAggregator("run", false), nil)

	assert.Equal(t, http.StatusNotFound, serve(dash, "/api/runs").Code)
	assert.Equal(t, http.StatusNotFound, serve(dash, "/api/runs/x/failures").Code)
}
