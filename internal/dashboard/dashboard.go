// Package dashboard serves the live view of a run and, when result history is stored, of past runs.
package dashboard

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nadmax/sendbatch/internal/httputil"
	"github.com/nadmax/sendbatch/internal/report"
	"github.com/nadmax/sendbatch/internal/repository"
	"github.com/nadmax/sendbatch/internal/result"
)

// Source is the live run state, normally a *report.Aggregator.
type Source interface {
	Snapshot() report.Summary
	Results(state result.FinalState) []*result.CommandResult
}

type Dashboard struct {
	source  Source
	history repository.ResultRepository
}

type SummaryResponse struct {
	report.Summary
	Elapsed     string    `json:"elapsed"`
	LastUpdated time.Time `json:"last_updated"`
}

type ResultsResponse struct {
	Count   int                     `json:"count"`
	Results []*result.CommandResult `json:"results"`
}

func NewDashboard(source Source, history repository.ResultRepository) *Dashboard {
	return &Dashboard{source: source, history: history}
}

func (d *Dashboard) GetSummary(w http.ResponseWriter, r *http.Request) {
	s := d.source.Snapshot()

	httputil.WriteJSON(w, SummaryResponse{
		Summary:     s,
		Elapsed:     s.Duration().Round(time.Second).String(),
		LastUpdated: time.Now(),
	}, http.StatusOK)
}

func (d *Dashboard) GetResults(w http.ResponseWriter, r *http.Request) {
	state, ok := parseState(r.URL.Query().Get("state"))
	if !ok {
		httputil.WriteJSONError(w, "invalid state filter", http.StatusBadRequest)
		return
	}

	results := d.source.Results(state)
	httputil.WriteJSON(w, ResultsResponse{Count: len(results), Results: results}, http.StatusOK)
}

func (d *Dashboard) GetResult(w http.ResponseWriter, r *http.Request) {
	line, err := strconv.Atoi(chi.URLParam(r, "line"))
	if err != nil || line < 1 {
		httputil.WriteJSONError(w, "invalid line number", http.StatusBadRequest)
		return
	}

	for _, res := range d.source.Results(result.StatePending) {
		if res.LineNumber == line {
			httputil.WriteJSON(w, res, http.StatusOK)
			return
		}
	}

	httputil.WriteJSONError(w, "result not found", http.StatusNotFound)
}

func (d *Dashboard) GetRecentRuns(w http.ResponseWriter, r *http.Request) {
	if d.history == nil {
		httputil.WriteJSONError(w, "result history is not configured", http.StatusNotFound)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			httputil.WriteJSONError(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := d.history.GetRecentRuns(r.Context(), limit)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	httputil.WriteJSON(w, runs, http.StatusOK)
}

func (d *Dashboard) GetRunFailures(w http.ResponseWriter, r *http.Request) {
	if d.history == nil {
		httputil.WriteJSONError(w, "result history is not configured", http.StatusNotFound)
		return
	}

	runID := chi.URLParam(r, "runID")
	jobs, err := d.history.GetFailedJobs(r.Context(), runID)
	if err != nil {
		httputil.WriteJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if jobs == nil {
		jobs = []string{}
	}

	httputil.WriteJSON(w, map[string]any{"run_id": runID, "failed_jobs": jobs}, http.StatusOK)
}

func parseState(v string) (result.FinalState, bool) {
	switch strings.ToUpper(v) {
	case "":
		return result.StatePending, true
	case string(result.StateSucceeded):
		return result.StateSucceeded, true
	case string(result.StateFailed):
		return result.StateFailed, true
	case string(result.StateSkipped):
		return result.StateSkipped, true
	default:
		return "", false
	}
}
