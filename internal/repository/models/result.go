// Package models contains data structures used by the result repository layer.
package models

type StateStats struct {
	FinalState    string  `json:"final_state"`
	Reason        string  `json:"reason"`
	Count         int     `json:"count"`
	AvgAttempts   float64 `json:"avg_attempts"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
	MaxDurationMs int64   `json:"max_duration_ms"`
}

type RunInfo struct {
	RunID     string `json:"run_id"`
	Total     int    `json:"total"`
	Succeeded int    `json:"succeeded"`
	Failed    int    `json:"failed"`
	Skipped   int    `json:"skipped"`
}
