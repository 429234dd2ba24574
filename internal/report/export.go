package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nadmax/sendbatch/internal/result"
)

var exportHeaders = []string{"line_number", "job_name", "final_state", "reason", "attempts", "last_exit_code", "worker_id", "duration_ms", "command"}

// Export writes the summary and per-command rows to path. The format follows
// the file extension: .json or .csv.
func Export(path string, s Summary, results []*result.CommandResult) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	rows := resultRows(results)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return saveAsCSV(path, rows)
	case ".json":
		return saveAsJSON(path, s, rows)
	default:
		return fmt.Errorf("unsupported summary format: %q (available: .json, .csv)", filepath.Ext(path))
	}
}

func resultRows(results []*result.CommandResult) [][]string {
	data := [][]string{exportHeaders}
	for _, res := range results {
		exitCode := ""
		if last := res.LastAttempt(); last != nil && last.ExitCode != nil {
			exitCode = strconv.Itoa(*last.ExitCode)
		}

		data = append(data, []string{
			strconv.Itoa(res.LineNumber),
			res.JobName,
			string(res.FinalState),
			string(res.Reason),
			strconv.Itoa(len(res.Attempts)),
			exitCode,
			res.WorkerID,
			strconv.FormatInt(res.Duration().Milliseconds(), 10),
			res.Command,
		})
	}

	return data
}

func saveAsCSV(path string, data [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("failed to close summary file", "path", path, "error", closeErr)
		}
	}()

	writer := csv.NewWriter(file)
	if err := writer.WriteAll(data); err != nil {
		return err
	}

	return writer.Error()
}

func saveAsJSON(path string, s Summary, data [][]string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := file.Close(); closeErr != nil {
			slog.Warn("failed to close summary file", "path", path, "error", closeErr)
		}
	}()

	headers := data[0]
	records := make([]map[string]string, 0, len(data)-1)
	for _, row := range data[1:] {
		record := make(map[string]string, len(headers))
		for i, header := range headers {
			if i < len(row) {
				record[header] = row[i]
			}
		}
		records = append(records, record)
	}

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(map[string]any{
		"generated_at": time.Now().Format(time.RFC3339),
		"summary":      s,
		"results":      records,
		"total_rows":   len(records),
	})
}
