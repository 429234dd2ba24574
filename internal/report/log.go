package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nadmax/sendbatch/internal/result"
)

// JSONLLog is the append-only result log: one self-contained JSON object per
// line, flushed to disk after every record so readers can follow a live run.
type JSONLLog struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// LogFileName builds a timestamp-qualified name so runs never share a file.
func LogFileName(runID string, now time.Time) string {
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}

	return fmt.Sprintf("sendbatch_%s_%s.jsonl", now.Format("20060102_150405"), short)
}

func OpenLog(dir, runID string, now time.Time) (*JSONLLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}

	return OpenLogAt(filepath.Join(dir, LogFileName(runID, now)))
}

func OpenLogAt(path string) (*JSONLLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open result log: %w", err)
	}

	return &JSONLLog{path: path, file: f}, nil
}

func (l *JSONLLog) Path() string {
	return l.path
}

func (l *JSONLLog) Write(res *result.CommandResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	line := append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return os.ErrClosed
	}
	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("failed to append result: %w", err)
	}

	return l.file.Sync()
}

func (l *JSONLLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}

	err := l.file.Close()
	l.file = nil
	return err
}

// ReadLog parses a result log. A torn final line from a crashed run is skipped.
func ReadLog(path string) ([]*result.CommandResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var out []*result.CommandResult
	start := 0
	for i, b := range data {
		if b != '\n' {
			continue
		}
		line := data[start:i]
		start = i + 1
		if len(line) == 0 {
			continue
		}

		res, err := result.FromJSON(string(line))
		if err != nil {
			return nil, fmt.Errorf("failed to parse result log line: %w", err)
		}
		out = append(out, res)
	}

	return out, nil
}
