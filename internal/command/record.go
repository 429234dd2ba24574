// Package command loads and validates line-delimited scheduler command files.
package command

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

const DefaultProgram = "sendevent"

var jobNamePattern = regexp.MustCompile(`^[A-Za-z0-9_.#-]+$`)

// Record is one validated command line. It is never mutated after loading.
type Record struct {
	LineNumber int      `json:"line_number"`
	RawText    string   `json:"raw_text"`
	JobName    string   `json:"job_name"`
	Event      string   `json:"event"`
	Status     string   `json:"status,omitempty"`
	Args       []string `json:"args"`
}

// Argv returns a copy of the tokenized command so callers cannot alter the record.
func (r Record) Argv() []string {
	argv := make([]string, len(r.Args))
	copy(argv, r.Args)
	return argv
}

// Parse validates a single line against the scheduler command shape:
//
//	<program> -E <event> [-s <status>] -J <job> [other flags]
func Parse(lineNumber int, line, program string) (Record, error) {
	if program == "" {
		program = DefaultProgram
	}

	text := strings.TrimSpace(line)
	if text == "" {
		return Record{}, fmt.Errorf("blank line")
	}

	fields := strings.Fields(text)
	if filepath.Base(fields[0]) != program {
		return Record{}, fmt.Errorf("expected %s command, got %q", program, fields[0])
	}

	rec := Record{
		LineNumber: lineNumber,
		RawText:    text,
		Args:       fields,
	}

	for i := 1; i < len(fields); i++ {
		flag := fields[i]
		if flag != "-E" && flag != "-J" && flag != "-s" {
			continue
		}
		if i+1 >= len(fields) || strings.HasPrefix(fields[i+1], "-") {
			return Record{}, fmt.Errorf("flag %s has no value", flag)
		}

		value := fields[i+1]
		switch flag {
		case "-E":
			rec.Event = value
		case "-J":
			rec.JobName = value
		case "-s":
			rec.Status = value
		}
		i++
	}

	if rec.Event == "" {
		return Record{}, fmt.Errorf("missing -E <event>")
	}
	if rec.JobName == "" {
		return Record{}, fmt.Errorf("missing -J <job>")
	}
	if !jobNamePattern.MatchString(rec.JobName) {
		return Record{}, fmt.Errorf("invalid job name %q", rec.JobName)
	}

	return rec, nil
}
