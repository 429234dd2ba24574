package command

import (
	"errors"
	"fmt"
)

type SourceErrorKind string

const (
	NotFound   SourceErrorKind = "NOT_FOUND"
	Empty      SourceErrorKind = "EMPTY"
	ParseError SourceErrorKind = "PARSE"
	Unreadable SourceErrorKind = "UNREADABLE"
)

// SourceError reports a problem with the command file. NOT_FOUND, EMPTY and
// UNREADABLE abort the load; PARSE errors are collected per line.
type SourceError struct {
	Kind SourceErrorKind
	Path string
	Line int
	Err  error
}

func (e *SourceError) Error() string {
	switch {
	case e.Line > 0 && e.Err != nil:
		return fmt.Sprintf("%s: line %d: %v", e.Kind, e.Line, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Path, e.Err)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Path)
	}
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a SourceError of the given kind.
func IsKind(err error, kind SourceErrorKind) bool {
	var se *SourceError
	if errors.As(err, &se) {
		return se.Kind == kind
	}

	return false
}
