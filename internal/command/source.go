package command

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
)

const maxLineBytes = 1024 * 1024

// Batch is the outcome of loading a command file.
type Batch struct {
	Path       string
	Records    []Record
	Rejected   []*SourceError
	Duplicates int
}

// Sample returns up to n records from the head of the batch.
func (b *Batch) Sample(n int) []Record {
	if n > len(b.Records) {
		n = len(b.Records)
	}

	return b.Records[:n]
}

type Options struct {
	Program string
}

// Load reads the command file at path. Malformed and blank lines are rejected
// without aborting; duplicates are dropped keeping the first occurrence.
func Load(path string, opts Options) (*Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &SourceError{Kind: NotFound, Path: path, Err: err}
		}
		return nil, &SourceError{Kind: Unreadable, Path: path, Err: err}
	}

	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, &SourceError{Kind: Unreadable, Path: path, Err: err}
	}
	if info.IsDir() {
		return nil, &SourceError{Kind: Unreadable, Path: path, Err: errors.New("is a directory")}
	}

	batch, err := Read(f, opts)
	if err != nil {
		var se *SourceError
		if errors.As(err, &se) {
			se.Path = path
			return nil, se
		}
		return nil, &SourceError{Kind: Unreadable, Path: path, Err: err}
	}

	batch.Path = path
	return batch, nil
}

// Read parses commands from r. It fails with an EMPTY SourceError when no
// valid command remains.
func Read(r io.Reader, opts Options) (*Batch, error) {
	batch := &Batch{}
	seen := make(map[string]struct{})

	reader := bufio.NewReaderSize(r, 64*1024)

	lineNumber := 0
	for {
		line, tooLong, err := readLine(reader)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		lineNumber++

		if tooLong {
			batch.Rejected = append(batch.Rejected, &SourceError{
				Kind: ParseError,
				Line: lineNumber,
				Err:  fmt.Errorf("line exceeds %d bytes", maxLineBytes),
			})
			continue
		}

		rec, err := Parse(lineNumber, line, opts.Program)
		if err != nil {
			batch.Rejected = append(batch.Rejected, &SourceError{Kind: ParseError, Line: lineNumber, Err: err})
			continue
		}

		if _, dup := seen[rec.RawText]; dup {
			batch.Duplicates++
			continue
		}

		seen[rec.RawText] = struct{}{}
		batch.Records = append(batch.Records, rec)
	}

	if len(batch.Records) == 0 {
		return nil, &SourceError{Kind: Empty, Err: errors.New("no valid commands")}
	}

	return batch, nil
}

// readLine returns the next line without its terminator. A line longer than
// maxLineBytes is consumed to its end and reported as tooLong.
func readLine(r *bufio.Reader) (string, bool, error) {
	var buf []byte
	tooLong := false

	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			if len(buf) > 0 || tooLong {
				return string(buf), tooLong, nil
			}
			return "", false, err
		}

		if !tooLong {
			if len(buf)+len(chunk) > maxLineBytes {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}

		if !isPrefix {
			return string(buf), tooLong, nil
		}
	}
}
