// Package sse provides a standalone, chunk-safe Server-Sent Events line
// reader. It generalizes the bufio.Scanner-over-resp.Body pattern used
// directly inline by the teacher's anthropic.go and google.go streaming
// goroutines into a single reusable primitive shared by every wire
// dialect (spec §4.5).
package sse

import (
	"bufio"
	"io"
	"strings"
)

// defaultMaxLine bounds a single SSE line (including a "data: " prefix)
// at 1 MiB — generous for a token-delta payload, small enough to bound
// memory against a misbehaving or malicious upstream.
const defaultMaxLine = 1 << 20

// Event is one dispatched SSE event: the data lines seen since the
// previous blank line, newline-joined per the SSE "data" field
// reassembly rule. Name carries the "event:" field when the upstream
// sets one (unused by either dialect today, since both encode their
// event discriminator inside the JSON body, but preserved for
// forward-compatibility with upstreams that do rely on it).
type Event struct {
	Name string
	Data string
}

// Reader reads and frames SSE events off an io.Reader. It buffers
// internally via bufio.Scanner, which already accumulates bytes across
// reads until a full line is available — so a line (and the UTF-8
// sequences inside it) is never split across the chunk boundaries of
// the underlying stream's Read calls, no matter how the upstream breaks
// up its writes.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps r with the default 1 MiB per-line limit.
func NewReader(r io.Reader) *Reader {
	return NewReaderSize(r, defaultMaxLine)
}

// NewReaderSize wraps r with an explicit maximum line size.
func NewReaderSize(r io.Reader, maxLine int) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), maxLine)
	return &Reader{scanner: s}
}

// Next returns the next dispatched event, or io.EOF once the
// underlying stream is exhausted with no further event pending.
// Comment lines (leading ":") and unrecognized fields (id:, retry:)
// are consumed but otherwise ignored, per the SSE field-processing
// model.
func (r *Reader) Next() (Event, error) {
	var name string
	var data []string
	sawField := false

	for r.scanner.Scan() {
		line := r.scanner.Text()

		if line == "" {
			if sawField {
				return Event{Name: name, Data: strings.Join(data, "\n")}, nil
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive — never triggers a dispatch on its own.
		case strings.HasPrefix(line, "event:"):
			sawField = true
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			sawField = true
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// id:, retry:, or a non-conformant line — ignored.
		}
	}

	if err := r.scanner.Err(); err != nil {
		return Event{}, err
	}
	if sawField {
		return Event{Name: name, Data: strings.Join(data, "\n")}, nil
	}
	return Event{}, io.EOF
}
