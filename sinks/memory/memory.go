// Package memory provides an in-process tracking sink. It keeps every
// appended record in order and is mostly used by tests and dry runs.
package memory

import (
	"context"
	"sync"

	"github.com/YuminosukeSato/scitrack/pkg/errors"
	"github.com/YuminosukeSato/scitrack/tracking"
)

// ErrClosed is returned by Append after Close.
var ErrClosed = errors.New("memory sink closed")

// Sink stores records in memory.
type Sink struct {
	mu         sync.Mutex
	records    []tracking.Record
	appends    int
	closeCalls int
	failed     error

	// FailAppend, when set, is returned by Append instead of storing records.
	FailAppend error
	// FailClose, when set, is returned by Close.
	FailClose error
}

// New returns an empty Sink.
func New() *Sink {
	return &Sink{}
}

func (s *Sink) Name() string { return "memory" }

// Append stores a copy of records.
func (s *Sink) Append(ctx context.Context, records []tracking.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closeCalls > 0 {
		return ErrClosed
	}
	if s.FailAppend != nil {
		return s.FailAppend
	}
	s.records = append(s.records, records...)
	s.appends++
	return nil
}

// Close marks the sink closed. It counts every call so tests can check
// the adapter released it exactly once.
func (s *Sink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	return s.FailClose
}

// MarkFailed remembers the failure cause of the run.
func (s *Sink) MarkFailed(_ context.Context, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = cause
}

// Records returns a copy of all stored records in append order.
func (s *Sink) Records() []tracking.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]tracking.Record, len(s.records))
	copy(out, s.records)
	return out
}

// Path returns the records stored under path, in append order.
func (s *Sink) Path(path string) []tracking.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []tracking.Record
	for _, r := range s.records {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// Last returns the most recent record stored under path.
func (s *Sink) Last(path string) (tracking.Record, bool) {
	recs := s.Path(path)
	if len(recs) == 0 {
		return tracking.Record{}, false
	}
	return recs[len(recs)-1], true
}

// Appends is the number of successful Append calls.
func (s *Sink) Appends() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appends
}

// CloseCalls is the number of times Close was called.
func (s *Sink) CloseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// Failure returns the cause passed to MarkFailed, if any.
func (s *Sink) Failure() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}
