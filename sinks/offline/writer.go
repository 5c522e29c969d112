package offline

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/YuminosukeSato/scitrack/pkg/errors"
	"github.com/YuminosukeSato/scitrack/pkg/log"
	"github.com/YuminosukeSato/scitrack/tracking"
)

// Option configures a Sink.
type Option func(*Sink)

// WithRunName sets the run name written into the header.
func WithRunName(name string) Option {
	return func(s *Sink) { s.header.RunName = name }
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(s *Sink) {
		if id != "" {
			s.header.RunID = id
		}
	}
}

// WithTags sets run tags written into the header.
func WithTags(tags map[string]string) Option {
	return func(s *Sink) { s.header.Tags = tags }
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(s *Sink) {
		if l != nil {
			s.logger = l
		}
	}
}

// Sink appends records to a local file.
type Sink struct {
	mu     sync.Mutex
	path   string
	f      *os.File
	w      *bufio.Writer
	header Header
	failed error
	closed bool
	logger log.Logger
}

var (
	_ tracking.Sink          = (*Sink)(nil)
	_ tracking.FailureMarker = (*Sink)(nil)
)

// Create creates a new offline file at path and writes its header. An
// existing file is never overwritten.
func Create(path string, opts ...Option) (*Sink, error) {
	s := &Sink{
		path: path,
		header: Header{
			Version:   FormatVersion,
			RunID:     uuid.NewString(),
			CreatedAt: time.Now().UTC(),
		},
		logger: log.GetLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "create offline file %s", path)
	}
	s.f = f
	s.w = bufio.NewWriter(f)
	h := s.header
	if err := writeFrame(s.w, frame{Header: &h}); err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "write header")
	}
	if err := s.w.Flush(); err != nil {
		_ = f.Close()
		return nil, errors.Wrap(err, "write header")
	}
	s.logger = s.logger.With(log.ComponentKey, "offline", log.RunIDKey, s.header.RunID, log.FileKey, path)
	s.logger.Debug("offline run created")
	return s, nil
}

func (s *Sink) Name() string { return "offline" }

// Header returns the header written at creation.
func (s *Sink) Header() Header { return s.header }

// Path returns the file path.
func (s *Sink) Path() string { return s.path }

// Append writes one frame per record and flushes the buffer so that
// appended records survive a crash of the training process. The batch is
// encoded in full before anything reaches the file, so a record that cannot
// be encoded leaves the file untouched.
func (s *Sink) Append(ctx context.Context, records []tracking.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("offline sink closed")
	}
	var batch bytes.Buffer
	for i := range records {
		if err := writeFrame(&batch, frame{Record: &records[i]}); err != nil {
			return errors.Wrapf(err, "encode record %s", records[i].Path)
		}
	}
	if _, err := s.w.Write(batch.Bytes()); err != nil {
		return errors.Wrap(err, "write records")
	}
	return s.w.Flush()
}

// MarkFailed makes Close write a FAILED status.
func (s *Sink) MarkFailed(_ context.Context, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = cause
}

// Close writes the status frame, syncs and closes the file.
func (s *Sink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	st := Status{State: StateFinished, ClosedAt: time.Now().UTC()}
	if s.failed != nil {
		st.State = StateFailed
		st.Reason = s.failed.Error()
	}
	err := writeFrame(s.w, frame{Status: &st})
	if err == nil {
		err = s.w.Flush()
	}
	if err == nil {
		err = s.f.Sync()
	}
	if cerr := s.f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errors.Wrapf(err, "close offline file %s", s.path)
	}
	s.logger.Debug("offline run closed", "state", st.State)
	return nil
}
