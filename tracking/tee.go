package tracking

import (
	"context"
	"strings"

	"github.com/YuminosukeSato/scitrack/pkg/errors"
)

// Tee returns a Sink that forwards every batch to each of sinks in order.
// All children are attempted even when one fails; failures are joined.
func Tee(sinks ...Sink) Sink {
	if len(sinks) == 1 {
		return sinks[0]
	}
	return &tee{sinks: sinks}
}

type tee struct {
	sinks []Sink
}

func (t *tee) Append(ctx context.Context, records []Record) error {
	var errs []error
	for _, s := range t.sinks {
		if err := s.Append(ctx, records); err != nil {
			errs = append(errs, errors.Wrapf(err, "%s", SinkName(s)))
		}
	}
	return errors.Join(errs...)
}

func (t *tee) Close(ctx context.Context) error {
	var errs []error
	for _, s := range t.sinks {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, errors.Wrapf(err, "%s", SinkName(s)))
		}
	}
	return errors.Join(errs...)
}

func (t *tee) MarkFailed(ctx context.Context, cause error) {
	for _, s := range t.sinks {
		if fm, ok := s.(FailureMarker); ok {
			fm.MarkFailed(ctx, cause)
		}
	}
}

func (t *tee) Name() string {
	names := make([]string, len(t.sinks))
	for i, s := range t.sinks {
		names[i] = SinkName(s)
	}
	return "tee(" + strings.Join(names, ",") + ")"
}
