package log

import (
	"context"
	"log/slog"

	cerrors "github.com/cockroachdb/errors"

	"github.com/YuminosukeSato/scitrack/pkg/errors"
)

// ErrFmtHandler is a slog handler for records that carry an error under
// ErrAttrKey. It adds the cockroachdb/errors stacktrace and lifts the fields
// of scitrack error types (record path, sink name, error type) into
// top-level attributes. A TransportError wins over the error it wraps.
type ErrFmtHandler struct {
	handler slog.Handler
}

// WrapByErrFmtHandler wraps handler with error attribute extraction.
func WrapByErrFmtHandler(handler slog.Handler) slog.Handler {
	return &ErrFmtHandler{handler: handler}
}

func (eh *ErrFmtHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return eh.handler.Enabled(ctx, l)
}

func (eh *ErrFmtHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	r.Attrs(func(attr slog.Attr) bool {
		if attr.Key != ErrAttrKey {
			return true
		}
		err, _ = attr.Value.Any().(error)
		return false
	})
	if err != nil {
		r.AddAttrs(errorAttrs(err)...)
	}
	return eh.handler.Handle(ctx, r)
}

func (eh *ErrFmtHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ErrFmtHandler{handler: eh.handler.WithAttrs(attrs)}
}

func (eh *ErrFmtHandler) WithGroup(g string) slog.Handler {
	return &ErrFmtHandler{handler: eh.handler.WithGroup(g)}
}

func errorAttrs(err error) []slog.Attr {
	var attrs []slog.Attr

	var (
		serr *errors.SerializationError
		terr *errors.TransportError
		verr *errors.ValidationError
		uerr *errors.SinkUnavailableError
	)
	switch {
	case errors.As(err, &terr):
		attrs = append(attrs, slog.String(ErrorTypeKey, "TransportError"), slog.String(SinkNameKey, terr.Sink), slog.Int(RecordCountKey, terr.Records))
	case errors.As(err, &serr):
		attrs = append(attrs, slog.String(ErrorTypeKey, "SerializationError"), slog.String(PathKey, serr.Path))
	case errors.As(err, &verr):
		attrs = append(attrs, slog.String(ErrorTypeKey, "ValidationError"), slog.String(PathKey, verr.ParamName))
	case errors.As(err, &uerr):
		attrs = append(attrs, slog.String(ErrorTypeKey, "SinkUnavailableError"))
	}

	if st := extractStacktrace(err); st != "" {
		attrs = append(attrs, slog.String(StacktraceAttrKey, st))
	}
	return attrs
}

func extractStacktrace(err error) string {
	safeDetails := cerrors.GetSafeDetails(err).SafeDetails
	if len(safeDetails) > 0 {
		return safeDetails[0]
	}
	return ""
}
