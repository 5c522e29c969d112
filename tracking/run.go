package tracking

import (
	"context"

	"github.com/YuminosukeSato/scitrack/pkg/errors"
	"github.com/YuminosukeSato/scitrack/pkg/log"
)

// Run creates an Adapter over sink, calls fn and always releases the sink
// afterwards, also when fn panics. A panic is returned as *errors.PanicError.
//
// When fn fails and the sink implements FailureMarker, MarkFailed is called
// before Close. The sink is closed with a context that ignores cancellation
// of ctx so a cancelled run can still finalize. Errors from fn and from
// Close are joined.
func Run(ctx context.Context, sink Sink, fn func(*Adapter) error, opts ...Option) error {
	a := New(sink, opts...)

	runErr := errors.SafeExecute("tracking.Run", func() error {
		return fn(a)
	})

	closeCtx := context.WithoutCancel(ctx)
	if runErr != nil {
		if fm, ok := sink.(FailureMarker); ok && !a.Closed() {
			fm.MarkFailed(closeCtx, runErr)
		}
		a.logger.Error("training run failed", log.ErrAttrKey, runErr)
	}

	closeErr := a.Close(closeCtx)
	return errors.Join(runErr, closeErr)
}
