package tracking

import (
	"context"
	"fmt"
)

// Sink is the downstream logging session owned by one Adapter.
//
// Append must persist records in order; records appended before a
// successful Close must be durable. Close is called exactly once by the
// Adapter. Buffering, batching and retries are the sink's business.
type Sink interface {
	Append(ctx context.Context, records []Record) error
	Close(ctx context.Context) error
}

// FailureMarker is implemented by sinks that record a run outcome. Run calls
// MarkFailed before Close when the training function returned an error.
type FailureMarker interface {
	MarkFailed(ctx context.Context, cause error)
}

// Named is implemented by sinks that want a readable name in errors and logs.
type Named interface {
	Name() string
}

// SinkName returns the name of s for logs and errors.
func SinkName(s Sink) string {
	if n, ok := s.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}
