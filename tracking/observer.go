package tracking

import (
	"context"

	"github.com/YuminosukeSato/scitrack/core/event"
)

// IterationObserver receives IterationCompleted events.
type IterationObserver interface {
	OnIteration(ctx context.Context, ev event.Event) error
}

// TrialObserver receives TrialCompleted events.
type TrialObserver interface {
	OnTrial(ctx context.Context, ev event.Event) error
}

// StudyObserver receives StudyCompleted events.
type StudyObserver interface {
	OnStudy(ctx context.Context, ev event.Event) error
}

var (
	_ IterationObserver = (*Adapter)(nil)
	_ TrialObserver     = (*Adapter)(nil)
	_ StudyObserver     = (*Adapter)(nil)
)
