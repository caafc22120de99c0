package cancel

import (
	"context"
	"time"
)

// Merge returns a context cancelled as soon as either parent is cancelled,
// carrying values and the earlier deadline of both. The HTTP executor uses
// it to race a per-attempt timeout against the caller's token; it is a
// standalone primitive with no HTTP dependency.
//
// The returned CancelFunc must be called to release the watcher.
func Merge(a, b context.Context) (context.Context, context.CancelFunc) {
	if a == nil {
		a = context.Background()
	}
	if b == nil {
		return context.WithCancel(a)
	}

	merged, cancel := context.WithCancel(a)
	stop := context.AfterFunc(b, cancel)
	return &mergedCtx{Context: merged, secondary: b}, func() {
		stop()
		cancel()
	}
}

// WithTimeout merges the caller's token with a fresh timeout so that
// whichever fires first cancels the result. Cause distinguishes the two:
// the timeout reports context.DeadlineExceeded, the token reports the
// token's own error.
func WithTimeout(token context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return Merge(context.Background(), token)
	}
	deadline, cancelDeadline := context.WithTimeout(context.Background(), timeout)
	merged, cancelMerged := Merge(deadline, token)
	return merged, func() {
		cancelMerged()
		cancelDeadline()
	}
}

// mergedCtx surfaces the secondary parent's error when it fired first, so
// callers can tell a caller-initiated abort from a timeout.
type mergedCtx struct {
	context.Context
	secondary context.Context
}

func (m *mergedCtx) Err() error {
	if err := m.secondary.Err(); err != nil {
		return err
	}
	return m.Context.Err()
}

// Deadline returns the earlier of the two parents' deadlines.
func (m *mergedCtx) Deadline() (time.Time, bool) {
	primary, okA := m.Context.Deadline()
	secondary, okB := m.secondary.Deadline()
	switch {
	case okA && okB:
		if secondary.Before(primary) {
			return secondary, true
		}
		return primary, true
	case okB:
		return secondary, true
	default:
		return primary, okA
	}
}

func (m *mergedCtx) Value(key any) any {
	if v := m.Context.Value(key); v != nil {
		return v
	}
	return m.secondary.Value(key)
}
