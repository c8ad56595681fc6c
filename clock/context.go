package clock

import (
	"context"
	"errors"
	"time"
)

// ErrDeadline is the context cause set by WithTimeout when its timer fires.
var ErrDeadline = errors.New("clock: deadline exceeded")

// WithTimeout is context.WithTimeout driven by c instead of the runtime
// timer, so a deadline follows virtual time in tests.
//
// Once the deadline passes the returned context is done,
// ctx.Err() is context.Canceled and context.Cause(ctx) is ErrDeadline.
func WithTimeout(parent context.Context, c Clock, d time.Duration) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	if d <= 0 {
		cancel(ErrDeadline)
		return ctx, func() {}
	}

	timer := c.NewTimer(d)
	go func() {
		defer timer.Stop()
		select {
		case <-timer.Chan():
			cancel(ErrDeadline)
		case <-ctx.Done():
		}
	}()

	return ctx, func() { cancel(context.Canceled) }
}

// DeadlineExceeded reports whether ctx ended because of a WithTimeout
// deadline or a regular context deadline.
func DeadlineExceeded(ctx context.Context) bool {
	if errors.Is(context.Cause(ctx), ErrDeadline) {
		return true
	}
	return errors.Is(ctx.Err(), context.DeadlineExceeded)
}
