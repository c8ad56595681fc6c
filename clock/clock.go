package clock

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the time source used by every suspension point of the client:
// the rate gate waiting for a quota reset and the retry loop waiting out
// a backoff.
//
// Production code uses NewReal(). Tests use NewVirtual(), which only moves
// when Advance is called, so a configured backoff of minutes resolves
// without any wall-clock sleep.
//
// Usage Example:
//
//	c := clock.NewVirtual()
//	go func() {
//	    _ = c.SleepUntil(ctx, c.Now().Add(30*time.Second))
//	}()
//	c.BlockUntil(1)            // the goroutine is parked on a timer
//	c.Advance(30 * time.Second) // and now it is released
type Clock interface {
	// Now returns the current instant of this clock.
	Now() time.Time

	// SleepUntil suspends the caller until t. It returns nil right away
	// if t is not after Now(). It returns ctx.Err() if the context is done
	// before t is reached.
	SleepUntil(ctx context.Context, t time.Time) error

	// NewTimer creates a timer that fires once after d on this clock.
	NewTimer(d time.Duration) Timer
}

type Timer = clockwork.Timer

type clock struct {
	c clockwork.Clock
}

var _ Clock = &clock{}

// New adapts any clockwork.Clock.
func New(c clockwork.Clock) Clock {
	return &clock{c: c}
}

func NewReal() Clock {
	return New(clockwork.NewRealClock())
}

func (c *clock) Now() time.Time {
	return c.c.Now()
}

func (c *clock) NewTimer(d time.Duration) Timer {
	return c.c.NewTimer(d)
}

func (c *clock) SleepUntil(ctx context.Context, t time.Time) error {
	return sleepUntil(ctx, c.c, t)
}

func sleepUntil(ctx context.Context, c clockwork.Clock, t time.Time) error {
	d := t.Sub(c.Now())
	if d <= 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	timer := c.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.Chan():
		return nil
	}
}
