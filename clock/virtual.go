package clock

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// fakeClock is the subset of clockwork's fake clock used here.
type fakeClock interface {
	clockwork.Clock
	Advance(d time.Duration)
	BlockUntil(waiters int)
}

// Virtual is a Clock that stands still until Advance is called.
// Any caller blocked in SleepUntil stays parked on a fake timer until
// the virtual time reaches its target.
type Virtual struct {
	fake fakeClock
}

var _ Clock = &Virtual{}

// defaultEpoch keeps virtual time on whole seconds, which is the
// resolution of the X-RateLimit-Reset header.
var defaultEpoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

func NewVirtual() *Virtual {
	return NewVirtualAt(defaultEpoch)
}

func NewVirtualAt(t time.Time) *Virtual {
	return &Virtual{fake: clockwork.NewFakeClockAt(t)}
}

func (v *Virtual) Now() time.Time {
	return v.fake.Now()
}

func (v *Virtual) NewTimer(d time.Duration) Timer {
	return v.fake.NewTimer(d)
}

func (v *Virtual) SleepUntil(ctx context.Context, t time.Time) error {
	return sleepUntil(ctx, v.fake, t)
}

// Advance moves virtual time forward and fires every timer that is due.
func (v *Virtual) Advance(d time.Duration) {
	v.fake.Advance(d)
}

// BlockUntil blocks until exactly n timers are pending on this clock.
func (v *Virtual) BlockUntil(n int) {
	v.fake.BlockUntil(n)
}
