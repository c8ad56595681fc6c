package retry

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/block/throttle-go/errors"
)

type OutcomeKind int

const (
	Success OutcomeKind = iota
	RateLimited
	Transient
	Fatal
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case RateLimited:
		return "rate-limited"
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	}
	return "unknown"
}

// Outcome is how one attempt ended.
type Outcome struct {
	Kind OutcomeKind
	// Until is when a RateLimited attempt may be tried again, as the
	// server reported it. Zero if the server gave no time.
	Until time.Time
}

func Succeeded() Outcome {
	return Outcome{Kind: Success}
}

func RateLimitedUntil(until time.Time) Outcome {
	return Outcome{Kind: RateLimited, Until: until}
}

func TransientFailure() Outcome {
	return Outcome{Kind: Transient}
}

func FatalFailure() Outcome {
	return Outcome{Kind: Fatal}
}

type DecisionKind int

const (
	Proceed DecisionKind = iota
	WaitUntil
	GiveUp
)

// Decision is what to do after an attempt.
type Decision struct {
	Kind DecisionKind
	// Until is set for WaitUntil.
	Until time.Time
	// Reason is set for GiveUp: one of errors.ErrRateLimitExhausted,
	// errors.ErrTransportExhausted or errors.ErrNonRetryable.
	Reason error
}

// Policy shapes the attempt loop.
type Policy struct {
	// MaxAttempts bounds the number of attempts, retries included.
	MaxAttempts int
	// BaseBackoff is the wait after the first transient failure; it
	// doubles with every further attempt up to MaxBackoff.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// JitterMax bounds the random delay added to every backoff.
	JitterMax time.Duration
	// Jitter returns a uniform random duration in [0, max].
	// default: math/rand/v2
	Jitter func(max time.Duration) time.Duration
	// SurfaceRateLimits gives up on the first rate limited attempt,
	// for callers that handle 429s themselves.
	SurfaceRateLimits bool
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseBackoff: 500 * time.Millisecond,
		MaxBackoff:  30 * time.Second,
		JitterMax:   250 * time.Millisecond,
	}
}

// Backoff returns the wait after the n-th (1-based) transient failure:
// min(MaxBackoff, BaseBackoff * 2^(n-1)) plus jitter in [0, JitterMax].
func (p Policy) Backoff(n int) time.Duration {
	return p.baseBackoff(n) + p.jitter()
}

func (p Policy) baseBackoff(n int) time.Duration {
	d := p.BaseBackoff
	for i := 1; i < n && d < p.MaxBackoff; i++ {
		if d > math.MaxInt64/2 {
			return p.MaxBackoff
		}
		d *= 2
	}
	return min(d, p.MaxBackoff)
}

func (p Policy) jitter() time.Duration {
	if p.JitterMax <= 0 {
		return 0
	}
	var j time.Duration
	if p.Jitter != nil {
		j = p.Jitter(p.JitterMax)
	} else {
		j = time.Duration(rand.Int64N(int64(p.JitterMax) + 1))
	}
	return max(0, min(j, p.JitterMax))
}

// Decide maps the outcome of attempt (1-based) to the next step.
// It is pure: now is passed in and nothing is recorded.
func (p Policy) Decide(attempt int, o Outcome, now time.Time) Decision {
	switch o.Kind {
	case Success:
		return Decision{Kind: Proceed}
	case Fatal:
		return Decision{Kind: GiveUp, Reason: errors.ErrNonRetryable}
	case RateLimited:
		if p.SurfaceRateLimits || attempt >= p.MaxAttempts {
			return Decision{Kind: GiveUp, Reason: errors.ErrRateLimitExhausted}
		}
		// the server's time is authoritative; backoff only when it gave none
		if o.Until.After(now) {
			return Decision{Kind: WaitUntil, Until: o.Until}
		}
		return Decision{Kind: WaitUntil, Until: now.Add(p.Backoff(attempt))}
	case Transient:
		if attempt >= p.MaxAttempts {
			return Decision{Kind: GiveUp, Reason: errors.ErrTransportExhausted}
		}
		return Decision{Kind: WaitUntil, Until: now.Add(p.Backoff(attempt))}
	}
	return Decision{Kind: GiveUp, Reason: errors.ErrNonRetryable}
}
