package throttle_go

import (
	"time"

	"github.com/block/throttle-go/bucket"
	"github.com/block/throttle-go/clock"
	"github.com/block/throttle-go/logger"
	"github.com/block/throttle-go/metrics"
	"github.com/block/throttle-go/retry"
)

type config struct {
	// maxAttempts bounds the number of attempts per request,
	// the first one included
	// default: 4
	maxAttempts int

	// baseBackoff is the wait after the first transient failure
	// (network error, 5xx); it doubles with every further attempt
	// default: 500ms
	baseBackoff time.Duration

	// maxBackoff caps the doubling of baseBackoff
	// default: 30 seconds
	maxBackoff time.Duration

	// jitterMax bounds the random delay added to every backoff,
	// so concurrent callers do not retry in lockstep
	// default: 250ms
	jitterMax time.Duration

	// jitter is the random source for jitter, mostly for tests
	// default: math/rand/v2
	jitter func(max time.Duration) time.Duration

	// respectRateLimit makes requests wait for an exhausted bucket or
	// a cooldown, and retry rate limited responses after the reset.
	// When false, nothing waits and a rate limited response is returned
	// right away as errors.ErrRateLimitExhausted.
	// default: true
	respectRateLimit bool

	// perRequestTimeout bounds one Execute call: every wait and every
	// attempt together. 0 disables it.
	// default: 0
	perRequestTimeout time.Duration

	// nearLimitThreshold is the share of the limit below which a
	// bucket is logged as close to exhaustion
	// default: 0.1
	nearLimitThreshold float64

	// clock drives every wait and timeout
	// default: clock.NewReal()
	clock clock.Clock

	// resolver maps requests to quota buckets
	// default: bucket.NewLearningResolver()
	resolver bucket.Resolver

	// logger provides logging functionality for all internal
	// throttle-go client operations
	// default: logger.Noop
	logger logger.Logger

	// metrics receives counters and timers for attempts and waits
	// default: metrics.Noop()
	metrics metrics.Scope
}

func defaultConfig() *config {
	p := retry.DefaultPolicy()
	return &config{
		maxAttempts:        p.MaxAttempts,
		baseBackoff:        p.BaseBackoff,
		maxBackoff:         p.MaxBackoff,
		jitterMax:          p.JitterMax,
		respectRateLimit:   true,
		nearLimitThreshold: 0.1,
		clock:              clock.NewReal(),
		resolver:           bucket.NewLearningResolver(),
		logger:             logger.Noop{},
		metrics:            metrics.Noop(),
	}
}

func (c *config) policy() retry.Policy {
	return retry.Policy{
		MaxAttempts:       c.maxAttempts,
		BaseBackoff:       c.baseBackoff,
		MaxBackoff:        c.maxBackoff,
		JitterMax:         c.jitterMax,
		Jitter:            c.jitter,
		SurfaceRateLimits: !c.respectRateLimit,
	}
}

type ConfigOption func(c *config)

func WithMaxAttempts(attempts int) ConfigOption {
	return func(c *config) {
		c.maxAttempts = attempts
	}
}

func WithBaseBackoff(d time.Duration) ConfigOption {
	return func(c *config) {
		c.baseBackoff = d
	}
}

func WithMaxBackoff(d time.Duration) ConfigOption {
	return func(c *config) {
		c.maxBackoff = d
	}
}

func WithJitterMax(d time.Duration) ConfigOption {
	return func(c *config) {
		c.jitterMax = d
	}
}

func WithJitter(fn func(max time.Duration) time.Duration) ConfigOption {
	return func(c *config) {
		c.jitter = fn
	}
}

func WithRespectRateLimit(respect bool) ConfigOption {
	return func(c *config) {
		c.respectRateLimit = respect
	}
}

func WithPerRequestTimeout(timeout time.Duration) ConfigOption {
	return func(c *config) {
		c.perRequestTimeout = timeout
	}
}

func WithNearLimitThreshold(threshold float64) ConfigOption {
	return func(c *config) {
		c.nearLimitThreshold = threshold
	}
}

func WithClock(clk clock.Clock) ConfigOption {
	return func(c *config) {
		c.clock = clk
	}
}

func WithResolver(resolver bucket.Resolver) ConfigOption {
	return func(c *config) {
		c.resolver = resolver
	}
}

func WithLogger(logger logger.Logger) ConfigOption {
	return func(c *config) {
		c.logger = logger
	}
}

func WithMetrics(m metrics.Scope) ConfigOption {
	return func(c *config) {
		c.metrics = m
	}
}
