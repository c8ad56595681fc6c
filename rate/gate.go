package rate

import (
	"context"
	"time"

	"github.com/block/throttle-go/bucket"
	"github.com/block/throttle-go/clock"
	"github.com/block/throttle-go/logger"
	"github.com/block/throttle-go/metrics"
	"github.com/block/throttle-go/quota"
)

type gateConfig struct {
	logger  logger.Logger
	metrics metrics.Scope
}

func defaultGateConfig() gateConfig {
	return gateConfig{
		logger:  &logger.Noop{},
		metrics: metrics.Noop(),
	}
}

type GateOption func(c *gateConfig)

func WithLogger(log logger.Logger) GateOption {
	return func(c *gateConfig) {
		c.logger = log
	}
}

func WithMetrics(m metrics.Scope) GateOption {
	return func(c *gateConfig) {
		c.metrics = m
	}
}

// Gate holds requests back while their bucket is exhausted or a
// cooldown is in force, based on what the server last reported.
type Gate struct {
	state    *quota.State
	resolver bucket.Resolver
	clock    clock.Clock
	config   gateConfig
}

var _ Limiter = &Gate{}

func NewGate(
	state *quota.State,
	resolver bucket.Resolver,
	clk clock.Clock,
	opts ...GateOption,
) *Gate {
	config := defaultGateConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return &Gate{
		state:    state,
		resolver: resolver,
		clock:    clk,
		config:   config,
	}
}

func (g *Gate) Limit(ctx context.Context, desc bucket.Descriptor) error {
	key := g.resolver.Resolve(desc, nil)

	until, reason, blocked := g.blockedUntil(key)
	if !blocked {
		return ctx.Err()
	}

	start := g.clock.Now()
	g.config.metrics.IncCounter(metrics.GateWaits, key)
	g.config.logger.Debugf(
		"Holding %s %s; bucket=%s, reason=%s, until=%s, wait=%v",
		desc.Method, desc.Path, key, reason, until.Format(time.RFC3339), until.Sub(start),
	)
	if err := g.clock.SleepUntil(ctx, until); err != nil {
		return err
	}

	// A response that completed while we slept may have moved the reset
	// or set a new cooldown. Look once more, then admit.
	if until, reason, blocked = g.blockedUntil(key); blocked {
		g.config.logger.Debugf(
			"Holding %s %s again; bucket=%s, reason=%s, until=%s",
			desc.Method, desc.Path, key, reason, until.Format(time.RFC3339),
		)
		if err := g.clock.SleepUntil(ctx, until); err != nil {
			return err
		}
	}

	g.config.metrics.RecordTimer(metrics.GateWaitLatency, key, g.clock.Now().Sub(start))
	return nil
}

// blockedUntil returns the instant the bucket opens again, if it is
// closed now. When a cooldown and an exhausted bucket overlap, the later
// of the two wins.
func (g *Gate) blockedUntil(key quota.BucketKey) (time.Time, string, bool) {
	now := g.clock.Now()

	var until time.Time
	var reason string
	if c, ok := g.state.Cooldown(); ok && c.Active(now) {
		until, reason = c.Until, "cooldown"
	}
	if s, ok := g.state.Snapshot(key); ok && s.Exhausted(now) && s.ResetAt.After(until) {
		until, reason = s.ResetAt, "quota"
	}
	return until, reason, reason != ""
}
