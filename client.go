package throttle_go

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/block/throttle-go/bucket"
	"github.com/block/throttle-go/clock"
	"github.com/block/throttle-go/errors"
	"github.com/block/throttle-go/metrics"
	"github.com/block/throttle-go/parsers"
	"github.com/block/throttle-go/quota"
	"github.com/block/throttle-go/rate"
	"github.com/block/throttle-go/retry"
	"github.com/block/throttle-go/transport"
)

// Client sends requests through a Transport while honoring the quota the
// server reports: it holds requests back while their bucket is exhausted
// or a cooldown is active, retries rate limited and transient failures,
// and gives up with a typed error once its attempts are spent.
//
// A Client is safe for concurrent use. Every request sent through one
// Client shares that Client's quota state.
type Client struct {
	transport transport.Transport
	state     *quota.State
	limiter   rate.Limiter
	retry     retry.Retry
	config    *config
}

func NewClient(t transport.Transport, opts ...ConfigOption) *Client {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.maxAttempts < 1 {
		cfg.logger.Warnf("max attempts must be > 0, got %d; using 1", cfg.maxAttempts)
		cfg.maxAttempts = 1
	}

	state := quota.NewState()

	var limiter rate.Limiter = &rate.NoopLimiter{}
	if cfg.respectRateLimit {
		limiter = rate.NewGate(
			state, cfg.resolver, cfg.clock,
			rate.WithLogger(cfg.logger),
			rate.WithMetrics(cfg.metrics),
		)
	}

	return &Client{
		transport: t,
		state:     state,
		limiter:   limiter,
		retry: retry.NewExponentialRetry(
			retry.WithPolicy(cfg.policy()),
			retry.WithClock(cfg.clock),
			retry.WithLogger(cfg.logger),
		),
		config: cfg,
	}
}

// Snapshot returns the last quota the server reported for key.
func (c *Client) Snapshot(key quota.BucketKey) (quota.Snapshot, bool) {
	return c.state.Snapshot(key)
}

// Cooldown returns the last cooldown the server asked for.
func (c *Client) Cooldown() (quota.Cooldown, bool) {
	return c.state.Cooldown()
}

// Execute sends req, waiting and retrying as the quota and the
// configured policy require, and returns the first successful response.
//
// Failures match one of:
//   - errors.ErrRateLimitExhausted, errors.ErrTransportExhausted
//     (*errors.ExhaustedError)
//   - errors.ErrNonRetryable (the error describing the failure, unmodified)
//   - errors.ErrTimeout, errors.ErrCancelled
func (c *Client) Execute(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	r := *req
	if r.ID == "" {
		r.ID = uuid.NewString()
	}

	parent := ctx
	if c.config.perRequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = clock.WithTimeout(ctx, c.config.clock, c.config.perRequestTimeout)
		defer cancel()
	}

	desc := r.Descriptor()
	key := c.config.resolver.Resolve(desc, nil)
	fnName := fmt.Sprintf("%s %s (id=%s)", r.Method, r.Path, r.ID)

	var res *transport.Response
	err := c.retry.Do(ctx, fnName, func(ctx context.Context, attempt int) (retry.Outcome, error) {
		if err := c.limiter.Limit(ctx, desc); err != nil {
			return retry.FatalFailure(), err
		}

		c.config.metrics.IncCounter(metrics.Attempts, key)
		if attempt > 1 {
			c.config.metrics.IncCounter(metrics.Retries, key)
		}
		c.config.logger.Debugf("Sending %s; attempt=%d, bucket=%s", fnName, attempt, key)

		resp, err := c.transport.Do(ctx, &r)
		if ctx.Err() != nil {
			// cancelled path: whatever came back is not recorded
			return retry.FatalFailure(), ctx.Err()
		}
		if err != nil {
			return c.classifyError(key, err)
		}

		key = c.record(desc, resp)
		outcome, err := c.classify(key, resp)
		if outcome.Kind == retry.Success {
			res = resp
		}
		return outcome, err
	})
	if err != nil {
		return nil, c.finalize(ctx, parent, key, err)
	}
	return res, nil
}

// record stores the quota and cooldown a response carries and returns
// the bucket the response belongs to.
func (c *Client) record(desc bucket.Descriptor, resp *transport.Response) quota.BucketKey {
	now := c.config.clock.Now()
	key := c.config.resolver.Resolve(desc, resp.Header)

	if snap, ok := parsers.QuotaFromHeaders(resp.Header, now); ok {
		c.state.Update(key, snap)
		c.config.metrics.UpdateGauge(metrics.QuotaRemaining, key, float64(snap.Remaining))
		if snap.NearLimit(c.config.nearLimitThreshold) {
			c.config.logger.Debugf(
				"Bucket %s is close to its limit; remaining=%d, limit=%d, reset_at=%s",
				key, snap.Remaining, snap.Limit, snap.ResetAt,
			)
		}
	}
	if cd, ok := parsers.CooldownFromHeaders(resp.Header, now); ok {
		c.state.SetCooldown(cd)
	}
	return key
}

func (c *Client) classify(key quota.BucketKey, resp *transport.Response) (retry.Outcome, error) {
	status := resp.StatusCode
	switch {
	case status >= 200 && status < 300:
		return retry.Succeeded(), nil

	case status == http.StatusTooManyRequests,
		status == http.StatusForbidden && c.forbiddenByQuota(resp):
		c.config.metrics.IncCounter(metrics.RateLimited, key)
		apiErr := errors.NewStatusError(status, resp.Body)
		apiErr.Type = errors.TYPE_RATE_LIMITED
		return retry.RateLimitedUntil(c.reopensAt(key)), apiErr

	case status == http.StatusRequestTimeout, status >= 500:
		c.config.metrics.IncCounter(metrics.Transient, key)
		return retry.TransientFailure(), errors.NewStatusError(status, resp.Body)
	}

	apiErr := errors.NewStatusError(status, resp.Body)
	apiErr.NonRetryable = true
	return retry.FatalFailure(), apiErr
}

// forbiddenByQuota tells a 403 caused by the rate limit apart from
// a genuine permission error.
func (c *Client) forbiddenByQuota(resp *transport.Response) bool {
	if _, ok := parsers.CooldownFromHeaders(resp.Header, c.config.clock.Now()); ok {
		return true
	}
	snap, ok := parsers.QuotaFromHeaders(resp.Header, c.config.clock.Now())
	return ok && snap.Remaining == 0
}

func (c *Client) classifyError(key quota.BucketKey, err error) (retry.Outcome, error) {
	var apiErr *errors.ApiError
	if errors.As(err, &apiErr) && apiErr.Stage == errors.STAGE_BEFORE_REQUEST {
		apiErr.NonRetryable = true
		return retry.FatalFailure(), apiErr
	}
	c.config.metrics.IncCounter(metrics.Transient, key)
	return retry.TransientFailure(), err
}

// reopensAt is when key may be tried again according to the refreshed
// state: the later of an active cooldown and an exhausted bucket's reset.
// Zero when neither applies.
func (c *Client) reopensAt(key quota.BucketKey) (until time.Time) {
	now := c.config.clock.Now()
	if cd, ok := c.state.Cooldown(); ok && cd.Active(now) {
		until = cd.Until
	}
	if snap, ok := c.state.Snapshot(key); ok && snap.Exhausted(now) && snap.ResetAt.After(until) {
		until = snap.ResetAt
	}
	return until
}

func (c *Client) finalize(ctx, parent context.Context, key quota.BucketKey, err error) error {
	if ctx.Err() != nil {
		if clock.DeadlineExceeded(ctx) || clock.DeadlineExceeded(parent) {
			return fmt.Errorf("%w: %w", errors.ErrTimeout, context.DeadlineExceeded)
		}
		return fmt.Errorf("%w: %w", errors.ErrCancelled, ctx.Err())
	}

	var exhausted *errors.ExhaustedError
	if errors.As(err, &exhausted) {
		c.config.metrics.IncCounter(metrics.Exhausted, key)
		if snap, ok := c.state.Snapshot(key); ok {
			exhausted.Snapshot = &snap
		}
		if cd, ok := c.state.Cooldown(); ok {
			exhausted.Cooldown = &cd
		}
	}
	return err
}
