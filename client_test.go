package throttle_go

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber-go/tally"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/block/throttle-go/clock"
	"github.com/block/throttle-go/errors"
	"github.com/block/throttle-go/logger"
	"github.com/block/throttle-go/metrics"
	"github.com/block/throttle-go/quota"
	"github.com/block/throttle-go/rate"
	"github.com/block/throttle-go/transport"
	tt "github.com/block/throttle-go/transport/transporttest"
)

const waitFor = time.Second

type result struct {
	res *transport.Response
	err error
}

func executeAsync(ctx context.Context, c *Client, req *transport.Request) <-chan result {
	done := make(chan result, 1)
	go func() {
		res, err := c.Execute(ctx, req)
		done <- result{res, err}
	}()
	return done
}

func await(t *testing.T, done <-chan result) result {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(waitFor):
		require.FailNow(t, "execute did not finish")
	}
	return result{}
}

func assertPending(t *testing.T, done <-chan result) {
	t.Helper()
	select {
	case r := <-done:
		require.Failf(t, "execute finished early", "err=%v", r.err)
	default:
	}
}

func get(path string, key quota.BucketKey) *transport.Request {
	return &transport.Request{Method: http.MethodGet, Path: path, Bucket: key}
}

func newTestClient(clk *clock.Virtual, tr transport.Transport, opts ...ConfigOption) *Client {
	opts = append([]ConfigOption{
		WithClock(clk),
		WithBaseBackoff(time.Second),
		WithMaxBackoff(time.Minute),
		WithJitterMax(0),
	}, opts...)
	return NewClient(tr, opts...)
}

func exhaust(c *Client, key quota.BucketKey, now time.Time, resetIn time.Duration) {
	c.state.Update(key, quota.Snapshot{
		Limit:      60,
		Remaining:  0,
		ResetAt:    now.Add(resetIn),
		ObservedAt: now,
	})
}

func counter(s tally.TestScope, name, bucket string) int64 {
	var total int64
	for _, c := range s.Snapshot().Counters() {
		if c.Name() == name && c.Tags()["bucket"] == bucket {
			total += c.Value()
		}
	}
	return total
}

func Test_NewClient_defaults(t *testing.T) {
	c := NewClient(tt.NewScripted(tt.OK()))
	assert.Equal(t, 4, c.config.maxAttempts)
	assert.True(t, c.config.respectRateLimit)
	assert.NotNil(t, c.state)
	assert.NotNil(t, c.retry)
	assert.IsType(t, &rate.Gate{}, c.limiter)

	c = NewClient(tt.NewScripted(tt.OK()), WithRespectRateLimit(false))
	assert.IsType(t, &rate.NoopLimiter{}, c.limiter)
}

func Test_NewClient_attempts_normalized(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	c := NewClient(
		tt.NewScripted(tt.OK()),
		WithMaxAttempts(0),
		WithLogger(logger.NewZap(zap.New(core))),
	)

	assert.Equal(t, 1, c.config.maxAttempts)
	assert.Equal(t, 1, logs.FilterMessageSnippet("max attempts must be > 0").Len())
}

func Test_Execute_success(t *testing.T) {
	clk := clock.NewVirtual()
	tr := tt.NewScripted(tt.Respond(http.StatusOK, tt.QuotaHeader(60, 59, clk.Now().Add(time.Hour))))
	c := newTestClient(clk, tr)

	req := get("/repos", "core")
	res, err := c.Execute(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 1, tr.Calls())

	snap, ok := c.Snapshot("core")
	require.True(t, ok)
	assert.Equal(t, uint64(59), snap.Remaining)
	assert.Equal(t, clk.Now(), snap.ObservedAt)

	// the caller's request is left alone, the sent copy carries an ID
	assert.Empty(t, req.ID)
	assert.NotEmpty(t, tr.Requests()[0].ID)
}

func Test_Execute_keeps_request_id(t *testing.T) {
	tr := tt.NewScripted(tt.OK())
	c := newTestClient(clock.NewVirtual(), tr)

	req := get("/repos", "core")
	req.ID = "req-1"
	_, err := c.Execute(context.Background(), req)

	require.NoError(t, err)
	assert.Equal(t, "req-1", tr.Requests()[0].ID)
}

// An exhausted bucket holds the request until its reset, while a
// request for another bucket goes through.
func Test_Execute_waits_for_reset(t *testing.T) {
	clk := clock.NewVirtual()
	start := clk.Now()
	ts := tally.NewTestScope("", nil)
	tr := tt.NewScripted(tt.OK())
	c := newTestClient(clk, tr, WithMetrics(metrics.New(ts)))
	exhaust(c, "core", start, 30*time.Second)

	held := executeAsync(context.Background(), c, get("/repos", "core"))
	clk.BlockUntil(1)

	res, err := c.Execute(context.Background(), get("/search", "search"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, 1, tr.Calls())
	assertPending(t, held)

	clk.Advance(29 * time.Second)
	assertPending(t, held)

	clk.Advance(time.Second)
	r := await(t, held)
	require.NoError(t, r.err)
	assert.Equal(t, 2, tr.Calls())
	assert.False(t, clk.Now().Before(start.Add(30*time.Second)))
	assert.Equal(t, int64(1), counter(ts, metrics.GateWaits, "core"))
	assert.Equal(t, int64(0), counter(ts, metrics.GateWaits, "search"))
}

// Admission does not pre-decrement: all three requests go out, and the
// state ends up holding the last response observed, not a sum.
func Test_Execute_concurrent_last_observed_wins(t *testing.T) {
	clk := clock.NewVirtual()
	start := clk.Now()
	resetAt := start.Add(time.Hour)

	releases := make([]chan struct{}, 3)
	steps := make([]tt.Step, 3)
	for i, remaining := range []uint64{0, 5, 3} {
		release := make(chan struct{})
		releases[i] = release
		steps[i] = tt.Respond(http.StatusOK, tt.QuotaHeader(60, remaining, resetAt))
		steps[i].Before = func(context.Context, *transport.Request) {
			<-release
		}
	}
	tr := tt.NewScripted(steps...)
	c := newTestClient(clk, tr)
	c.state.Update("core", quota.Snapshot{Limit: 60, Remaining: 1, ResetAt: resetAt, ObservedAt: start})

	finished := make(chan result, 3)
	for range 3 {
		go func() {
			res, err := c.Execute(context.Background(), get("/repos", "core"))
			finished <- result{res, err}
		}()
	}
	require.Eventually(t, func() bool { return tr.Calls() == 3 }, waitFor, time.Millisecond)

	for i := range releases {
		clk.Advance(time.Second)
		close(releases[i])
		r := await(t, finished)
		require.NoError(t, r.err)
	}

	snap, ok := c.Snapshot("core")
	require.True(t, ok)
	assert.Equal(t, uint64(3), snap.Remaining)
	assert.Equal(t, start.Add(3*time.Second), snap.ObservedAt)
}

func Test_Execute_transient_then_success(t *testing.T) {
	clk := clock.NewVirtual()
	start := clk.Now()
	core, logs := observer.New(zapcore.DebugLevel)
	ts := tally.NewTestScope("", nil)
	reset := fmt.Errorf("connection reset by peer")
	tr := tt.NewScripted(tt.Fail(reset), tt.Fail(reset), tt.OK())
	c := newTestClient(
		clk, tr,
		WithMaxAttempts(5),
		WithLogger(logger.NewZap(zap.New(core))),
		WithMetrics(metrics.New(ts)),
	)

	done := executeAsync(context.Background(), c, get("/repos", "core"))

	clk.BlockUntil(1)
	assert.Equal(t, 1, tr.Calls())
	clk.Advance(time.Second)

	clk.BlockUntil(1)
	assert.Equal(t, 2, tr.Calls())
	clk.Advance(1999 * time.Millisecond)
	assertPending(t, done)
	clk.Advance(time.Millisecond)

	r := await(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, http.StatusOK, r.res.StatusCode)
	assert.Equal(t, 3, tr.Calls())
	assert.Equal(t, start.Add(3*time.Second), clk.Now())

	retries := logs.FilterMessageSnippet("retrying").AllUntimed()
	require.Len(t, retries, 2)
	assert.Contains(t, retries[0].Message, "backoff=1s")
	assert.Contains(t, retries[1].Message, "backoff=2s")

	assert.Equal(t, int64(3), counter(ts, metrics.Attempts, "core"))
	assert.Equal(t, int64(2), counter(ts, metrics.Retries, "core"))
	assert.Equal(t, int64(2), counter(ts, metrics.Transient, "core"))
}

func Test_Execute_transport_exhausted(t *testing.T) {
	clk := clock.NewVirtual()
	ts := tally.NewTestScope("", nil)
	tr := tt.NewScripted(tt.Fail(fmt.Errorf("no route to host")))
	c := newTestClient(clk, tr, WithMaxAttempts(2), WithMetrics(metrics.New(ts)))

	done := executeAsync(context.Background(), c, get("/repos", "core"))
	clk.BlockUntil(1)
	clk.Advance(time.Second)

	r := await(t, done)
	assert.ErrorIs(t, r.err, errors.ErrTransportExhausted)
	assert.NotErrorIs(t, r.err, errors.ErrRateLimitExhausted)

	var exhausted *errors.ExhaustedError
	require.True(t, errors.As(r.err, &exhausted))
	assert.Equal(t, 2, exhausted.Attempts)
	assert.Nil(t, exhausted.Snapshot)
	assert.Equal(t, 2, tr.Calls())
	assert.Equal(t, int64(1), counter(ts, metrics.Exhausted, "core"))
}

func Test_Execute_5xx_is_transient(t *testing.T) {
	clk := clock.NewVirtual()
	tr := tt.NewScripted(tt.Respond(http.StatusBadGateway, nil), tt.OK())
	c := newTestClient(clk, tr)

	done := executeAsync(context.Background(), c, get("/repos", "core"))
	clk.BlockUntil(1)
	clk.Advance(time.Second)

	r := await(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, 2, tr.Calls())
}

// A cooldown holds every bucket, even one with quota left.
func Test_Execute_cooldown_delays_other_buckets(t *testing.T) {
	clk := clock.NewVirtual()
	start := clk.Now()
	tr := tt.NewScripted(
		tt.Respond(http.StatusOK, tt.WithRetryAfter(tt.QuotaHeader(60, 5, start.Add(time.Hour)), 10*time.Second)),
		tt.OK(),
	)
	c := newTestClient(clk, tr)

	_, err := c.Execute(context.Background(), get("/repos", "core"))
	require.NoError(t, err)

	cd, ok := c.Cooldown()
	require.True(t, ok)
	assert.Equal(t, start.Add(10*time.Second), cd.Until)

	done := executeAsync(context.Background(), c, get("/search", "search"))
	clk.BlockUntil(1)
	assert.Equal(t, 1, tr.Calls())

	clk.Advance(9 * time.Second)
	assertPending(t, done)
	clk.Advance(time.Second)

	r := await(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, 2, tr.Calls())
}

func Test_Execute_single_attempt_rate_limited(t *testing.T) {
	clk := clock.NewVirtual()
	ts := tally.NewTestScope("", nil)
	tr := tt.NewScripted(
		tt.Respond(http.StatusTooManyRequests, tt.QuotaHeader(60, 0, clk.Now().Add(30*time.Second))),
		tt.OK(),
	)
	c := newTestClient(clk, tr, WithMaxAttempts(1), WithMetrics(metrics.New(ts)))

	_, err := c.Execute(context.Background(), get("/repos", "core"))

	assert.ErrorIs(t, err, errors.ErrRateLimitExhausted)
	assert.Equal(t, 1, tr.Calls())

	var exhausted *errors.ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	require.NotNil(t, exhausted.Snapshot)
	assert.Equal(t, uint64(0), exhausted.Snapshot.Remaining)

	var apiErr *errors.ApiError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.HttpStatusCode)
	assert.Equal(t, errors.TYPE_RATE_LIMITED, apiErr.Type)

	assert.Equal(t, int64(1), counter(ts, metrics.RateLimited, "core"))
	assert.Equal(t, int64(1), counter(ts, metrics.Exhausted, "core"))
}

func Test_Execute_rate_limited_retries_after_reset(t *testing.T) {
	clk := clock.NewVirtual()
	start := clk.Now()
	tr := tt.NewScripted(
		tt.Respond(http.StatusTooManyRequests, tt.QuotaHeader(60, 0, start.Add(30*time.Second))),
		tt.Respond(http.StatusOK, tt.QuotaHeader(60, 59, start.Add(90*time.Second))),
	)
	c := newTestClient(clk, tr)

	done := executeAsync(context.Background(), c, get("/repos", "core"))
	clk.BlockUntil(1)
	clk.Advance(29 * time.Second)
	assertPending(t, done)
	clk.Advance(time.Second)

	r := await(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, 2, tr.Calls())

	snap, _ := c.Snapshot("core")
	assert.Equal(t, uint64(59), snap.Remaining)
}

func Test_Execute_rate_limited_retry_after(t *testing.T) {
	clk := clock.NewVirtual()
	tr := tt.NewScripted(
		tt.Respond(http.StatusTooManyRequests, tt.WithRetryAfter(nil, 5*time.Second)),
		tt.OK(),
	)
	c := newTestClient(clk, tr)

	done := executeAsync(context.Background(), c, get("/repos", "core"))
	clk.BlockUntil(1)
	clk.Advance(4 * time.Second)
	assertPending(t, done)
	clk.Advance(time.Second)

	require.NoError(t, await(t, done).err)
	assert.Equal(t, 2, tr.Calls())
}

func Test_Execute_rate_limited_without_headers_backs_off(t *testing.T) {
	clk := clock.NewVirtual()
	tr := tt.NewScripted(tt.Respond(http.StatusTooManyRequests, nil), tt.OK())
	c := newTestClient(clk, tr)

	done := executeAsync(context.Background(), c, get("/repos", "core"))
	clk.BlockUntil(1)
	clk.Advance(time.Second)

	require.NoError(t, await(t, done).err)
	assert.Equal(t, 2, tr.Calls())
}

func Test_Execute_forbidden(t *testing.T) {
	testCases := []struct {
		name      string
		header    http.Header
		retryable bool
	}{
		{
			name:      "permission error",
			header:    nil,
			retryable: false,
		},
		{
			name:      "quota left",
			header:    tt.QuotaHeader(60, 10, time.Now().Add(time.Hour)),
			retryable: false,
		},
		{
			name:      "quota exhausted",
			header:    tt.QuotaHeader(60, 0, clock.NewVirtual().Now().Add(time.Second)),
			retryable: true,
		},
		{
			name:      "retry after",
			header:    tt.WithRetryAfter(nil, time.Second),
			retryable: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			clk := clock.NewVirtual()
			tr := tt.NewScripted(tt.Respond(http.StatusForbidden, tc.header), tt.OK())
			c := newTestClient(clk, tr)

			done := executeAsync(context.Background(), c, get("/repos", "core"))
			if !tc.retryable {
				r := await(t, done)
				assert.ErrorIs(t, r.err, errors.ErrNonRetryable)
				assert.Equal(t, 1, tr.Calls())
				return
			}

			clk.BlockUntil(1)
			clk.Advance(time.Second)
			require.NoError(t, await(t, done).err)
			assert.Equal(t, 2, tr.Calls())
		})
	}
}

func Test_Execute_non_retryable(t *testing.T) {
	clk := clock.NewVirtual()
	tr := tt.NewScripted(
		tt.Step{Response: &transport.Response{StatusCode: http.StatusNotFound, Header: http.Header{}, Body: []byte(`{"message":"Not Found"}`)}},
	)
	c := newTestClient(clk, tr)

	_, err := c.Execute(context.Background(), get("/missing", "core"))

	assert.ErrorIs(t, err, errors.ErrNonRetryable)
	assert.NotErrorIs(t, err, errors.ErrTransportExhausted)
	var apiErr *errors.ApiError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.HttpStatusCode)
	assert.Equal(t, `{"message":"Not Found"}`, string(apiErr.Body))
	assert.Equal(t, 1, tr.Calls())
}

func Test_Execute_request_prep_error(t *testing.T) {
	prep := &errors.ApiError{
		Stage:     errors.STAGE_BEFORE_REQUEST,
		Type:      errors.TYPE_REQUEST_PREP,
		SourceErr: fmt.Errorf("invalid URL"),
	}
	tr := tt.NewScripted(tt.Fail(prep))
	c := newTestClient(clock.NewVirtual(), tr)

	_, err := c.Execute(context.Background(), get("/repos", "core"))

	assert.ErrorIs(t, err, errors.ErrNonRetryable)
	assert.Same(t, prep, err)
	assert.Equal(t, 1, tr.Calls())
}

func Test_Execute_per_request_timeout(t *testing.T) {
	clk := clock.NewVirtual()
	tr := tt.NewScripted(tt.OK())
	c := newTestClient(clk, tr, WithPerRequestTimeout(5*time.Second))
	exhaust(c, "core", clk.Now(), 30*time.Second)

	done := executeAsync(context.Background(), c, get("/repos", "core"))
	// the timeout timer and the gate
	clk.BlockUntil(2)
	clk.Advance(5 * time.Second)

	r := await(t, done)
	assert.ErrorIs(t, r.err, errors.ErrTimeout)
	assert.ErrorIs(t, r.err, context.DeadlineExceeded)
	assert.NotErrorIs(t, r.err, errors.ErrCancelled)
	assert.Equal(t, 0, tr.Calls())
}

func Test_Execute_caller_deadline(t *testing.T) {
	c := newTestClient(clock.NewVirtual(), tt.NewScripted(tt.OK()))

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()
	_, err := c.Execute(ctx, get("/repos", "core"))

	assert.ErrorIs(t, err, errors.ErrTimeout)
}

func Test_Execute_cancel_while_waiting(t *testing.T) {
	clk := clock.NewVirtual()
	tr := tt.NewScripted(tt.OK())
	c := newTestClient(clk, tr)
	exhaust(c, "core", clk.Now(), 30*time.Second)
	before := c.state.Buckets()

	ctx, cancel := context.WithCancel(context.Background())
	done := executeAsync(ctx, c, get("/repos", "core"))
	clk.BlockUntil(1)
	cancel()

	r := await(t, done)
	assert.ErrorIs(t, r.err, errors.ErrCancelled)
	assert.ErrorIs(t, r.err, context.Canceled)
	assert.Equal(t, 0, tr.Calls())
	assert.Equal(t, before, c.state.Buckets())
}

func Test_Execute_cancel_during_exchange_records_nothing(t *testing.T) {
	clk := clock.NewVirtual()
	ctx, cancel := context.WithCancel(context.Background())

	step := tt.Respond(http.StatusOK, tt.QuotaHeader(60, 0, clk.Now().Add(time.Hour)))
	step.Before = func(context.Context, *transport.Request) {
		cancel()
	}
	c := newTestClient(clk, tt.NewScripted(step))

	_, err := c.Execute(ctx, get("/repos", "core"))

	assert.ErrorIs(t, err, errors.ErrCancelled)
	_, ok := c.Snapshot("core")
	assert.False(t, ok)
}

func Test_Execute_ignore_rate_limit(t *testing.T) {
	clk := clock.NewVirtual()
	tr := tt.NewScripted(
		tt.Respond(http.StatusTooManyRequests, tt.QuotaHeader(60, 0, clk.Now().Add(30*time.Second))),
	)
	c := newTestClient(clk, tr, WithRespectRateLimit(false))
	exhaust(c, "core", clk.Now(), 30*time.Second)

	// nothing waits: the request goes out despite the exhausted bucket
	_, err := c.Execute(context.Background(), get("/repos", "core"))

	assert.ErrorIs(t, err, errors.ErrRateLimitExhausted)
	var apiErr *errors.ApiError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.HttpStatusCode)
	assert.Equal(t, 1, tr.Calls())
}

// The first response names the bucket of the route; from then on the
// route is held by that bucket's quota.
func Test_Execute_learns_bucket(t *testing.T) {
	clk := clock.NewVirtual()
	start := clk.Now()
	tr := tt.NewScripted(
		tt.Respond(http.StatusOK, tt.WithResource(tt.QuotaHeader(30, 0, start.Add(time.Minute)), "search")),
		tt.OK(),
	)
	c := newTestClient(clk, tr)

	req := &transport.Request{Method: http.MethodGet, Path: "/search/code"}
	_, err := c.Execute(context.Background(), req)
	require.NoError(t, err)

	_, ok := c.Snapshot("search")
	require.True(t, ok)

	done := executeAsync(context.Background(), c, req)
	clk.BlockUntil(1)
	assert.Equal(t, 1, tr.Calls())
	clk.Advance(time.Minute)

	require.NoError(t, await(t, done).err)
	assert.Equal(t, 2, tr.Calls())
}

func Test_Execute_near_limit_logged(t *testing.T) {
	clk := clock.NewVirtual()
	core, logs := observer.New(zapcore.DebugLevel)
	tr := tt.NewScripted(tt.Respond(http.StatusOK, tt.QuotaHeader(100, 5, clk.Now().Add(time.Hour))))
	c := newTestClient(clk, tr, WithLogger(logger.NewZap(zap.New(core))))

	_, err := c.Execute(context.Background(), get("/repos", "core"))

	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterMessageSnippet("is close to its limit").Len())
}
