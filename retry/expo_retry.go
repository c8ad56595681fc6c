package retry

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/block/throttle-go/clock"
	"github.com/block/throttle-go/errors"
	"github.com/block/throttle-go/logger"
)

type expoConfig struct {
	policy Policy
	clock  clock.Clock
	logger logger.Logger
	// onRetry is called before every wait between two attempts
	onRetry func(attempt int, o Outcome, wait time.Duration)
}

func defaultExpoConfig() expoConfig {
	return expoConfig{
		policy: DefaultPolicy(),
		clock:  clock.NewReal(),
		logger: &logger.Noop{},
	}
}

type ExpoConfigOption func(c *expoConfig)

func WithLogger(log logger.Logger) ExpoConfigOption {
	return func(c *expoConfig) {
		c.logger = log
	}
}

func WithPolicy(p Policy) ExpoConfigOption {
	return func(c *expoConfig) {
		c.policy = p
	}
}

func WithClock(clk clock.Clock) ExpoConfigOption {
	return func(c *expoConfig) {
		c.clock = clk
	}
}

// WithOnRetry registers a hook called with the wait chosen before each retry.
func WithOnRetry(fn func(attempt int, o Outcome, wait time.Duration)) ExpoConfigOption {
	return func(c *expoConfig) {
		c.onRetry = fn
	}
}

type expoRetry struct {
	config expoConfig
}

var _ Retry = &expoRetry{}

func NewExponentialRetry(opts ...ExpoConfigOption) Retry {
	var config = defaultExpoConfig()
	for _, opt := range opts {
		opt(&config)
	}

	return &expoRetry{config}
}

// Do runs provided function repeatedly until:
// * the RetriableFn returns Success
// * or the Policy gives up (attempts exhausted, or a Fatal outcome)
// * or ctx is done
// Examples:
// Do(ctx, "my-func", fn) with MaxAttempts 3 and transient failures
// ^ will run fn 3 times, sleeping Backoff(1) and Backoff(2) in between,
// and return an *errors.ExhaustedError.
//
// A Fatal outcome returns fn's error unchanged.
func (r *expoRetry) Do(
	ctx context.Context,
	fnName string,
	fn RetriableFn,
) error {
	policy := r.config.policy
	if policy.MaxAttempts < 1 {
		return fmt.Errorf("attempts must be > 0")
	}

	var errs error
	for attempt := 1; ; attempt++ {
		outcome, err := fn(ctx, attempt)
		if outcome.Kind == Success {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err == nil {
			err = fmt.Errorf("%s: attempt %d ended %s", fnName, attempt, outcome.Kind)
		}
		errs = multierr.Append(errs, err)

		now := r.config.clock.Now()
		decision := policy.Decide(attempt, outcome, now)
		switch decision.Kind {
		case GiveUp:
			if decision.Reason == errors.ErrNonRetryable {
				return err
			}
			r.config.logger.Warnf(
				"Exhausted all retry attempts for %s; giving up. attempt=%d, maxAttempt=%d, outcome=%s, error=%v",
				fnName, attempt, policy.MaxAttempts, outcome.Kind, err,
			)
			return &errors.ExhaustedError{
				Kind:     decision.Reason,
				Attempts: attempt,
				Errors:   errs,
			}

		case WaitUntil:
			wait := decision.Until.Sub(now)
			r.config.logger.Warnf(
				"Error during retry %s; retrying. attempt=%d, maxAttempt=%d, outcome=%s, backoff=%v, error=%v",
				fnName, attempt, policy.MaxAttempts, outcome.Kind, wait, err,
			)
			if r.config.onRetry != nil {
				r.config.onRetry(attempt, outcome, wait)
			}
			if sleepErr := r.config.clock.SleepUntil(ctx, decision.Until); sleepErr != nil {
				return sleepErr
			}

		case Proceed:
		}
	}
}
