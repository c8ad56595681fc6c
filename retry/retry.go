package retry

import "context"

// Retry provides a standardized interface for running one logical request
// as a bounded series of attempts. What happens between two attempts is
// decided by a Policy: wait for the exact instant the server gave for a
// rate limit, back off exponentially after a transient failure, or give up.
//
// The interface is used by the throttle client for every request:
// - Responses refused by the quota or a cooldown (429, 403 with quota headers)
// - Network errors and 5xx responses
// - Anything else, which is returned after the first attempt
//
// Usage Example:
//
//	r := retry.NewExponentialRetry(
//	    retry.WithPolicy(retry.Policy{MaxAttempts: 4, BaseBackoff: 100 * time.Millisecond}),
//	    retry.WithLogger(myLogger),
//	)
//
//	err := r.Do(ctx, "GET user", func(ctx context.Context, attempt int) (retry.Outcome, error) {
//	    res, err := send(ctx)
//	    switch {
//	    case err != nil:
//	        return retry.TransientFailure(), err      // back off and retry
//	    case res.StatusCode == 429:
//	        return retry.RateLimitedUntil(reset), err // sleep until reset and retry
//	    case res.StatusCode >= 400:
//	        return retry.FatalFailure(), err          // stop now
//	    }
//	    return retry.Succeeded(), nil
//	})
//
// The RetriableFn receives the current attempt number (1-based). If ctx is
// done while Do is waiting, or when an attempt fails, Do stops and returns
// the context's error.
type Retry interface {
	Do(ctx context.Context, fnName string, fn RetriableFn) error
}

type RetriableFn func(ctx context.Context, attempt int) (Outcome, error)
