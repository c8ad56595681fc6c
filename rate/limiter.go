package rate

import (
	"context"

	"github.com/block/throttle-go/bucket"
)

// Limiter decides when a request may be sent to the remote API.
//
// The Limiter interface is the admission hook the client calls before
// every attempt. Implementations can hold a request back for different
// reasons, such as:
//   - The server said the request's bucket has no quota left (Gate)
//   - The server asked every caller to slow down for a while (Gate)
//   - Nothing at all, for callers handling 429s themselves (NoopLimiter)
//
// Example usage:
//
//	gate := rate.NewGate(state, resolver, clk)
//	if err := gate.Limit(ctx, req.Descriptor()); err != nil {
//	    return err // ctx was cancelled or timed out while waiting
//	}
//	// send the request
//
// Limit blocks until the request is admitted, and returns ctx.Err() if
// ctx is done first. Admission does not consume quota: only the server's
// next response says how much is left.
type Limiter interface {
	Limit(ctx context.Context, desc bucket.Descriptor) error
}
