package throttle_go

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/block/throttle-go/transport"
)

// Result is the outcome of one request of an ExecuteAll call.
type Result struct {
	Response *transport.Response
	Err      error
}

// ExecuteAll sends reqs with at most concurrency requests in flight and
// returns their results in the order of reqs. A concurrency below 1 means
// no bound.
//
// A failed request does not stop the others: every request gets its own
// Result. All of them share the client's quota state, so one request
// learning that a bucket is exhausted holds back the rest.
func (c *Client) ExecuteAll(ctx context.Context, reqs []*transport.Request, concurrency int) []Result {
	results := make([]Result, len(reqs))

	var g errgroup.Group
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, req := range reqs {
		g.Go(func() error {
			res, err := c.Execute(ctx, req)
			results[i] = Result{Response: res, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	return results
}
