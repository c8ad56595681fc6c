package rate

import (
	"context"

	"github.com/block/throttle-go/bucket"
)

// NoopLimiter admits every request immediately.
type NoopLimiter struct {
}

var _ Limiter = &NoopLimiter{}

func (n NoopLimiter) Limit(ctx context.Context, _ bucket.Descriptor) error {
	return ctx.Err()
}
