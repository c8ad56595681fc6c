package transporttest

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/block/throttle-go/transport"
)

// Step is one scripted exchange: either a response or an error.
type Step struct {
	Response *transport.Response
	Err      error
	// Before, if set, runs before the step is returned. Tests use it to
	// block an exchange or to observe ordering.
	Before func(ctx context.Context, req *transport.Request)
}

// Scripted is a Transport returning its steps in order, one per call.
// After the last step it keeps returning the last one.
// It is safe for concurrent use.
type Scripted struct {
	mu    sync.Mutex
	steps []Step
	calls []*transport.Request
	next  int

	count atomic.Int64
}

var _ transport.Transport = &Scripted{}

func NewScripted(steps ...Step) *Scripted {
	return &Scripted{steps: steps}
}

func (s *Scripted) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	s.count.Inc()

	s.mu.Lock()
	s.calls = append(s.calls, req)
	if len(s.steps) == 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("transporttest: no steps scripted")
	}
	step := s.steps[min(s.next, len(s.steps)-1)]
	s.next++
	s.mu.Unlock()

	if step.Before != nil {
		step.Before(ctx, req)
	}
	if step.Err != nil {
		return nil, step.Err
	}
	return step.Response, nil
}

// Calls returns how many times Do was called.
func (s *Scripted) Calls() int {
	return int(s.count.Load())
}

// Requests returns the requests seen so far, in call order.
func (s *Scripted) Requests() []*transport.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*transport.Request(nil), s.calls...)
}

// OK returns a 200 response with no quota headers.
func OK() Step {
	return Respond(http.StatusOK, nil)
}

// Fail returns a transport-level error.
func Fail(err error) Step {
	return Step{Err: err}
}

func Respond(status int, header http.Header) Step {
	if header == nil {
		header = http.Header{}
	}
	return Step{Response: &transport.Response{StatusCode: status, Header: header}}
}

// QuotaHeader builds X-RateLimit-* headers, as the server sends them.
func QuotaHeader(limit, remaining uint64, resetAt time.Time) http.Header {
	h := http.Header{}
	h.Set("X-RateLimit-Limit", strconv.FormatUint(limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatUint(remaining, 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
	h.Set("X-RateLimit-Used", strconv.FormatUint(limit-remaining, 10))
	return h
}

// WithRetryAfter adds a Retry-After header of d, rounded down to seconds.
func WithRetryAfter(h http.Header, d time.Duration) http.Header {
	if h == nil {
		h = http.Header{}
	}
	h.Set("Retry-After", strconv.Itoa(int(d/time.Second)))
	return h
}

// WithResource adds the X-RateLimit-Resource header naming the bucket.
func WithResource(h http.Header, bucket string) http.Header {
	if h == nil {
		h = http.Header{}
	}
	h.Set("X-RateLimit-Resource", bucket)
	return h
}
