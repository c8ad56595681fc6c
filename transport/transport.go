package transport

import (
	"context"
	"net/http"

	"github.com/block/throttle-go/bucket"
	"github.com/block/throttle-go/quota"
)

// Transport performs one request/response exchange with the remote API.
//
// The client calls Do once per attempt and never retries inside it.
// Implementations report network-level failures as errors and return
// every HTTP response, whatever its status, as a *Response; the client
// decides what a 429 or a 503 means.
//
// Implementations must honor ctx and be safe for concurrent use.
//
// Usage Example:
//
//	type myTransport struct{}
//
//	func (t *myTransport) Do(ctx context.Context, req *transport.Request) (*transport.Response, error) {
//	    // send req, read the whole body
//	}
//
//	client := throttle_go.NewClient(&myTransport{})
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Request describes one logical API call. It is owned by the call in
// flight and is sent unchanged on every attempt.
type Request struct {
	// ID correlates log lines of all attempts. The client fills it
	// in when empty.
	ID     string
	Method string
	// Path is relative to the transport's base URL.
	Path string
	// Bucket optionally names the quota bucket this request draws from.
	Bucket quota.BucketKey
	Header http.Header
	Body   []byte
}

func (r *Request) Descriptor() bucket.Descriptor {
	return bucket.Descriptor{
		Method: r.Method,
		Path:   r.Path,
		Hint:   r.Bucket,
	}
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
