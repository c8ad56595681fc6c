package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/block/throttle-go/errors"
)

const (
	HeaderRequestId = "X-Request-Id"
	headerApiKey    = "Api-Key"
)

type httpTransport struct {
	baseUrl      string
	apiKey       string
	apiKeyHeader string
	httpClient   *http.Client
}

var _ Transport = &httpTransport{}

type HttpOption func(t *httpTransport)

// WithHttpClient sets the client used to send requests.
// default: a client using http.DefaultTransport without a timeout; the
// throttle client bounds each request with its own per-request timeout.
func WithHttpClient(c *http.Client) HttpOption {
	return func(t *httpTransport) {
		t.httpClient = c
	}
}

// WithApiKey sends key in the Api-Key header, or in header if given.
func WithApiKey(key string, header ...string) HttpOption {
	return func(t *httpTransport) {
		t.apiKey = key
		if len(header) > 0 && header[0] != "" {
			t.apiKeyHeader = header[0]
		}
	}
}

// NewHttp sends requests to baseUrl + "/" + Request.Path.
func NewHttp(baseUrl string, opts ...HttpOption) Transport {
	t := &httpTransport{
		baseUrl:      strings.TrimRight(baseUrl, "/"),
		apiKeyHeader: headerApiKey,
		httpClient:   &http.Client{Transport: http.DefaultTransport},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *httpTransport) Do(ctx context.Context, r *Request) (*Response, error) {
	endpoint := t.baseUrl + "/" + strings.TrimLeft(r.Path, "/")

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, endpoint, body)
	if err != nil {
		return nil, &errors.ApiError{
			Stage:     errors.STAGE_BEFORE_REQUEST,
			Type:      errors.TYPE_REQUEST_PREP,
			SourceErr: err,
		}
	}

	for name, values := range r.Header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	if r.Body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	if t.apiKey != "" {
		req.Header.Set(t.apiKeyHeader, t.apiKey)
	}
	if r.ID != "" {
		req.Header.Set(HeaderRequestId, r.ID)
	}

	res, err := t.httpClient.Do(req)
	if err != nil {
		return nil, &errors.ApiError{
			Stage:     errors.STAGE_REQUEST,
			Type:      errors.TYPE_IO,
			SourceErr: err,
		}
	}
	defer func() { _ = res.Body.Close() }()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, &errors.ApiError{
			Stage:          errors.STAGE_AFTER_REQUEST,
			Type:           errors.TYPE_IO,
			Body:           data,
			HttpStatusCode: res.StatusCode,
			SourceErr:      err,
		}
	}

	return &Response{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       data,
	}, nil
}
