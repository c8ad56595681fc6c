package errors

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	STAGE_BEFORE_REQUEST = "before-request"
	STAGE_REQUEST        = "request"
	STAGE_AFTER_REQUEST  = "after-request"

	TYPE_UNKNOWN      = "unknown"
	TYPE_REQUEST_PREP = "request-prep"
	TYPE_IO           = "io"
	TYPE_HTTP_STATUS  = "not-ok-http-status"
	TYPE_RATE_LIMITED = "rate-limited"
)

// The failures Client.Execute can surface. Match them with errors.Is.
var (
	// ErrRateLimitExhausted: every attempt was refused by the quota or
	// a cooldown. The *ExhaustedError carries the last known quota.
	ErrRateLimitExhausted = errors.New("rate limit retries exhausted")
	// ErrTransportExhausted: every attempt failed with a transient error.
	ErrTransportExhausted = errors.New("transient failure retries exhausted")
	// ErrNonRetryable: the failure is neither rate-limit related nor
	// transient and was returned after a single attempt.
	ErrNonRetryable = errors.New("non-retryable failure")
	// ErrTimeout: the per-request timeout (or the caller's deadline)
	// elapsed while waiting or retrying.
	ErrTimeout = errors.New("request timed out")
	// ErrCancelled: the caller cancelled the request.
	ErrCancelled = errors.New("request cancelled")
)

type ApiError struct {
	Stage          string
	Type           string
	SourceErr      error
	Body           []byte
	HttpStatusCode int

	// NonRetryable is set once the client has classified this error as
	// one it will not retry. Such errors match ErrNonRetryable.
	NonRetryable bool
}

var _ error = &ApiError{}

func (e *ApiError) Error() string {
	var err string
	if e.SourceErr != nil {
		err = e.SourceErr.Error()
	} else {
		err = string(e.Body)
	}
	return fmt.Sprintf(
		"http request failed during '%s' stage with error type '%s', httpStatus: '%d'; original err: %v",
		e.Stage, e.Type, e.HttpStatusCode, err,
	)
}

// Is method is required by errors.Is() to properly distinguish between
// different types -vs- same pointer to the same type.
// Without it, errors.Is(err, &ApiError{}) returns false:
// ok := errors.Is(errors.Join(&ApiError{}), &ApiError{})
// ^ would be false
func (e *ApiError) Is(other error) bool {
	if other == ErrNonRetryable {
		return e.NonRetryable
	}
	var err *ApiError
	return errors.As(other, &err) && err != nil
}

func (e *ApiError) Unwrap() error {
	return e.SourceErr
}

// NewStatusError describes a response that came back with a non-2xx status.
func NewStatusError(statusCode int, body []byte) *ApiError {
	t := TYPE_HTTP_STATUS
	if statusCode == http.StatusTooManyRequests {
		t = TYPE_RATE_LIMITED
	}
	return &ApiError{
		Stage:          STAGE_AFTER_REQUEST,
		Type:           t,
		Body:           body,
		HttpStatusCode: statusCode,
	}
}

// Is forwards to the standard library so callers need a single import.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As forwards to the standard library so callers need a single import.
func As(err error, target any) bool {
	return errors.As(err, target)
}

func New(text string) error {
	return errors.New(text)
}
