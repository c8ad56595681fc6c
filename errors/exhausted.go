package errors

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/block/throttle-go/quota"
)

// ExhaustedError is returned when a request used up all of its attempts,
// either on the quota (Kind == ErrRateLimitExhausted) or on transient
// failures (Kind == ErrTransportExhausted).
type ExhaustedError struct {
	Kind     error
	Attempts int

	// Snapshot and Cooldown are the last known quota for the request's
	// bucket, for diagnostics. nil when the server never reported one.
	Snapshot *quota.Snapshot
	Cooldown *quota.Cooldown

	// Errors is every attempt's error combined with multierr,
	// oldest first.
	Errors error
}

var _ error = &ExhaustedError{}

func (e *ExhaustedError) Error() string {
	msg := fmt.Sprintf("%v after %d attempt(s)", e.Kind, e.Attempts)
	if e.Snapshot != nil {
		msg += fmt.Sprintf(
			"; quota limit=%d remaining=%d reset_at=%s",
			e.Snapshot.Limit, e.Snapshot.Remaining, e.Snapshot.ResetAt.Format("2006-01-02T15:04:05Z07:00"),
		)
	}
	if e.Cooldown != nil {
		msg += fmt.Sprintf("; cooldown until=%s", e.Cooldown.Until.Format("2006-01-02T15:04:05Z07:00"))
	}
	if last := e.Last(); last != nil {
		msg += fmt.Sprintf("; last error: %v", last)
	}
	return msg
}

func (e *ExhaustedError) Is(target error) bool {
	return target == e.Kind
}

// Unwrap exposes the last attempt's error, so errors.As can reach
// e.g. the *ApiError of the final response.
func (e *ExhaustedError) Unwrap() error {
	return e.Last()
}

// Last returns the error of the final attempt.
func (e *ExhaustedError) Last() error {
	errs := multierr.Errors(e.Errors)
	if len(errs) == 0 {
		return nil
	}
	return errs[len(errs)-1]
}
