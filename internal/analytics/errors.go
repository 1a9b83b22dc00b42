package analytics

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized means the service key was rejected. It is fatal for a
	// whole run: retrying per identifier cannot succeed.
	ErrUnauthorized = errors.New("service key rejected")

	// ErrMalformedResponse means the body could not be decoded.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrRejected means the service answered with a non-success status or
	// an error envelope.
	ErrRejected = errors.New("request rejected")
)

// QueryError describes a failed request. Spec is set for usage queries and
// nil for directory lookups.
type QueryError struct {
	Endpoint   string
	Spec       *QuerySpec
	StatusCode int
	Body       string
	Err        error
}

func (e *QueryError) Error() string {
	target := e.Endpoint
	if e.Spec != nil {
		target = e.Spec.String()
	}
	msg := fmt.Sprintf("query %s failed", target)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

func (e *QueryError) Unwrap() error { return e.Err }

// IsFatal reports whether err should stop the whole run instead of
// skipping a single identifier.
func IsFatal(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
