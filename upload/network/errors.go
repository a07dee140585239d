package network

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// Sentinel errors for boundary rejections. None of these are retried: the
// request was understood and refused, trying again cannot change the outcome.
var (
	// ErrUnauthorized is returned on an authorization rejection.
	ErrUnauthorized = errors.New("storage boundary rejected the request: unauthorized")

	// ErrPayloadTooLarge is returned when the boundary refuses the payload size.
	ErrPayloadTooLarge = errors.New("storage boundary rejected the request: payload too large")

	// ErrIncompleteBatch is returned when finalize finds fewer chunks than
	// expected. The missing chunks must be re-uploaded before finalizing again.
	ErrIncompleteBatch = errors.New("batch is incomplete: not all chunks are present at the boundary")
)

// StatusError is a non-2xx boundary response not covered by a sentinel error.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable reports whether an error from a boundary call is transient.
// Server failures, transport errors and timeouts are retryable; rejections
// and incomplete batches are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrPayloadTooLarge) || errors.Is(err, ErrIncompleteBatch) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= http.StatusInternalServerError
	}
	// Transport failures and deadline hits look like wrapped net/context
	// errors, all of which are worth another attempt.
	return true
}

const maxErrorBodyBytes = 1024

// unwrapError converts a non-2xx response into the matching error kind.
// finalize widens the mapping: 404 and 409 mean the batch is incomplete.
func unwrapError(resp *http.Response, finalize bool) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	case http.StatusRequestEntityTooLarge:
		return ErrPayloadTooLarge
	case http.StatusNotFound, http.StatusConflict:
		if finalize {
			return ErrIncompleteBatch
		}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil {
		return &StatusError{StatusCode: resp.StatusCode, Body: "(unreadable response body)"}
	}
	return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
}
