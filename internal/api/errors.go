package api

import (
	"errors"
	"fmt"
)

// Sentinel errors for classifying API failures.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited")
	ErrServer       = errors.New("server error")
	ErrBadRequest   = errors.New("bad request")
)

// APIError carries the HTTP status, the server's request id when present,
// and the server-provided message. Unwrap exposes the classified sentinel
// so callers can branch with errors.Is.
type APIError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "request failed"
	}

	if e.RequestID != "" {
		return fmt.Sprintf("api: %s (HTTP %d, request %s)", msg, e.StatusCode, e.RequestID)
	}

	return fmt.Sprintf("api: %s (HTTP %d)", msg, e.StatusCode)
}

func (e *APIError) Unwrap() error { return e.Err }

// classifyStatus maps an HTTP status to its sentinel.
func classifyStatus(status int) error {
	switch {
	case status == 400:
		return ErrBadRequest
	case status == 401:
		return ErrUnauthorized
	case status == 403:
		return ErrForbidden
	case status == 404:
		return ErrNotFound
	case status == 429:
		return ErrRateLimited
	case status >= 500:
		return ErrServer
	default:
		return fmt.Errorf("unexpected status %d", status)
	}
}

// retryableStatus reports whether a status is worth retrying: rate limits
// and transient server errors.
func retryableStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// TokenInvalid reports whether the error means the upload token (or API
// key) was rejected and any cached token must be discarded.
func TokenInvalid(err error) bool {
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden)
}
