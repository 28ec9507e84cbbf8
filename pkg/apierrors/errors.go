// Package apierrors defines the error taxonomy surfaced by the SDK runtime.
//
// Every terminal failure returned from the HTTP, GraphQL and WebSocket clients
// is one of the types below (or a context error when the caller cancelled).
// Transient classes (NetworkError, TimeoutError, HTTPError with 429/5xx) are
// retried internally; once retries are exhausted the last observed error is
// returned unchanged.
package apierrors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// NetworkError reports that the transport could not reach the server or the
// connection was reset mid-request.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// TimeoutError reports that a single transport attempt exceeded its deadline.
type TimeoutError struct {
	Op      string
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	if e.Timeout > 0 {
		return fmt.Sprintf("%s: request timed out after %s", e.Op, e.Timeout)
	}
	return fmt.Sprintf("%s: request timed out", e.Op)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// HTTPError is a non-2xx response from the server.
type HTTPError struct {
	Op         string
	Status     int
	Message    string
	Body       []byte
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.Status, msg)
}

// Retryable reports whether the status is one the client retries with backoff.
func (e *HTTPError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// AuthError reports that a valid bearer token could not be obtained, or that
// the server rejected a freshly issued one.
type AuthError struct {
	Op      string
	Status  int
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("%s: authentication failed (status %d): %s", e.Op, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("%s: authentication failed (status %d)", e.Op, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s: authentication failed: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("%s: authentication failed: %s", e.Op, e.Message)
	}
}

func (e *AuthError) Unwrap() error { return e.Err }

// DecodeError reports a malformed payload. It is terminal for the call that
// produced it but never for a streaming connection.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: decode failed: %v", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsRetryable reports whether err belongs to a transient class. An AuthError
// is terminal whatever its cause.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var authErr *AuthError
	if errors.As(err, &authErr) {
		return false
	}

	var netErr *NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable()
	}
	return false
}

// StatusCode extracts the HTTP status carried by err, or 0 when there is none.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return authErr.Status
	}
	return 0
}

// RetryAfter returns the server supplied Retry-After hint carried by err.
func RetryAfter(err error) time.Duration {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.RetryAfter
	}
	return 0
}

// MessageFromBody extracts a human readable message from an error response
// body: the "message" or "error" field of a JSON object, or else the trimmed
// body truncated to 200 bytes.
func MessageFromBody(body []byte) string {
	var apiErr struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil {
		if apiErr.Message != "" {
			return apiErr.Message
		}
		if apiErr.Error != "" {
			return apiErr.Error
		}
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200] + "..."
	}
	return msg
}
