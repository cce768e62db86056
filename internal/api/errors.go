package api

import (
	"fmt"
	"net/http"
)

// NetworkError is a failed call: transport failure, timeout, non-success
// status, or an unreadable body. The caller shows a retry affordance.
type NetworkError struct {
	Op         string // e.g. "fetch comments/post-1 page 2"
	StatusCode int    // 0 when no response was received
	Body       []byte
	Err        error
}

func (e *NetworkError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err == nil:
		return fmt.Sprintf("%s: status %d %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the call may succeed when repeated.
func (e *NetworkError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// AuthError means there is no usable session: none, expired locally, or
// rejected by the backend. Never retried automatically.
type AuthError struct {
	Op         string
	StatusCode int // 401/403 when the backend rejected the token, else 0
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: unauthorized (status %d)", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}
