package exception

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
)

// NetworkError is raised when the transport failed before any response was
// received.
type NetworkError struct {
	Message string
	Cause   error
}

func NewNetworkError(message string, cause error) *NetworkError {
	return &NetworkError{Message: message, Cause: cause}
}

func (e *NetworkError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("network error: %s: %v", e.Message, e.Cause)
	}
	return "network error: " + e.Message
}

func (e *NetworkError) Unwrap() error {
	return e.Cause
}

// LikelyOffline reports whether the cause chain points at a connectivity
// problem rather than a misbehaving server: DNS failures, refused or
// unreachable connections.
func (e *NetworkError) LikelyOffline() bool {
	if e.Cause == nil {
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(e.Cause, &dnsErr) {
		return true
	}

	return errors.Is(e.Cause, syscall.ECONNREFUSED) ||
		errors.Is(e.Cause, syscall.EHOSTUNREACH) ||
		errors.Is(e.Cause, syscall.ENETUNREACH)
}

// TimeoutError is raised when the request's own deadline elapsed before
// completion.
type TimeoutError struct {
	Timeout time.Duration
}

func NewTimeoutError(timeout time.Duration) *TimeoutError {
	return &TimeoutError{Timeout: timeout}
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request timed out after %s", e.Timeout)
}

// AbortError is raised when the caller's cancellation token fired. It is
// never retried.
type AbortError struct {
	Message string
}

func NewAbortError(message string) *AbortError {
	if message == "" {
		message = "request aborted"
	}
	return &AbortError{Message: message}
}

func (e *AbortError) Error() string {
	return e.Message
}
