package rest

import (
	"time"

	"arclink/pkg/backoff"
)

const (
	// DefaultTimeout bounds a single logical request.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxRetries is the retry budget after the first attempt.
	DefaultMaxRetries = 3
)

// DefaultRetryableStatus lists the status codes retried by default.
var DefaultRetryableStatus = []int{429, 500, 502, 503, 504}

// Policy defines the retry behavior for one logical request.
type Policy struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int
	// Delay computes the backoff between attempts.
	Delay backoff.Policy
	// RetryableStatus is the set of HTTP status codes worth retrying.
	RetryableStatus []int
}

// DefaultPolicy returns the executor's stock retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:      DefaultMaxRetries,
		Delay:           backoff.Default(),
		RetryableStatus: DefaultRetryableStatus,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.Delay.Base <= 0 {
		p.Delay.Base = backoff.DefaultBase
	}
	if p.Delay.Cap <= 0 {
		p.Delay.Cap = backoff.DefaultCap
	}
	if p.RetryableStatus == nil {
		p.RetryableStatus = DefaultRetryableStatus
	}
	return p
}

func (p Policy) retryable(status int) bool {
	for _, s := range p.RetryableStatus {
		if s == status {
			return true
		}
	}
	return false
}
