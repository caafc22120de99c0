package backoff

import (
	"context"
	"time"
)

const (
	// DefaultBase is the delay before the first retry.
	DefaultBase = time.Second
	// DefaultCap bounds the exponential growth.
	DefaultCap = 30 * time.Second
)

// Policy computes exponential retry delays with a hard ceiling.
type Policy struct {
	// Base is the delay for attempt 0.
	Base time.Duration
	// Cap is the maximum delay. Zero means DefaultCap.
	Cap time.Duration
}

// Default returns the policy used by the HTTP executor and the reconnect
// scheduler when the caller supplies nothing.
func Default() Policy {
	return Policy{Base: DefaultBase, Cap: DefaultCap}
}

// Delay returns min(Base * 2^attempt, Cap) with attempt counted from 0.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = DefaultBase
	}
	ceiling := p.Cap
	if ceiling <= 0 {
		ceiling = DefaultCap
	}
	if attempt < 0 {
		attempt = 0
	}

	wait := base
	for i := 0; i < attempt; i++ {
		wait *= 2
		if wait >= ceiling {
			return ceiling
		}
	}
	if wait > ceiling {
		return ceiling
	}
	return wait
}

// Sleep waits for the attempt's delay or returns early with the context
// error when ctx is cancelled first.
func (p Policy) Sleep(ctx context.Context, attempt int) error {
	wait := p.Delay(attempt)
	if wait <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
