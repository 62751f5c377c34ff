package fetcher

import (
	"context"
	"errors"
	"net"
	"time"
)

// RetryPolicy decides whether a failed fetch attempt is retried and how long
// to wait first. It is a plain value so tests can exercise it without any
// network I/O.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches the politeness contract for catalog sites:
// up to 5 total attempts with exponential backoff from 2s capped at 10s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   2 * time.Second,
		MaxDelay:    10 * time.Second,
	}
}

// ShouldRetry reports whether another attempt is warranted after err on the
// given 1-based attempt number. Network errors and server-class HTTP statuses
// are transient; everything else is permanent.
func (p RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.MaxAttempts {
		return false
	}
	// A per-attempt timeout is transient even though it surfaces as a
	// wrapped deadline error; only explicit cancellation is permanent.
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Transient()
	}
	return errors.As(err, &netErr)
}

// Backoff returns the wait duration before the attempt following the given
// 1-based attempt number: BaseDelay doubled per attempt, capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseDelay << (attempt - 1)
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}
	return delay
}
