package executor

import "time"

// Strategy selects how retry delays grow between attempts.
type Strategy string

const (
	RetryNone        Strategy = "none"
	RetryFixed       Strategy = "fixed"
	RetryLinear      Strategy = "linear"
	RetryExponential Strategy = "exponential"
)

// RetryPolicy is a value describing retry behaviour. Keeping it a plain
// value (rather than wrapping work in closures) makes delay math testable
// in isolation.
type RetryPolicy struct {
	Strategy Strategy

	// BaseDelay is the first retry delay.
	BaseDelay time.Duration

	// MaxDelay saturates the computed delay. Zero means no ceiling.
	MaxDelay time.Duration
}

// NoRetry is the zero policy: fail on first error.
var NoRetry = RetryPolicy{Strategy: RetryNone}

// Delay returns the wait before the given retry attempt (attempt 1 is the
// first retry). RetryNone always returns zero.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		return 0
	}

	var d time.Duration
	switch p.Strategy {
	case RetryFixed:
		d = p.BaseDelay
	case RetryLinear:
		d = p.BaseDelay * time.Duration(attempt)
	case RetryExponential:
		d = p.BaseDelay << (attempt - 1)
	default:
		return 0
	}

	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// permanenter is implemented by errors that must never be retried
// (auth failures, validation errors). See pipeline.Permanent.
type permanenter interface {
	Permanent() bool
}
