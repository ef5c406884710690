// Package clock provides the time and identity primitives for the scheduling
// core: a Clock abstraction (so tests can drive time), UUID minting, recurring
// pattern interpretation, and timezone-aware display formatting.
package clock

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Clock abstracts wall-clock access and timer creation. Production code uses
// System(); tests use Mock and advance it explicitly.
type Clock interface {
	// Now returns the current wall-clock instant in UTC.
	Now() time.Time

	// Since returns the elapsed time since t.
	Since(t time.Time) time.Duration

	// After returns a channel that delivers the current time once d has
	// elapsed. The channel is never closed.
	After(d time.Duration) <-chan time.Time

	// Sleep blocks for d or until ctx is done, whichever comes first.
	// Returns ctx.Err() when interrupted, nil otherwise.
	Sleep(ctx context.Context, d time.Duration) error
}

// NewID mints a new opaque 128-bit identifier.
func NewID() string {
	return uuid.NewString()
}

// System returns the real clock backed by the time package.
func System() Clock {
	return systemClock{}
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now().UTC() }
func (systemClock) Since(t time.Time) time.Duration        { return time.Since(t) }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (systemClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
