// Package clock provides the time source used by polling, debouncing and TTL checks.
package clock

import (
	"context"
	"time"
)

// Clock is a source of time and timers
type Clock interface {
	// Now returns the current time
	Now() time.Time

	// Sleep blocks for d or until ctx is done
	Sleep(ctx context.Context, d time.Duration) error

	// AfterFunc calls f in its own goroutine after d has elapsed
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a handle to a scheduled function
type Timer interface {
	// Stop prevents the function from firing. It returns false if the
	// function already fired or the timer was already stopped.
	Stop() bool
}

// Real returns a Clock backed by the time package
func Real() Clock {
	return realClock{}
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
