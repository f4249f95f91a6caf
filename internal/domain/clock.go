package domain

import (
	"context"
	"time"
)

//go:generate mockgen -source=clock.go -destination=../mock_domain/mock_clock.go -package=mock_domain -exclude_interfaces=DelayProvider,SimulationClock

// TimeProvider is anything that can report the "current" time, which may be virtual.
type TimeProvider interface {
	// Now returns the current time in the local time zone.
	Now() time.Time

	// UtcNow returns the current time in UTC.
	UtcNow() time.Time
}

// DelayProvider can suspend the caller for a (possibly virtual) duration.
type DelayProvider interface {
	// Delay blocks until the given duration has elapsed according to the provider's notion of time,
	// or until the context is cancelled, in which case the context's error is returned.
	Delay(ctx context.Context, d time.Duration) error
}

type SimulationClock interface {
	TimeProvider

	// Return the current clock time.
	GetClockTime() time.Time

	// Set the clock to the given timestamp, verifying that the new timestamp is either equal to or occurs after the old one.
	// Return a tuple where the first element is the new time, and the second element is the difference between the new time and the old time.
	IncreaseClockTimeTo(t time.Time) (time.Time, time.Duration, error)

	// Increment the clock by the given amount. Return the updated value.
	IncrementClockBy(amount time.Duration) (time.Time, error)
}
