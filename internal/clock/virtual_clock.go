package clock

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/scusemua/time-simulator/internal/domain"
)

var (
	_ domain.SimulationClock = (*VirtualClock)(nil)
	_ domain.TimeProvider    = RealClock{}
)

// VirtualClock is a monotonically non-decreasing simulated clock.
//
// The clock is represented as a fixed origin plus an offset. Only the offset ever changes,
// and it can only grow. All methods are safe for concurrent use.
type VirtualClock struct {
	origin     time.Time
	offset     time.Duration
	clockMutex sync.RWMutex
}

// NewVirtualClock creates a VirtualClock whose current time is the given origin.
// If origin is the zero time, the current wall-clock time is used instead.
func NewVirtualClock(origin time.Time) *VirtualClock {
	if origin.IsZero() {
		origin = time.Now()
	}

	return &VirtualClock{
		origin: origin,
	}
}

// Origin returns the virtual time at which the clock started.
func (vc *VirtualClock) Origin() time.Time {
	return vc.origin
}

// Offset returns the total amount of virtual time by which the clock has been advanced.
func (vc *VirtualClock) Offset() time.Duration {
	vc.clockMutex.RLock()
	defer vc.clockMutex.RUnlock()

	return vc.offset
}

// UtcNow returns the current virtual time in UTC.
func (vc *VirtualClock) UtcNow() time.Time {
	vc.clockMutex.RLock()
	defer vc.clockMutex.RUnlock()

	return vc.origin.UTC().Add(vc.offset)
}

// Now returns the current virtual time in the local time zone.
func (vc *VirtualClock) Now() time.Time {
	return vc.UtcNow().Local()
}

// GetClockTime returns the current virtual time in UTC.
func (vc *VirtualClock) GetClockTime() time.Time {
	return vc.UtcNow()
}

// Advance moves the clock forward by the given amount.
//
// A negative amount, or one that would overflow the clock, is rejected with an error wrapping
// domain.ErrInvalidArgument, and the clock is left unchanged.
func (vc *VirtualClock) Advance(amount time.Duration) error {
	_, err := vc.IncrementClockBy(amount)
	return err
}

// IncrementClockBy moves the clock forward by the given amount and returns the resulting virtual time (UTC).
func (vc *VirtualClock) IncrementClockBy(amount time.Duration) (time.Time, error) {
	if amount < 0 {
		return vc.UtcNow(), fmt.Errorf("%w: cannot advance clock by negative amount %v", domain.ErrInvalidArgument, amount)
	}

	vc.clockMutex.Lock()
	defer vc.clockMutex.Unlock()

	if amount > time.Duration(math.MaxInt64)-vc.offset {
		return vc.origin.UTC().Add(vc.offset), fmt.Errorf("%w: advancing clock by %v would overflow (current offset: %v)",
			domain.ErrInvalidArgument, amount, vc.offset)
	}

	vc.offset += amount
	return vc.origin.UTC().Add(vc.offset), nil
}

// IncreaseClockTimeTo moves the clock forward to the given instant, which must not precede the current time.
// Returns the new time and the amount by which the clock moved.
func (vc *VirtualClock) IncreaseClockTimeTo(t time.Time) (time.Time, time.Duration, error) {
	vc.clockMutex.Lock()
	defer vc.clockMutex.Unlock()

	current := vc.origin.UTC().Add(vc.offset)
	if t.Before(current) {
		return current, 0, fmt.Errorf("%w: attempting to move clock backwards from %v to %v",
			domain.ErrInvalidArgument, current, t)
	}

	difference := t.Sub(current)
	if difference > time.Duration(math.MaxInt64)-vc.offset {
		return current, 0, fmt.Errorf("%w: advancing clock to %v would overflow", domain.ErrInvalidArgument, t)
	}

	vc.offset += difference
	return current.Add(difference), difference, nil
}

// CanAdvance reports whether the clock could currently be advanced by the given amount without overflowing.
func (vc *VirtualClock) CanAdvance(amount time.Duration) bool {
	if amount < 0 {
		return false
	}

	vc.clockMutex.RLock()
	defer vc.clockMutex.RUnlock()

	return amount <= time.Duration(math.MaxInt64)-vc.offset
}

func (vc *VirtualClock) String() string {
	return fmt.Sprintf("VirtualClock[origin=%v, offset=%v]", vc.origin, vc.Offset())
}

// RealClock reports the actual wall-clock time.
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

func (RealClock) UtcNow() time.Time {
	return time.Now().UTC()
}
