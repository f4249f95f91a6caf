package statistics

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MovingStat maintains statistics over the most recent `window` samples.
//
// MovingStat is safe for concurrent use.
type MovingStat struct {
	mu     sync.Mutex
	window int64
	n      int64 // Number of samples currently within the window; never exceeds window.
	total  int64 // Number of samples ever added.
	values []decimal.Decimal
	next   int64 // Slot that the next sample will be written to.
	sum    decimal.Decimal
}

func NewMovingStat(window int64) *MovingStat {
	if window < 1 {
		window = 1
	}

	return &MovingStat{
		window: window,
		values: make([]decimal.Decimal, window),
		sum:    decimal.Zero,
	}
}

// Add records a sample, evicting the oldest one if the window is full.
func (s *MovingStat) Add(val decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.n == s.window {
		s.sum = s.sum.Sub(s.values[s.next])
	} else {
		s.n += 1
	}

	s.values[s.next] = val
	s.sum = s.sum.Add(val)
	s.next = (s.next + 1) % s.window
	s.total += 1
}

// AddDuration records a duration sample, in milliseconds.
func (s *MovingStat) AddDuration(d time.Duration) {
	s.Add(DurationToMilliseconds(d))
}

func (s *MovingStat) Sum() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sum
}

func (s *MovingStat) Window() int64 {
	return s.window
}

// N returns the number of samples currently within the window.
func (s *MovingStat) N() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.n
}

// Total returns the number of samples added over the lifetime of the MovingStat.
func (s *MovingStat) Total() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Avg returns the mean of the samples within the window, or zero if there are none.
func (s *MovingStat) Avg() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.avgLocked()
}

func (s *MovingStat) avgLocked() decimal.Decimal {
	if s.n == 0 {
		return decimal.Zero
	}

	return s.sum.Div(decimal.NewFromInt(s.n))
}

// squaredDeviationsLocked only visits the slots that have actually been filled.
func (s *MovingStat) squaredDeviationsLocked() decimal.Decimal {
	avg := s.avgLocked()
	acc := decimal.Zero
	for i := int64(0); i < s.n; i++ {
		diff := s.values[i].Sub(avg)
		acc = acc.Add(diff.Mul(diff))
	}

	return acc
}

// PopulationVariance computes and returns the population variance of the data currently within the window.
func (s *MovingStat) PopulationVariance() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.n == 0 {
		return decimal.Zero
	}

	return s.squaredDeviationsLocked().Div(decimal.NewFromInt(s.n))
}

// SampleVariance computes and returns the sample variance of the data currently within the window.
func (s *MovingStat) SampleVariance() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.n < 2 {
		return decimal.Zero
	}

	return s.squaredDeviationsLocked().Div(decimal.NewFromInt(s.n - 1))
}

func (s *MovingStat) PopulationStandardDeviation() decimal.Decimal {
	return sqrt(s.PopulationVariance())
}

func (s *MovingStat) SampleStandardDeviation() decimal.Decimal {
	return sqrt(s.SampleVariance())
}

// Last returns the most recently added sample, or zero if there are none.
func (s *MovingStat) Last() decimal.Decimal {
	return s.LastN(1)
}

// LastN returns the n-th most recent sample (LastN(1) == Last()).
// n is clamped to the number of samples within the window.
func (s *MovingStat) LastN(n int64) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.n == 0 {
		return decimal.Zero
	}

	if n > s.n {
		n = s.n
	} else if n < 1 {
		n = 1
	}

	return s.values[(s.next-n+s.window)%s.window]
}

func sqrt(d decimal.Decimal) decimal.Decimal {
	return decimal.NewFromFloat(math.Sqrt(d.InexactFloat64()))
}

// DurationToMilliseconds converts a duration into a (fractional) number of milliseconds.
func DurationToMilliseconds(d time.Duration) decimal.Decimal {
	return decimal.New(d.Nanoseconds(), -6)
}

// MillisecondsToDuration is the inverse of DurationToMilliseconds, truncated to whole nanoseconds.
func MillisecondsToDuration(ms decimal.Decimal) time.Duration {
	return time.Duration(ms.Shift(6).IntPart())
}
