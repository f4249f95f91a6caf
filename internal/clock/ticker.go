package clock

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// A Ticker holds a channel that delivers "ticks" of a virtual clock at intervals of virtual time.
//
// A Ticker is a TemporalComponent; it only ticks once it has been registered with a simulation engine.
type Ticker struct {
	// The channel on which the ticks are delivered.
	TickDelivery <-chan time.Time

	mu                sync.Mutex
	lastTick          time.Time
	step              time.Duration
	tickChannel       chan time.Time
	done              chan struct{}
	stopped           chan struct{}
	stopOnce          sync.Once
	ticksHandled      atomic.Int64
	ticksDropped      atomic.Int64
	numOnTriggerCalls atomic.Int64
}

// NewSyncTicker returns a synchronous Ticker.
// On each tick, the handler that listens on TickDelivery must call Ticker.Done() after it has processed the tick.
// The simulation step that produced the tick does not complete until then (or until the Ticker is stopped).
func NewSyncTicker(d time.Duration, start time.Time) *Ticker {
	return newTicker(d, start, true)
}

// NewTicker returns a new Ticker containing a channel that will send the virtual time on the channel
// each time at least d of virtual time has elapsed since the previous tick. Ticks are dropped to make up
// for slow receivers. The duration d must be greater than zero; if not, NewTicker will panic.
func NewTicker(d time.Duration, start time.Time) *Ticker {
	return newTicker(d, start, false)
}

func newTicker(d time.Duration, start time.Time, wait bool) *Ticker {
	if d <= 0 {
		panic(fmt.Sprintf("non-positive interval for NewTicker: %v", d))
	}

	ticker := &Ticker{
		lastTick: start,
		step:     d,
		stopped:  make(chan struct{}),
	}

	if wait {
		ticker.tickChannel = make(chan time.Time)
		ticker.done = make(chan struct{})
	} else {
		ticker.tickChannel = make(chan time.Time, 1)
	}

	ticker.TickDelivery = ticker.tickChannel
	return ticker
}

// OnTimeAdvanced delivers a tick if at least one full period of virtual time has passed since the last tick.
func (ticker *Ticker) OnTimeAdvanced(t time.Time, _ time.Duration) error {
	ticker.numOnTriggerCalls.Add(1)

	select {
	case <-ticker.stopped:
		return nil
	default:
	}

	ticker.mu.Lock()
	if t.Sub(ticker.lastTick) < ticker.step {
		ticker.mu.Unlock()
		return nil
	}
	ticker.lastTick = t
	ticker.mu.Unlock()

	if ticker.done == nil {
		select {
		case ticker.tickChannel <- t:
			ticker.ticksHandled.Add(1)
		default:
			ticker.ticksDropped.Add(1)
		}
		return nil
	}

	// A sync ticker waits for the receiver to call Done().
	select {
	case ticker.tickChannel <- t:
	case <-ticker.stopped:
		return nil
	}

	select {
	case <-ticker.done:
		ticker.ticksHandled.Add(1)
	case <-ticker.stopped:
	}

	return nil
}

// Done acknowledges the most recent tick of a synchronous Ticker. It is a no-op for asynchronous tickers.
func (ticker *Ticker) Done() {
	if ticker.done == nil {
		return
	}

	select {
	case ticker.done <- struct{}{}:
	case <-ticker.stopped:
	}
}

// Stop turns off a ticker. After Stop, no more ticks will be sent.
// Stop does not close the delivery channel, to prevent a concurrent goroutine
// reading from the channel from seeing an erroneous "tick".
func (ticker *Ticker) Stop() {
	ticker.stopOnce.Do(func() {
		close(ticker.stopped)
	})
}

// Reset changes the period of the ticker. The next tick will arrive once the new period has elapsed after `from`.
func (ticker *Ticker) Reset(d time.Duration, from time.Time) {
	if d <= 0 {
		panic(fmt.Sprintf("non-positive interval for Ticker.Reset: %v", d))
	}

	ticker.mu.Lock()
	defer ticker.mu.Unlock()

	ticker.lastTick = from
	ticker.step = d
}

func (ticker *Ticker) TicksHandled() int64 {
	return ticker.ticksHandled.Load()
}

func (ticker *Ticker) TicksDropped() int64 {
	return ticker.ticksDropped.Load()
}

func (ticker *Ticker) String() string {
	ticker.mu.Lock()
	defer ticker.mu.Unlock()

	return fmt.Sprintf("Ticker[sync: %v, step: %v, lastTick: %v, ticksHandled: %d, ticksDropped: %d, numOnTriggerCalls: %d]",
		ticker.done != nil, ticker.step, ticker.lastTick, ticker.ticksHandled.Load(), ticker.ticksDropped.Load(), ticker.numOnTriggerCalls.Load())
}
