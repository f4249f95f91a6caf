package clock

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/google/uuid"

	"github.com/scusemua/time-simulator/internal/domain"
)

// A Trigger is a struct that registers TemporalComponent listeners.
// When the Trigger is "triggered", it invokes all of its listeners, in the order in which they were added.
// This is used to notify components each time the simulation clock advances by one step.
//
// The same component may be added more than once, in which case it is notified once per registration.
type Trigger struct {
	mu       sync.RWMutex
	handlers *orderedmap.OrderedMap[string, domain.TemporalComponent]

	// The number of times the Trigger() function has been called on this Trigger struct.
	numTimesActivated atomic.Int64

	// The number of times this Trigger struct has called OnTimeAdvanced on a handler (successfully or not).
	numTriggersFired atomic.Int64
}

type registration struct {
	id        string
	component domain.TemporalComponent
}

func NewTrigger() *Trigger {
	return &Trigger{
		handlers: orderedmap.NewOrderedMap[string, domain.TemporalComponent](),
	}
}

// AddHandler appends the component to the notification order and returns the ID of the new registration.
func (c *Trigger) AddHandler(h domain.TemporalComponent) string {
	id := uuid.NewString()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.handlers.Set(id, h)
	return id
}

// Len returns the number of registrations.
func (c *Trigger) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.handlers.Len()
}

func (c *Trigger) NumTimesActivated() int64 {
	return c.numTimesActivated.Load()
}

func (c *Trigger) NumTriggersFired() int64 {
	return c.numTriggersFired.Load()
}

func (c *Trigger) snapshot() []registration {
	c.mu.RLock()
	defer c.mu.RUnlock()

	handlers := make([]registration, 0, c.handlers.Len())
	for el := c.handlers.Front(); el != nil; el = el.Next() {
		handlers = append(handlers, registration{id: el.Key, component: el.Value})
	}

	return handlers
}

// Trigger synchronously notifies every registered component that the clock has advanced to ts by step.
//
// Components are notified in registration order. A component that returns an error or panics does not
// prevent the remaining components from being notified; each such failure is returned to the caller.
// Components registered while a Trigger call is in progress are first notified by the next call.
func (c *Trigger) Trigger(ts time.Time, step time.Duration) []*domain.ComponentNotificationError {
	var failures []*domain.ComponentNotificationError

	for _, reg := range c.snapshot() {
		if err := notify(reg.component, ts, step); err != nil {
			failures = append(failures, &domain.ComponentNotificationError{
				RegistrationId: reg.id,
				ComponentType:  domain.ComponentTypeName(reg.component),
				Time:           ts,
				Err:            err,
			})
		}

		c.numTriggersFired.Add(1)
	}

	c.numTimesActivated.Add(1)
	return failures
}

func notify(component domain.TemporalComponent, ts time.Time, step time.Duration) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", domain.ErrComponentPanicked, r)
		}
	}()

	return component.OnTimeAdvanced(ts, step)
}
