package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidArgument              = errors.New("invalid argument")
	ErrComponentNotificationFailure = errors.New("temporal component failed to process time advancement")
	ErrComponentPanicked            = errors.New("temporal component panicked")
	ErrInvalidConfiguration         = errors.New("invalid configuration")
)

// ComponentNotificationError describes a failure of a single TemporalComponent during a single step.
type ComponentNotificationError struct {
	RegistrationId string
	ComponentType  string
	Time           time.Time // Virtual time that the component was being notified of.
	Err            error
}

func (e *ComponentNotificationError) Error() string {
	return fmt.Sprintf("component %s (registration %s) failed at %v: %v",
		e.ComponentType, e.RegistrationId, e.Time, e.Err)
}

func (e *ComponentNotificationError) Unwrap() error {
	return e.Err
}

func (e *ComponentNotificationError) Is(target error) bool {
	return target == ErrComponentNotificationFailure
}
