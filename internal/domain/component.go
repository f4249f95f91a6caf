package domain

import (
	"fmt"
	"reflect"
	"time"
)

//go:generate mockgen -source=component.go -destination=../mock_domain/mock_component.go -package=mock_domain

// TemporalComponent is a participant in a simulation that reacts to the passage of virtual time.
//
// OnTimeAdvanced is invoked synchronously by the engine once per step, after the clock has been advanced.
// newTime is the virtual time after the advance and stepDuration is the amount by which the clock moved.
// A returned error (or a panic) is contained by the engine and recorded; it never stops the simulation.
type TemporalComponent interface {
	OnTimeAdvanced(newTime time.Time, stepDuration time.Duration) error
}

// TemporalComponentFunc adapts an ordinary function to the TemporalComponent interface.
type TemporalComponentFunc func(newTime time.Time, stepDuration time.Duration) error

func (f TemporalComponentFunc) OnTimeAdvanced(newTime time.Time, stepDuration time.Duration) error {
	return f(newTime, stepDuration)
}

// ComponentTypeName returns the name of the concrete type of the given component, without the package path.
func ComponentTypeName(component interface{}) string {
	if component == nil {
		return "<nil>"
	}

	t := reflect.TypeOf(component)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if t.Name() == "" {
		return fmt.Sprintf("%T", component)
	}

	return t.Name()
}

// IsNilComponent reports whether the component is nil, including a typed nil pointer stored in the interface.
func IsNilComponent(component TemporalComponent) bool {
	if component == nil {
		return true
	}

	v := reflect.ValueOf(component)
	switch v.Kind() {
	case reflect.Pointer, reflect.Func, reflect.Map, reflect.Slice, reflect.Chan, reflect.Interface:
		return v.IsNil()
	default:
		return false
	}
}
