package domain

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
)

const (
	CategoryGeneral      = "General"
	CategoryRegistration = "Registration"
	CategorySimulation   = "Simulation"
	CategoryError        = "Error"
	CategoryDelay        = "Delay"
)

// Event is an immutable record of something that happened during a simulation.
//
// Every event is stamped twice: with the virtual time at which it occurred and with the wall-clock time
// at which it was recorded.
type Event struct {
	Id               string      `json:"id"`
	Name             string      `json:"name"`
	Category         string      `json:"category"`
	VirtualTimestamp time.Time   `json:"virtual_timestamp"`
	RealTimestamp    time.Time   `json:"real_timestamp"`
	Data             interface{} `json:"data,omitempty"`
}

func (e Event) String() string {
	out, err := json.Marshal(e)
	if err != nil {
		// The payload is opaque and may not be serializable.
		return fmt.Sprintf("Event[id=%s, name=%s, category=%s, virtual=%v, real=%v, data=%+v]",
			e.Id, e.Name, e.Category, e.VirtualTimestamp, e.RealTimestamp, e.Data)
	}

	return string(out)
}

// ComponentErrorPayload is attached to "Error" events created when a TemporalComponent fails.
type ComponentErrorPayload struct {
	ComponentType  string `json:"component_type"`
	RegistrationId string `json:"registration_id"`
	Message        string `json:"message"`
}

// RegistrationPayload is attached to "Registration" events.
// The component itself is carried along for in-process consumers but is never serialized.
type RegistrationPayload struct {
	ComponentType  string            `json:"component_type"`
	RegistrationId string            `json:"registration_id"`
	Component      TemporalComponent `json:"-"`
}
