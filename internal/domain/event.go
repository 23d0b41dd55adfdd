package domain

import "time"

// Event types published on the event bus.
const (
	EventTypeXnumonLog       = "xnumon_log"
	EventTypeMachineSnapshot = "inventory_machine_snapshot"
)

// EventRequest describes the agent request an event was received with.
type EventRequest struct {
	UserAgent string `json:"user_agent,omitempty"`
	IP        string `json:"ip,omitempty"`
}

// EventMetadata is the envelope shared by every event.
type EventMetadata struct {
	ID                  string        `json:"id"`
	Index               int           `json:"index"`
	Type                string        `json:"type"`
	CreatedAt           time.Time     `json:"created_at"`
	MachineSerialNumber string        `json:"machine_serial_number,omitempty"`
	Request             *EventRequest `json:"request,omitempty"`
	Tags                []string      `json:"tags,omitempty"`
}

// Event is a normalized event ready for the event bus.
type Event struct {
	Metadata EventMetadata  `json:"_zentral"`
	Payload  map[string]any `json:"payload"`
}
