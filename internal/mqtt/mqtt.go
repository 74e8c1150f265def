// Package mqtt publishes garage events to an MQTT broker, with a fake for
// testing.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/pirage/internal/garage"
)

// Default topics.
const (
	Topic       = "home/garage/pirage/events"
	TopicSystem = "home/garage/pirage/system"
)

// Publisher publishes events to MQTT.
type Publisher interface {
	// Publish sends a garage event to the broker.
	// Returns error if publishing fails (should not crash the process).
	Publish(event garage.Event) error

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// SystemEvent represents a system lifecycle event (STARTUP, SHUTDOWN, RECONNECTED).
type SystemEvent struct {
	Timestamp  time.Time
	Event      string
	Reason     string // e.g. "SIGTERM" (shutdown only)
	RawPayload []byte // Pre-formatted JSON payload; if set, FormatSystemPayload returns it directly
	Retained   bool
}

// Payload is the MQTT message for a garage event.
type Payload struct {
	Garage GaragePayload `json:"garage"`
}

// GaragePayload contains the event details.
type GaragePayload struct {
	Timestamp      string `json:"timestamp"`
	Event          string `json:"event"`
	Message        string `json:"message"`
	Door           string `json:"door"`
	Motion         bool   `json:"motion"`
	InSeconds      int64  `json:"in_seconds,omitempty"`
	OpenForSeconds int64  `json:"open_for_seconds,omitempty"`
}

// FormatPayload creates the JSON payload for a garage event.
func FormatPayload(event garage.Event) ([]byte, error) {
	door := "CLOSED"
	if event.DoorOpen {
		door = "OPEN"
	}
	payload := Payload{
		Garage: GaragePayload{
			Timestamp:      event.Time.UTC().Format(time.RFC3339),
			Event:          string(event.Kind),
			Message:        event.Message(),
			Door:           door,
			Motion:         event.Motion,
			InSeconds:      int64(event.In / time.Second),
			OpenForSeconds: int64(event.OpenFor / time.Second),
		},
	}
	return json.Marshal(payload)
}

// SystemPayload is the MQTT message for a system event.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly.
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	payload := SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	}
	return json.Marshal(payload)
}
