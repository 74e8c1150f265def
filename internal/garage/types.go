// Package garage holds the door state machine: it turns sensor snapshots into
// open/close/notify decisions using cancellable delayed actions.
//
// The controller never renders text itself. It emits typed Events that sinks
// format with Event.Message.
package garage

import (
	"fmt"
	"time"
)

// Snapshot is one reading of the garage sensors.
type Snapshot struct {
	MotionActive bool
	DoorOpen     bool
}

// EventKind identifies a controller event.
type EventKind string

const (
	EventDoorOpen          EventKind = "DOOR_OPEN"
	EventDoorClosed        EventKind = "DOOR_CLOSED"
	EventMotion            EventKind = "MOTION"
	EventCloseWarning      EventKind = "CLOSE_WARNING"
	EventCloseDelayed      EventKind = "CLOSE_DELAYED"
	EventAutoClose         EventKind = "AUTO_CLOSE"
	EventAutoCloseOnClosed EventKind = "AUTO_CLOSE_ON_CLOSED_DOOR"
	EventStillOpen         EventKind = "STILL_OPEN"
	EventAutoCloseRearmed  EventKind = "AUTO_CLOSE_REARMED"
)

// Event is a notification emitted by the Controller.
type Event struct {
	Kind EventKind
	Time time.Time

	// DoorOpen and Motion carry the sensor state for door/motion events.
	DoorOpen bool
	Motion   bool

	// In is the time left before an auto-close (CLOSE_WARNING).
	In time.Duration

	// OpenFor is how long the door has been open (STILL_OPEN).
	OpenFor time.Duration
}

// Message renders the event as human readable text.
func (e Event) Message() string {
	switch e.Kind {
	case EventDoorOpen:
		return "door open!"
	case EventDoorClosed:
		return "door closed!"
	case EventMotion:
		return "motion!"
	case EventCloseWarning:
		if e.In < time.Minute {
			return fmt.Sprintf("closing garage in %d seconds!", int(e.In/time.Second))
		}
		return fmt.Sprintf("closing garage in %g minutes!", e.In.Minutes())
	case EventCloseDelayed:
		return "garage close delayed by movement!"
	case EventAutoClose:
		return "auto-closing garage door"
	case EventAutoCloseOnClosed:
		return "got auto-close on closed door!"
	case EventStillOpen:
		return fmt.Sprintf("Garage is still open after %d minutes!", int(e.OpenFor/time.Minute))
	case EventAutoCloseRearmed:
		return "starting up auto-close from unlock"
	}
	return string(e.Kind)
}

// History is the persisted subset of controller state.
type History struct {
	LastDoorChange *time.Time
	LastMotion     *time.Time
}

// Status is a point-in-time copy of the controller state.
type Status struct {
	Now            time.Time
	DoorOpen       bool
	MotionActive   bool
	LastDoorChange *time.Time
	LastMotion     *time.Time
	Locked         bool
}

// Config holds the controller delays.
type Config struct {
	// CloseDelay is how long the door may stay open before auto-close.
	CloseDelay time.Duration
	// CloseWarning is how long before the close a warning is sent.
	CloseWarning time.Duration
	// NotifyDelay is the interval between "still open" notifications.
	NotifyDelay time.Duration
	// MotionDelay is how long the garage must be quiet before closing.
	MotionDelay time.Duration
}

// DefaultConfig returns the standard delays.
func DefaultConfig() Config {
	return Config{
		CloseDelay:   15 * time.Minute,
		CloseWarning: 5 * time.Minute,
		NotifyDelay:  6 * time.Minute,
		MotionDelay:  5 * time.Minute,
	}
}

// Relay presses the door opener button. Toggle must not block.
type Relay interface {
	Toggle()
}

// Notifier receives controller events. Notify must not block.
type Notifier interface {
	Notify(Event)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Event)

// Notify implements Notifier.
func (f NotifierFunc) Notify(e Event) { f(e) }
