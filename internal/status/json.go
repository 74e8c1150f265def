package status

import (
	"encoding/json"
	"time"
)

// EventJSON is the top-level JSON envelope for lifecycle status events.
type EventJSON struct {
	Status EventInner `json:"status"`
}

// EventInner contains the status event details.
type EventInner struct {
	Event         string `json:"event"`
	Reason        string `json:"reason,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	StartTime     string `json:"start_time"`
	Garage        Packet `json:"garage"`
}

// FormatStatusEvent returns the JSON payload for an MQTT lifecycle event
// (STARTUP, SHUTDOWN) carrying a full status packet.
func FormatStatusEvent(p Packet, started, now time.Time, event, reason string) []byte {
	data, _ := json.Marshal(EventJSON{Status: EventInner{
		Event:         event,
		Reason:        reason,
		UptimeSeconds: int64(now.Sub(started).Truncate(time.Second).Seconds()),
		StartTime:     started.UTC().Format(time.RFC3339),
		Garage:        p,
	}})
	return data
}
