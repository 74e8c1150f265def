// Package status builds the status packet pushed to browsers and renders it
// in the event-stream wire format.
package status

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/sweeney/pirage/internal/garage"
)

// Preamble is written once at the start of an event stream. It asks the
// browser to wait 10 seconds before reconnecting.
const Preamble = "retry: 10000\n\n"

// Times holds the packet's time fields.
type Times struct {
	Now     string `json:"now"`
	LastPIR string `json:"last_pir"`
	LastMag string `json:"last_mag"`
}

// Packet is the status view sent to clients.
// It is a value type and safe to share once built.
type Packet struct {
	Times         Times    `json:"times"`
	PIR           bool     `json:"pir"`
	Mag           bool     `json:"mag"`
	Temp          *float64 `json:"temp"`
	Locked        bool     `json:"locked"`
	PIREnabled    bool     `json:"pir_enabled"`
	NotifyEnabled bool     `json:"notify_enabled"`
}

// Flags are the feature switches reported alongside controller state.
type Flags struct {
	PIREnabled    bool
	NotifyEnabled bool
}

// Build derives a packet from a controller status. temp is nil when the
// temperature could not be read.
func Build(st garage.Status, flags Flags, temp *float64) Packet {
	return Packet{
		Times: Times{
			Now:     st.Now.UTC().Format(time.RFC3339),
			LastPIR: FormatElapsed(st.Now, st.LastMotion),
			LastMag: FormatElapsed(st.Now, st.LastDoorChange),
		},
		PIR:           st.MotionActive,
		Mag:           st.DoorOpen,
		Temp:          temp,
		Locked:        st.Locked,
		PIREnabled:    flags.PIREnabled,
		NotifyEnabled: flags.NotifyEnabled,
	}
}

// FormatElapsed renders the time since at as "<n> sec" under a minute and
// "<n> min" otherwise. A nil time renders as "never".
func FormatElapsed(now time.Time, at *time.Time) string {
	if at == nil {
		return "never"
	}
	secs := int64(now.Sub(*at) / time.Second)
	if secs < 0 {
		secs = 0
	}
	if secs < 60 {
		return fmt.Sprintf("%d sec", secs)
	}
	return fmt.Sprintf("%d min", secs/60)
}

// Frame renders p as one event-stream frame: "data: <json>\n\n".
func Frame(p Packet) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal packet: %w", err)
	}
	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)
	return frame, nil
}

// JSON returns the indented packet for the status endpoint.
func JSON(p Packet) []byte {
	data, _ := json.MarshalIndent(p, "", "  ")
	return data
}
