package sensor

import (
	"time"

	"github.com/sweeney/pirage/internal/garage"
)

// line tracks the debounce state of one input.
type line struct {
	// Current stable (debounced) level
	stable bool
	// Level waiting out the debounce period
	pending      bool
	pendingSince time.Time
	hasPending   bool
	// Whether a stable level has been established
	baselined bool
}

// Debouncer turns raw samples into a stable snapshot. A level must be held
// for the whole debounce period before it replaces the stable one. With a zero
// period every sample is stable immediately.
//
// Time is passed in by the caller; Debouncer never reads the clock.
type Debouncer struct {
	period time.Duration
	door   line
	motion line
}

// NewDebouncer creates a debouncer with the given period.
func NewDebouncer(period time.Duration) *Debouncer {
	if period < 0 {
		period = 0
	}
	return &Debouncer{period: period}
}

// Process feeds one sample and returns the stable snapshot. ok is false until
// both inputs have a baseline.
func (d *Debouncer) Process(motion, door bool, now time.Time) (snap garage.Snapshot, ok bool) {
	d.step(&d.door, door, now)
	d.step(&d.motion, motion, now)
	if !d.door.baselined || !d.motion.baselined {
		return garage.Snapshot{}, false
	}
	return garage.Snapshot{MotionActive: d.motion.stable, DoorOpen: d.door.stable}, true
}

// Baselined reports whether both inputs have a stable level.
func (d *Debouncer) Baselined() bool {
	return d.door.baselined && d.motion.baselined
}

func (d *Debouncer) step(l *line, level bool, now time.Time) {
	if l.baselined && level == l.stable {
		// Back to the stable level, drop any bounce.
		l.hasPending = false
		return
	}

	if !l.hasPending || l.pending != level {
		l.pending = level
		l.pendingSince = now
		l.hasPending = true
	}

	if now.Sub(l.pendingSince) >= d.period {
		l.stable = level
		l.baselined = true
		l.hasPending = false
	}
}
