// Package gpio provides sensor reading and relay control with hardware
// abstraction. The real implementation uses the Linux GPIO character device.
// The fake implementations allow testing without hardware.
package gpio

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sweeney/pirage/internal/metrics"
)

// Reader reads the garage sensors.
type Reader interface {
	// Read returns the PIR and door switch states.
	// pir is true while motion is detected; mag is true while the door is
	// open (magnet away from the switch).
	Read() (pir bool, mag bool, err error)

	// Close releases GPIO resources.
	Close() error
}

// Pin definitions (BCM numbering)
const (
	DefaultPinPIR   = 18
	DefaultPinMag   = 23
	DefaultPinRelay = 24
	DefaultChip     = "gpiochip0"
)

// DefaultPulse is how long the relay is held to simulate a button press.
const DefaultPulse = 500 * time.Millisecond

// pulser presses an active-low relay: the line is driven low for width and
// then released. Presses do not overlap; a Toggle during a press is ignored.
type pulser struct {
	set   func(value int) error
	width time.Duration
	sleep func(time.Duration)
	log   *slog.Logger

	busy atomic.Bool
	wg   sync.WaitGroup
}

func newPulser(set func(int) error, width time.Duration, logger *slog.Logger) *pulser {
	if logger == nil {
		logger = slog.Default()
	}
	return &pulser{
		set:   set,
		width: width,
		sleep: time.Sleep,
		log:   logger.With("component", "relay"),
	}
}

// Toggle starts a press and returns at once.
func (p *pulser) Toggle() {
	if !p.busy.CompareAndSwap(false, true) {
		p.log.Warn("relay press already in progress, ignoring toggle")
		return
	}
	metrics.RecordRelayToggle()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.busy.Store(false)

		if err := p.set(0); err != nil {
			p.log.Error("relay press failed", "error", err)
			return
		}
		p.sleep(p.width)
		if err := p.set(1); err != nil {
			p.log.Error("relay release failed", "error", err)
		}
	}()
}

// wait blocks until an in-flight press has finished.
func (p *pulser) wait() {
	p.wg.Wait()
}
