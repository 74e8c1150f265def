//go:build linux

package gpio

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/warthog618/go-gpiocdev"
)

// RealReader reads the sensors from actual hardware using the Linux GPIO
// character device.
type RealReader struct {
	chip   *gpiocdev.Chip
	pirPin *gpiocdev.Line
	magPin *gpiocdev.Line
}

// NewRealReader creates a sensor reader for actual Raspberry Pi hardware.
func NewRealReader(chipName string, pinPIR, pinMag int) (*RealReader, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	// The PIR module drives its output; no bias needed.
	pirLine, err := chip.RequestLine(pinPIR, gpiocdev.AsInput)
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request PIR pin %d: %w", pinPIR, err)
	}

	// The reed switch closes to ground when the magnet is near, so it needs
	// the internal pull-up: high means the door is open.
	magLine, err := chip.RequestLine(pinMag, gpiocdev.AsInput, gpiocdev.WithPullUp)
	if err != nil {
		pirLine.Close()
		chip.Close()
		return nil, fmt.Errorf("request mag pin %d: %w", pinMag, err)
	}

	return &RealReader{
		chip:   chip,
		pirPin: pirLine,
		magPin: magLine,
	}, nil
}

// Read returns the PIR and door switch states. Both are active high.
func (r *RealReader) Read() (bool, bool, error) {
	pirRaw, err := r.pirPin.Value()
	if err != nil {
		return false, false, fmt.Errorf("read PIR pin: %w", err)
	}

	magRaw, err := r.magPin.Value()
	if err != nil {
		return false, false, fmt.Errorf("read mag pin: %w", err)
	}

	return pirRaw == 1, magRaw == 1, nil
}

// Close releases GPIO resources.
func (r *RealReader) Close() error {
	var errs []error
	if r.pirPin != nil {
		if err := r.pirPin.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close PIR pin: %w", err))
		}
	}
	if r.magPin != nil {
		if err := r.magPin.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close mag pin: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	return errors.Join(errs...)
}

// RealRelay drives the door opener relay. The relay module activates when its
// input is low, so the line is requested high to avoid a click at startup.
type RealRelay struct {
	chip *gpiocdev.Chip
	line *gpiocdev.Line
	*pulser
}

// NewRealRelay requests the relay line as an output held high.
func NewRealRelay(chipName string, pin int, pulse time.Duration, logger *slog.Logger) (*RealRelay, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}
	line, err := chip.RequestLine(pin, gpiocdev.AsOutput(1))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request relay pin %d: %w", pin, err)
	}
	return &RealRelay{
		chip:   chip,
		line:   line,
		pulser: newPulser(line.SetValue, pulse, logger),
	}, nil
}

// Close waits for an in-flight press, then releases the line high.
func (r *RealRelay) Close() error {
	r.wait()
	var errs []error
	if err := r.line.SetValue(1); err != nil {
		errs = append(errs, fmt.Errorf("release relay pin: %w", err))
	}
	if err := r.line.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close relay pin: %w", err))
	}
	if err := r.chip.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close chip: %w", err))
	}
	return errors.Join(errs...)
}
