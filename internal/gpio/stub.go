//go:build !linux

package gpio

import (
	"errors"
	"log/slog"
	"time"
)

var errUnsupported = errors.New("gpio: not supported on this platform (requires Linux)")

// RealReader is not available on non-Linux platforms.
type RealReader struct{}

// NewRealReader returns an error on non-Linux platforms.
func NewRealReader(chipName string, pinPIR, pinMag int) (*RealReader, error) {
	return nil, errUnsupported
}

// Read is not implemented on non-Linux platforms.
func (r *RealReader) Read() (bool, bool, error) {
	return false, false, errUnsupported
}

// Close is not implemented on non-Linux platforms.
func (r *RealReader) Close() error {
	return nil
}

// RealRelay is not available on non-Linux platforms.
type RealRelay struct{}

// NewRealRelay returns an error on non-Linux platforms.
func NewRealRelay(chipName string, pin int, pulse time.Duration, logger *slog.Logger) (*RealRelay, error) {
	return nil, errUnsupported
}

// Toggle does nothing on non-Linux platforms.
func (r *RealRelay) Toggle() {}

// Close does nothing on non-Linux platforms.
func (r *RealRelay) Close() error {
	return nil
}
