// Package sensor polls the garage sensors and reports changes to its
// subscribers.
package sensor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/sweeney/pirage/internal/garage"
	"github.com/sweeney/pirage/internal/gpio"
	"github.com/sweeney/pirage/internal/metrics"
)

// Subscriber receives a snapshot after every change.
type Subscriber func(garage.Snapshot)

// Monitor polls a gpio.Reader and calls its subscribers, in registration
// order, whenever the snapshot changes. Subscribers are only ever called from
// the Run goroutine, never concurrently.
type Monitor struct {
	reader gpio.Reader
	poll   time.Duration
	clock  clock.WithTicker
	log    *slog.Logger

	mu         sync.Mutex
	subs       []Subscriber
	pirEnabled bool

	// Only touched by the Run goroutine.
	debounce *Debouncer
	last     garage.Snapshot
	started  bool
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithDebounce requires a level to hold for d before it is reported.
func WithDebounce(d time.Duration) Option {
	return func(m *Monitor) {
		m.debounce = NewDebouncer(d)
	}
}

// WithClock sets the time source for polling and debounce timestamps.
func WithClock(c clock.WithTicker) Option {
	return func(m *Monitor) {
		if c != nil {
			m.clock = c
		}
	}
}

// NewMonitor creates a monitor that reads every poll interval.
func NewMonitor(reader gpio.Reader, poll time.Duration, logger *slog.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		reader:     reader,
		poll:       poll,
		clock:      clock.RealClock{},
		log:        logger.With("component", "sensor"),
		pirEnabled: true,
		debounce:   NewDebouncer(0),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a subscriber. Subscribers registered after Run has started
// see the next change.
func (m *Monitor) Register(sub Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, sub)
}

// SetPIREnabled turns motion sensing on or off. While off, motion always
// reads as inactive.
func (m *Monitor) SetPIREnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pirEnabled = enabled
}

// PIREnabled reports whether motion sensing is on.
func (m *Monitor) PIREnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pirEnabled
}

// Run polls until ctx is done. The first stable reading is always
// delivered.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := m.clock.NewTicker(m.poll)
	defer ticker.Stop()

	m.step(m.clock.Now())
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C():
			m.step(now)
		}
	}
}

// step takes one reading and notifies subscribers if the debounced snapshot
// changed. A failed read keeps the previous snapshot.
func (m *Monitor) step(now time.Time) {
	pir, mag, err := m.reader.Read()
	if err != nil {
		metrics.RecordSensorReadError()
		m.log.Warn("sensor read failed", "error", err)
		return
	}

	m.mu.Lock()
	if !m.pirEnabled {
		pir = false
	}
	subs := append([]Subscriber(nil), m.subs...)
	m.mu.Unlock()

	snap, ok := m.debounce.Process(pir, mag, now)
	if !ok || (m.started && snap == m.last) {
		return
	}
	m.started = true
	m.last = snap
	metrics.SetSensorState(snap.DoorOpen, snap.MotionActive)

	m.log.Debug("sensor change", "door_open", snap.DoorOpen, "motion", snap.MotionActive)
	for _, sub := range subs {
		sub(snap)
	}
}
