// Package notify delivers controller events to sinks. Events are queued
// without blocking the controller and rendered to text only by the sinks.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sweeney/pirage/internal/channel"
	"github.com/sweeney/pirage/internal/garage"
	"github.com/sweeney/pirage/internal/metrics"
)

// Sink receives events. Delivery is best effort; errors are logged.
type Sink interface {
	Send(garage.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(garage.Event) error

// Send implements Sink.
func (f SinkFunc) Send(e garage.Event) error { return f(e) }

type namedSink struct {
	name string
	sink Sink
	push bool
}

// Dispatcher implements garage.Notifier. Notify queues the event; Run
// delivers queued events to every sink in order.
//
// Sinks added with AddSink always receive events. Sinks added with
// AddPushSink only receive them while notifications are enabled.
type Dispatcher struct {
	queue *channel.Buffered[garage.Event]
	log   *slog.Logger

	mu      sync.RWMutex
	sinks   []namedSink
	enabled bool
	running bool
	runDone chan struct{}
}

// NewDispatcher creates a dispatcher with notifications enabled.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		queue:   channel.NewBuffered[garage.Event](0),
		log:     logger.With("component", "notify"),
		enabled: true,
		runDone: make(chan struct{}),
	}
}

// AddSink registers a sink that receives every event.
func (d *Dispatcher) AddSink(name string, s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, namedSink{name: name, sink: s})
}

// AddPushSink registers a sink that only receives events while
// notifications are enabled.
func (d *Dispatcher) AddPushSink(name string, s Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, namedSink{name: name, sink: s, push: true})
}

// SetEnabled turns push notifications on or off.
func (d *Dispatcher) SetEnabled(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enabled = enabled
}

// Enabled reports whether push notifications are on.
func (d *Dispatcher) Enabled() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.enabled
}

// Notify implements garage.Notifier. It never blocks; events arriving after
// Close are dropped.
func (d *Dispatcher) Notify(e garage.Event) {
	metrics.RecordEvent(string(e.Kind))
	if err := d.queue.Offer(e); err != nil {
		d.log.Warn("event dropped", "event", string(e.Kind), "error", err)
	}
}

// Run delivers queued events until the queue is closed and drained, or ctx
// is done. It must be called at most once.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	d.running = true
	d.mu.Unlock()
	defer close(d.runDone)

	for e := range d.queue.All(ctx) {
		d.deliver(e)
	}
	return nil
}

func (d *Dispatcher) deliver(e garage.Event) {
	d.mu.RLock()
	sinks := d.sinks
	enabled := d.enabled
	d.mu.RUnlock()

	for _, s := range sinks {
		if s.push && !enabled {
			continue
		}
		if err := s.sink.Send(e); err != nil {
			// Don't let one sink stop the others.
			metrics.RecordSinkError(s.name)
			d.log.Warn("sink failed", "sink", s.name, "event", string(e.Kind), "error", err)
		}
	}
}

// Close stops accepting events and waits until Run has delivered the ones
// already queued.
func (d *Dispatcher) Close(ctx context.Context) error {
	d.queue.Close()
	if err := d.queue.Join(ctx); err != nil {
		return fmt.Errorf("drain notifications: %w", err)
	}

	// The queue is empty once Run has taken the last event, which may still
	// be in delivery.
	d.mu.RLock()
	running := d.running
	d.mu.RUnlock()
	if !running {
		return nil
	}
	select {
	case <-d.runDone:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain notifications: %w", ctx.Err())
	}
}

// Pending returns the number of queued events.
func (d *Dispatcher) Pending() int {
	return d.queue.Len()
}

// LogSink writes every event to a logger.
type LogSink struct {
	Logger *slog.Logger
}

// Send implements Sink.
func (s LogSink) Send(e garage.Event) error {
	s.Logger.Info(e.Message(), "event", string(e.Kind), "time", e.Time)
	return nil
}
