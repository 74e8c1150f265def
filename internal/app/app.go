// Package app wires the garage controller to its sensors, sinks and live
// status subscribers.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/sweeney/pirage/internal/channel"
	"github.com/sweeney/pirage/internal/fanout"
	"github.com/sweeney/pirage/internal/garage"
	"github.com/sweeney/pirage/internal/gpio"
	"github.com/sweeney/pirage/internal/notify"
	"github.com/sweeney/pirage/internal/sensor"
	"github.com/sweeney/pirage/internal/status"
)

const shutdownTimeout = 10 * time.Second

// HistoryStore persists controller history across restarts.
type HistoryStore interface {
	Load(ctx context.Context) (garage.History, error)
	Save(ctx context.Context, h garage.History) error
}

// TempReader returns the current temperature, or nil if unknown.
type TempReader interface {
	Read() *float64
}

// Sink is a named notification sink. Push sinks only receive events while
// notifications are enabled.
type Sink struct {
	Name string
	Sink notify.Sink
	Push bool
}

// Options configure New. Reader and Relay are required.
type Options struct {
	Garage garage.Config
	Reader gpio.Reader
	Relay  garage.Relay
	Sinks  []Sink

	Poll           time.Duration
	Debounce       time.Duration
	StatusPush     time.Duration
	StreamKind     channel.Kind
	StreamCapacity int

	Thermal TempReader
	Store   HistoryStore
	Clock   clock.WithTicker
	Logger  *slog.Logger
}

// App owns the running system. It is built once by main and handed to the
// web layer.
type App struct {
	controller  *garage.Controller
	monitor     *sensor.Monitor
	broadcaster *fanout.Broadcaster[status.Packet]
	dispatcher  *notify.Dispatcher

	thermal    TempReader
	store      HistoryStore
	clock      clock.WithTicker
	statusPush time.Duration
	started    time.Time
	log        *slog.Logger
}

// New builds the application. History is loaded from opts.Store when set; a
// load failure is logged and the controller starts without history.
func New(ctx context.Context, opts Options) (*App, error) {
	if opts.Reader == nil {
		return nil, fmt.Errorf("app: sensor reader is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Poll <= 0 {
		opts.Poll = 100 * time.Millisecond
	}
	if opts.StatusPush <= 0 {
		opts.StatusPush = time.Second
	}
	if opts.StreamKind == "" {
		opts.StreamKind = channel.KindConflated
	}

	broadcaster, err := fanout.New[status.Packet](opts.StreamKind, opts.StreamCapacity)
	if err != nil {
		return nil, fmt.Errorf("app: stream channel: %w", err)
	}

	monitor := sensor.NewMonitor(opts.Reader, opts.Poll, opts.Logger,
		sensor.WithDebounce(opts.Debounce), sensor.WithClock(opts.Clock))

	a := &App{
		monitor:     monitor,
		broadcaster: broadcaster,
		dispatcher:  notify.NewDispatcher(opts.Logger),
		thermal:     opts.Thermal,
		store:       opts.Store,
		clock:       opts.Clock,
		statusPush:  opts.StatusPush,
		started:     opts.Clock.Now(),
		log:         opts.Logger.With("component", "app"),
	}
	for _, s := range opts.Sinks {
		if s.Push {
			a.dispatcher.AddPushSink(s.Name, s.Sink)
		} else {
			a.dispatcher.AddSink(s.Name, s.Sink)
		}
	}

	var history garage.History
	if a.store != nil {
		h, err := a.store.Load(ctx)
		if err != nil {
			a.log.Warn("failed to load history, starting empty", "error", err)
		} else {
			history = h
		}
	}

	a.controller = garage.NewController(opts.Garage, opts.Relay, a.dispatcher,
		garage.WithClock(opts.Clock),
		garage.WithLogger(opts.Logger),
		garage.WithHistory(history),
	)

	// The controller must see a change before the status built from it.
	a.monitor.Register(a.controller.Update)
	a.monitor.Register(func(garage.Snapshot) {
		a.publish()
		a.saveHistory(context.Background())
	})
	return a, nil
}

// Status returns the current status packet.
func (a *App) Status() status.Packet {
	var temp *float64
	if a.thermal != nil {
		temp = a.thermal.Read()
	}
	return status.Build(a.controller.Status(), status.Flags{
		PIREnabled:    a.monitor.PIREnabled(),
		NotifyEnabled: a.dispatcher.Enabled(),
	}, temp)
}

// Started returns the time the app was built.
func (a *App) Started() time.Time {
	return a.started
}

// Now returns the current time from the app clock.
func (a *App) Now() time.Time {
	return a.clock.Now()
}

// ToggleDoor presses the door button.
func (a *App) ToggleDoor() {
	a.controller.ToggleDoor()
}

// SetLocked locks or unlocks auto-close and returns the resulting state.
func (a *App) SetLocked(locked bool) bool {
	a.log.Info("set lock", "locked", locked)
	a.controller.Lock(locked)
	a.publish()
	return a.controller.Locked()
}

// SetPIREnabled turns motion sensing on or off and returns the resulting
// state.
func (a *App) SetPIREnabled(enabled bool) bool {
	a.log.Info("set pir", "enabled", enabled)
	a.monitor.SetPIREnabled(enabled)
	a.publish()
	return a.monitor.PIREnabled()
}

// SetNotifyEnabled turns push notifications on or off and returns the
// resulting state.
func (a *App) SetNotifyEnabled(enabled bool) bool {
	a.log.Info("set notify", "enabled", enabled)
	a.dispatcher.SetEnabled(enabled)
	a.publish()
	return a.dispatcher.Enabled()
}

// Subscribe registers a live status subscriber.
func (a *App) Subscribe() *fanout.Subscription[status.Packet] {
	sub := a.broadcaster.Subscribe()
	a.log.Info("add stream client", "id", sub.ID)
	return sub
}

// Unsubscribe removes a live status subscriber.
func (a *App) Unsubscribe(id string) {
	a.log.Info("remove stream client", "id", id)
	a.broadcaster.Unsubscribe(id)
}

// Subscribers returns the number of live status subscribers.
func (a *App) Subscribers() int {
	return a.broadcaster.Len()
}

// Run polls the sensors, delivers notifications and pushes status until ctx
// is done, then shuts down: timers are stopped, history saved, subscribers
// closed and queued notifications delivered.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.monitor.Run(gctx)
	})
	g.Go(func() error {
		// Runs until Close has drained the queue.
		return a.dispatcher.Run(context.Background())
	})
	g.Go(func() error {
		a.pushLoop(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	return g.Wait()
}

func (a *App) pushLoop(ctx context.Context) {
	ticker := a.clock.NewTicker(a.statusPush)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			a.publish()
		}
	}
}

func (a *App) publish() {
	a.broadcaster.Publish(a.Status())
}

func (a *App) saveHistory(ctx context.Context) {
	if a.store == nil {
		return
	}
	if err := a.store.Save(ctx, a.controller.History()); err != nil {
		a.log.Warn("failed to save history", "error", err)
	}
}

func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	a.controller.Stop()
	a.saveHistory(ctx)
	a.broadcaster.Close()
	if err := a.dispatcher.Close(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	a.log.Info("stopped")
	return nil
}
