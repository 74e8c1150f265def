package garage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"
)

// Controller owns the garage state and its close and notify timers.
//
// State is only mutated by Update, Lock and the controller's own timer
// goroutines, all under one mutex. Every timer side effect re-checks the
// timer's context under that mutex, so once a timer has been cancelled
// nothing it scheduled will fire.
type Controller struct {
	cfg      Config
	relay    Relay
	notifier Notifier
	clock    clock.Clock
	log      *slog.Logger

	mu             sync.Mutex
	doorOpen       bool
	motion         bool
	locked         bool
	lastDoorChange *time.Time
	lastMotion     *time.Time
	closeTimer     timerSlot
	notifyTimer    timerSlot
	stopped        bool

	wg sync.WaitGroup
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the time source. Tests pass a fake clock.
func WithClock(c clock.Clock) Option {
	return func(ctl *Controller) { ctl.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(ctl *Controller) { ctl.log = l }
}

// WithHistory seeds the last change times, usually from the store.
func WithHistory(h History) Option {
	return func(ctl *Controller) {
		ctl.lastDoorChange = copyTime(h.LastDoorChange)
		ctl.lastMotion = copyTime(h.LastMotion)
	}
}

// NewController creates a controller with the door closed and no motion.
// A nil relay or notifier is replaced with a no-op.
func NewController(cfg Config, relay Relay, notifier Notifier, opts ...Option) *Controller {
	c := &Controller{
		cfg:      cfg,
		relay:    relay,
		notifier: notifier,
		clock:    clock.RealClock{},
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.relay == nil {
		c.relay = nopRelay{}
	}
	if c.notifier == nil {
		c.notifier = NotifierFunc(func(Event) {})
	}
	c.log = c.log.With("component", "garage")
	return c
}

// Update applies a sensor snapshot.
func (c *Controller) Update(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if s.DoorOpen != c.doorOpen {
		c.lastDoorChange = copyTime(&now)
		c.notifyTimer.stop()
		if s.DoorOpen {
			c.emitLocked(Event{Kind: EventDoorOpen, DoorOpen: true, Motion: s.MotionActive})
			c.closeTimer.stop()
			if !c.locked {
				c.startCloseLocked(c.cfg.CloseDelay)
			}
			c.startLocked(&c.notifyTimer, "notify", func(ctx context.Context, start time.Time) {
				c.notifyAfter(ctx, start, c.cfg.NotifyDelay, true)
			})
		} else {
			c.emitLocked(Event{Kind: EventDoorClosed, Motion: s.MotionActive})
			c.closeTimer.stop()
		}
	}

	if s.MotionActive && !c.motion {
		c.emitLocked(Event{Kind: EventMotion, DoorOpen: s.DoorOpen, Motion: true})
	}

	c.motion = s.MotionActive
	c.doorOpen = s.DoorOpen
	if c.motion {
		c.lastMotion = copyTime(&now)
	}
}

// Lock enables or disables auto-close. Locking cancels a pending close.
// Unlocking while the door is open and no close is pending starts a fresh
// countdown.
func (c *Controller) Lock(locked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.locked = locked
	if locked {
		c.closeTimer.stop()
		return
	}
	if c.doorOpen && !c.closeTimer.live() && !c.stopped {
		c.emitLocked(Event{Kind: EventAutoCloseRearmed, DoorOpen: true, Motion: c.motion})
		c.startCloseLocked(c.cfg.CloseDelay)
	}
}

// Locked reports whether auto-close is disabled.
func (c *Controller) Locked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locked
}

// ToggleDoor presses the door button. It does not change controller state;
// the door sensor reports the outcome.
func (c *Controller) ToggleDoor() {
	c.log.Info("toggling door", "reason", "manual")
	c.relay.Toggle()
}

// Status returns a copy of the current state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Now:            c.clock.Now(),
		DoorOpen:       c.doorOpen,
		MotionActive:   c.motion,
		LastDoorChange: copyTime(c.lastDoorChange),
		LastMotion:     copyTime(c.lastMotion),
		Locked:         c.locked,
	}
}

// History returns the persisted subset of the state.
func (c *Controller) History() History {
	c.mu.Lock()
	defer c.mu.Unlock()
	return History{
		LastDoorChange: copyTime(c.lastDoorChange),
		LastMotion:     copyTime(c.lastMotion),
	}
}

// Stop cancels both timers and waits for their goroutines to exit. Updates
// after Stop still change state but start no timers.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.closeTimer.stop()
	c.notifyTimer.stop()
	c.mu.Unlock()
	c.wg.Wait()
}

func (c *Controller) startCloseLocked(d time.Duration) {
	c.startLocked(&c.closeTimer, "close", func(ctx context.Context, start time.Time) {
		c.closeAfter(ctx, start, d)
	})
}

// closeAfter closes the door d after start. A warning goes out CloseWarning
// before the close, and the close is pushed back while there has been motion
// within MotionDelay.
func (c *Controller) closeAfter(ctx context.Context, start time.Time, d time.Duration) {
	closeAt := start.Add(d)
	warn := c.cfg.CloseWarning
	if d > warn {
		if !c.sleepUntil(ctx, closeAt.Add(-warn)) {
			return
		}
	} else {
		warn = d
	}
	if !c.withLock(ctx, func() {
		c.emitLocked(Event{Kind: EventCloseWarning, DoorOpen: c.doorOpen, In: warn})
	}) {
		return
	}

	if !c.sleepUntil(ctx, closeAt) {
		return
	}

	for {
		var quietAt time.Time
		delayed := false
		ok := c.withLock(ctx, func() {
			now := c.clock.Now()
			if c.lastMotion != nil && now.Sub(*c.lastMotion) < c.cfg.MotionDelay {
				quietAt = c.lastMotion.Add(c.cfg.MotionDelay)
				delayed = true
				c.emitLocked(Event{Kind: EventCloseDelayed, DoorOpen: c.doorOpen, Motion: c.motion})
				return
			}
			if !c.doorOpen {
				c.emitLocked(Event{Kind: EventAutoCloseOnClosed})
				return
			}
			c.emitLocked(Event{Kind: EventAutoClose, DoorOpen: true, Motion: c.motion})
			c.relay.Toggle()
		})
		if !ok || !delayed {
			return
		}
		if !c.sleepUntil(ctx, quietAt) {
			return
		}
	}
}

// notifyAfter reports that the door is still open every interval after
// start. Missed intervals are caught up rather than skipped.
func (c *Controller) notifyAfter(ctx context.Context, start time.Time, every time.Duration, repeat bool) {
	if every <= 0 {
		return
	}
	next := start.Add(every)
	for {
		if !c.sleepUntil(ctx, next) {
			return
		}
		due := next
		if !c.withLock(ctx, func() {
			var openFor time.Duration
			if c.lastDoorChange != nil {
				openFor = due.Sub(*c.lastDoorChange)
			}
			c.emitLocked(Event{Kind: EventStillOpen, DoorOpen: c.doorOpen, OpenFor: openFor})
		}) {
			return
		}
		if !repeat {
			return
		}
		next = next.Add(every)
	}
}

// sleepUntil waits for the clock to reach deadline. It returns false if ctx
// ends first.
func (c *Controller) sleepUntil(ctx context.Context, deadline time.Time) bool {
	d := deadline.Sub(c.clock.Now())
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := c.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C():
		return true
	case <-ctx.Done():
		return false
	}
}

// withLock runs fn under the controller mutex unless ctx has ended.
func (c *Controller) withLock(ctx context.Context, fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	fn()
	return true
}

// startLocked replaces the timer in slot with a new goroutine running run.
// The start time is taken now, under the mutex, so every deadline the timer
// derives from it is fixed at the moment it was scheduled.
func (c *Controller) startLocked(slot *timerSlot, name string, run func(ctx context.Context, start time.Time)) {
	slot.stop()
	if c.stopped {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &timer{cancel: cancel}
	slot.t = t
	start := c.clock.Now()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			if slot.t == t {
				slot.t = nil
			}
			c.mu.Unlock()
			cancel()
		}()
		defer func() {
			if r := recover(); r != nil {
				c.log.Error("timer panicked", "timer", name, "panic", r)
			}
		}()
		run(ctx, start)
	}()
}

func (c *Controller) emitLocked(e Event) {
	e.Time = c.clock.Now()
	c.log.Info(e.Message(), "event", string(e.Kind))
	c.notifier.Notify(e)
}

type timer struct {
	cancel context.CancelFunc
}

// timerSlot holds at most one live timer.
type timerSlot struct {
	t *timer
}

func (s *timerSlot) live() bool { return s.t != nil }

func (s *timerSlot) stop() {
	if s.t != nil {
		s.t.cancel()
		s.t = nil
	}
}

type nopRelay struct{}

func (nopRelay) Toggle() {}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
