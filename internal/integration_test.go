package internal

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	testclock "k8s.io/utils/clock/testing"

	"github.com/sweeney/pirage/internal/garage"
	"github.com/sweeney/pirage/internal/gpio"
	"github.com/sweeney/pirage/internal/mqtt"
	"github.com/sweeney/pirage/internal/notify"
	"github.com/sweeney/pirage/internal/sensor"
)

var start = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

const pollInterval = time.Second

type rig struct {
	monitor    *sensor.Monitor
	controller *garage.Controller
	dispatcher *notify.Dispatcher
	publisher  *mqtt.FakePublisher
	relay      *gpio.FakeRelay
	clock      *testclock.FakeClock
}

// newRig wires reader -> monitor -> controller -> dispatcher -> publisher the
// way the daemon does, with one fake clock driving both the sensor poll and
// the controller timers. The first sample is read at start; each later one
// needs a poll. setup runs before polling starts.
func newRig(t *testing.T, samples []gpio.Sample, setup ...func(*rig)) *rig {
	t.Helper()
	fake := testclock.NewFakeClock(start)
	r := &rig{
		monitor:    sensor.NewMonitor(gpio.NewFakeReader(samples), pollInterval, nil, sensor.WithClock(fake)),
		dispatcher: notify.NewDispatcher(nil),
		publisher:  mqtt.NewFakePublisher(),
		relay:      &gpio.FakeRelay{},
		clock:      fake,
	}
	r.dispatcher.AddPushSink("mqtt", notify.SinkFunc(r.publisher.Publish))
	r.controller = garage.NewController(garage.DefaultConfig(), r.relay, r.dispatcher, garage.WithClock(r.clock))
	r.monitor.Register(r.controller.Update)
	for _, fn := range setup {
		fn(r)
	}

	ctx, cancel := context.WithCancel(context.Background())
	monitorDone := make(chan struct{})
	go func() {
		r.monitor.Run(ctx)
		close(monitorDone)
	}()
	go r.dispatcher.Run(context.Background())

	t.Cleanup(func() {
		cancel()
		<-monitorDone
		r.controller.Stop()
		closeCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		r.dispatcher.Close(closeCtx)
	})
	return r
}

func (r *rig) kinds() []garage.EventKind {
	var kinds []garage.EventKind
	for _, e := range r.publisher.Snapshot() {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

// without returns the published kinds minus drop. Reminders fired by the same
// clock step as another timer have no fixed order.
func (r *rig) without(drop garage.EventKind) []garage.EventKind {
	var kinds []garage.EventKind
	for _, k := range r.kinds() {
		if k != drop {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// payload returns the first published payload for kind.
func (r *rig) payload(t *testing.T, kind garage.EventKind) mqtt.Payload {
	t.Helper()
	for _, data := range r.publisher.PayloadsSnapshot() {
		var p mqtt.Payload
		if err := json.Unmarshal(data, &p); err != nil {
			t.Fatalf("invalid JSON: %v", err)
		}
		if p.Garage.Event == string(kind) {
			return p
		}
	}
	t.Fatalf("no %s payload published", kind)
	return mqtt.Payload{}
}

// poll advances the clock by one poll interval so the monitor reads the
// next sample.
func (r *rig) poll() {
	r.clock.Step(pollInterval)
}

func (r *rig) count(kind garage.EventKind) int {
	n := 0
	for _, k := range r.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// TestIntegrationAutoClose: door opens, nobody moves, the door is closed
// after the close delay with a warning beforehand.
func TestIntegrationAutoClose(t *testing.T) {
	r := newRig(t, []gpio.Sample{{Mag: true}})
	waitFor(t, "door open", func() bool { return r.count(garage.EventDoorOpen) == 1 })

	r.clock.Step(10 * time.Minute)
	waitFor(t, "close warning", func() bool { return r.count(garage.EventCloseWarning) == 1 })
	if r.relay.Toggles() != 0 {
		t.Fatal("relay toggled before close delay")
	}

	r.clock.Step(5 * time.Minute)
	waitFor(t, "auto close", func() bool { return r.count(garage.EventAutoClose) == 1 })
	if r.relay.Toggles() != 1 {
		t.Errorf("relay toggles: got %d, want 1", r.relay.Toggles())
	}

	// Reminders at 6m and 12m fire alongside the close timer.
	waitFor(t, "still open reminders", func() bool { return r.count(garage.EventStillOpen) == 2 })
	want := []garage.EventKind{garage.EventDoorOpen, garage.EventCloseWarning, garage.EventAutoClose}
	got := r.without(garage.EventStillOpen)
	if len(got) != len(want) {
		t.Fatalf("events: got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

// TestIntegrationLockedNeverCloses: a locked door stays open and only nags.
func TestIntegrationLockedNeverCloses(t *testing.T) {
	r := newRig(t, []gpio.Sample{{Mag: true}})
	waitFor(t, "door open", func() bool { return r.count(garage.EventDoorOpen) == 1 })
	r.controller.Lock(true)

	for i := 1; i <= 5; i++ {
		r.clock.Step(6 * time.Minute)
		n := i
		waitFor(t, "still open", func() bool { return r.count(garage.EventStillOpen) == n })
	}
	if r.relay.Toggles() != 0 {
		t.Errorf("relay toggled while locked: %d", r.relay.Toggles())
	}
	if r.count(garage.EventAutoClose) != 0 {
		t.Error("AUTO_CLOSE emitted while locked")
	}
}

// TestIntegrationMotionDelaysClose: motion from the sensor pushes the close
// back until the garage has been quiet for the motion delay.
func TestIntegrationMotionDelaysClose(t *testing.T) {
	r := newRig(t, []gpio.Sample{{Mag: true}, {Mag: true, PIR: true}, {Mag: true}})
	waitFor(t, "door open", func() bool { return r.count(garage.EventDoorOpen) == 1 })
	r.poll()
	waitFor(t, "motion", func() bool { return r.count(garage.EventMotion) == 1 })
	r.poll()
	waitFor(t, "motion over", func() bool { return !r.controller.Status().MotionActive })

	// Motion was seen at 1s: the 15m deadline passes the 5m quiet window.
	r.clock.Step(15*time.Minute - 2*pollInterval)
	waitFor(t, "auto close", func() bool { return r.count(garage.EventAutoClose) == 1 })
	if r.count(garage.EventCloseDelayed) != 0 {
		t.Errorf("close should not be delayed by old motion: %v", r.kinds())
	}
}

// TestIntegrationPIRDisabledIgnoresMotion: with the PIR switched off motion is
// neither reported nor delays the close.
func TestIntegrationPIRDisabledIgnoresMotion(t *testing.T) {
	r := newRig(t, []gpio.Sample{{Mag: true, PIR: true}}, func(r *rig) {
		r.monitor.SetPIREnabled(false)
	})
	waitFor(t, "door open", func() bool { return r.count(garage.EventDoorOpen) == 1 })

	r.clock.Step(15 * time.Minute)
	waitFor(t, "auto close", func() bool { return r.count(garage.EventAutoClose) == 1 })
	if r.count(garage.EventMotion) != 0 || r.count(garage.EventCloseDelayed) != 0 {
		t.Errorf("motion seen with pir disabled: %v", r.kinds())
	}
}

// TestIntegrationNotifyDisabledSilencesPush: events still reach the
// controller but are not pushed while notifications are off.
func TestIntegrationNotifyDisabledSilencesPush(t *testing.T) {
	r := newRig(t, []gpio.Sample{{Mag: true}, {}}, func(r *rig) {
		r.dispatcher.SetEnabled(false)
	})

	waitFor(t, "door open state", func() bool { return r.controller.Status().DoorOpen })
	r.poll()
	waitFor(t, "door closed again", func() bool { return !r.controller.Status().DoorOpen })
	closeCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
	defer done()
	r.dispatcher.Close(closeCtx)

	if got := r.kinds(); len(got) != 0 {
		t.Errorf("pushed while disabled: %v", got)
	}
}

// TestIntegrationPublishFailureDoesNotStopControl: a failing publisher never
// blocks the relay.
func TestIntegrationPublishFailureDoesNotStopControl(t *testing.T) {
	r := newRig(t, []gpio.Sample{{Mag: true}}, func(r *rig) {
		r.publisher.PublishError = errors.New("broker down")
	})

	waitFor(t, "door open state", func() bool { return r.controller.Status().DoorOpen })
	r.clock.Step(15 * time.Minute)
	waitFor(t, "auto close", func() bool { return r.relay.Toggles() == 1 })
}

// TestIntegrationPayloadFormat checks the JSON pushed for a close warning.
func TestIntegrationPayloadFormat(t *testing.T) {
	r := newRig(t, []gpio.Sample{{Mag: true}})
	waitFor(t, "door open", func() bool { return r.count(garage.EventDoorOpen) == 1 })
	r.clock.Step(10 * time.Minute)
	waitFor(t, "close warning", func() bool { return r.count(garage.EventCloseWarning) == 1 })

	parsed := r.payload(t, garage.EventCloseWarning)
	if parsed.Garage.Event != "CLOSE_WARNING" || parsed.Garage.Message != "closing garage in 5 minutes!" {
		t.Errorf("payload: got %+v", parsed.Garage)
	}
	if parsed.Garage.Door != "OPEN" || parsed.Garage.InSeconds != 300 {
		t.Errorf("payload: got %+v", parsed.Garage)
	}
	if parsed.Garage.Timestamp != "2026-01-01T12:10:00Z" {
		t.Errorf("timestamp: got %s", parsed.Garage.Timestamp)
	}
}
