package history

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/sweeney/pirage/internal/garage"
)

type fakeWriter struct {
	mu      sync.Mutex
	points  []*write.Point
	flushed int
}

func (w *fakeWriter) WritePoint(p *write.Point) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, p)
}

func (w *fakeWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.flushed++
}

func fieldMap(p *write.Point) map[string]interface{} {
	m := map[string]interface{}{}
	for _, f := range p.FieldList() {
		m[f.Key] = f.Value
	}
	return m
}

func tagMap(p *write.Point) map[string]string {
	m := map[string]string{}
	for _, t := range p.TagList() {
		m[t.Key] = t.Value
	}
	return m
}

func TestPointCloseWarning(t *testing.T) {
	at := time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC)
	p := Point(garage.Event{Kind: garage.EventCloseWarning, Time: at, DoorOpen: true, In: 5 * time.Minute})

	if p.Name() != Measurement {
		t.Errorf("measurement: got %s, want %s", p.Name(), Measurement)
	}
	if !p.Time().Equal(at) {
		t.Errorf("time: got %v, want %v", p.Time(), at)
	}
	if got := tagMap(p)["kind"]; got != "CLOSE_WARNING" {
		t.Errorf("kind tag: got %q", got)
	}
	fields := fieldMap(p)
	if fields["message"] != "closing garage in 5 minutes!" {
		t.Errorf("message: got %v", fields["message"])
	}
	if fields["in_seconds"] != 300.0 {
		t.Errorf("in_seconds: got %v", fields["in_seconds"])
	}
	if _, ok := fields["open_for_seconds"]; ok {
		t.Error("open_for_seconds should only be set on STILL_OPEN")
	}
}

func TestPointStillOpen(t *testing.T) {
	p := Point(garage.Event{Kind: garage.EventStillOpen, Time: time.Unix(0, 0), OpenFor: 12 * time.Minute})
	fields := fieldMap(p)
	if fields["open_for_seconds"] != 720.0 {
		t.Errorf("open_for_seconds: got %v", fields["open_for_seconds"])
	}
	if _, ok := fields["in_seconds"]; ok {
		t.Error("in_seconds should only be set on CLOSE_WARNING")
	}
}

func TestPointDefaultsTime(t *testing.T) {
	before := time.Now()
	p := Point(garage.Event{Kind: garage.EventMotion})
	if p.Time().Before(before) {
		t.Errorf("zero event time should default to now, got %v", p.Time())
	}
}

func TestRecorderSendAndClose(t *testing.T) {
	w := &fakeWriter{}
	closed := false
	r := newRecorder(w, func() { closed = true }, nil)

	if err := r.Send(garage.Event{Kind: garage.EventDoorOpen, DoorOpen: true}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(w.points) != 1 {
		t.Fatalf("points: got %d, want 1", len(w.points))
	}

	r.Close()
	r.Close()
	if !closed || w.flushed != 1 {
		t.Errorf("Close should flush and close once: closed=%v flushed=%d", closed, w.flushed)
	}
	if err := r.Send(garage.Event{Kind: garage.EventMotion}); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close: got %v, want ErrClosed", err)
	}
}
