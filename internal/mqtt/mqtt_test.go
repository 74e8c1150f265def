package mqtt

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/pirage/internal/garage"
)

func TestFormatPayload(t *testing.T) {
	event := garage.Event{
		Kind:     garage.EventDoorOpen,
		Time:     time.Date(2026, 2, 2, 22, 18, 12, 0, time.UTC),
		DoorOpen: true,
		Motion:   true,
	}

	payload, err := FormatPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"garage":{"timestamp":"2026-02-02T22:18:12Z","event":"DOOR_OPEN","message":"door open!","door":"OPEN","motion":true}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatPayloadDurations(t *testing.T) {
	tests := []struct {
		event       garage.Event
		wantIn      int64
		wantOpenFor int64
		wantMessage string
	}{
		{
			event:       garage.Event{Kind: garage.EventCloseWarning, In: 5 * time.Minute, DoorOpen: true},
			wantIn:      300,
			wantMessage: "closing garage in 5 minutes!",
		},
		{
			event:       garage.Event{Kind: garage.EventStillOpen, OpenFor: 12 * time.Minute, DoorOpen: true},
			wantOpenFor: 720,
			wantMessage: "Garage is still open after 12 minutes!",
		},
		{
			event:       garage.Event{Kind: garage.EventDoorClosed},
			wantMessage: "door closed!",
		},
	}

	for _, tt := range tests {
		t.Run(string(tt.event.Kind), func(t *testing.T) {
			payload, err := FormatPayload(tt.event)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			var parsed Payload
			if err := json.Unmarshal(payload, &parsed); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if parsed.Garage.InSeconds != tt.wantIn {
				t.Errorf("in_seconds: got %d, want %d", parsed.Garage.InSeconds, tt.wantIn)
			}
			if parsed.Garage.OpenForSeconds != tt.wantOpenFor {
				t.Errorf("open_for_seconds: got %d, want %d", parsed.Garage.OpenForSeconds, tt.wantOpenFor)
			}
			if parsed.Garage.Message != tt.wantMessage {
				t.Errorf("message: got %q, want %q", parsed.Garage.Message, tt.wantMessage)
			}
		})
	}
}

func TestFormatPayloadTimezoneConversion(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	event := garage.Event{
		Kind: garage.EventMotion,
		Time: time.Date(2026, 2, 3, 0, 30, 0, 0, loc),
	}

	payload, err := FormatPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var parsed Payload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Garage.Timestamp != "2026-02-02T22:30:00Z" {
		t.Errorf("timestamp: got %s, want 2026-02-02T22:30:00Z", parsed.Garage.Timestamp)
	}
}

func TestFormatSystemPayload(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC),
		Event:     "SHUTDOWN",
		Reason:    "MQTT_DISCONNECT",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-02-10T08:30:00Z","event":"SHUTDOWN","reason":"MQTT_DISCONNECT"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatSystemPayloadOmitsReason(t *testing.T) {
	event := SystemEvent{
		Timestamp: time.Date(2026, 2, 10, 14, 30, 0, 0, time.UTC),
		Event:     "RECONNECTED",
	}

	payload, err := FormatSystemPayload(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := `{"system":{"timestamp":"2026-02-10T14:30:00Z","event":"RECONNECTED"}}`
	if string(payload) != expected {
		t.Errorf("unexpected payload:\ngot:  %s\nwant: %s", payload, expected)
	}
}

func TestFormatSystemPayloadRaw(t *testing.T) {
	raw := []byte(`{"custom":true}`)
	payload, err := FormatSystemPayload(SystemEvent{Event: "STARTUP", RawPayload: raw})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(payload) != string(raw) {
		t.Errorf("got %s, want raw payload", payload)
	}
}

func TestFakePublisher(t *testing.T) {
	f := NewFakePublisher()

	err := f.Publish(garage.Event{Kind: garage.EventMotion, Time: time.Now()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(f.Events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(f.Events))
	}
	if f.Events[0].Kind != garage.EventMotion {
		t.Errorf("unexpected event kind: %s", f.Events[0].Kind)
	}
	if len(f.Payloads) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(f.Payloads))
	}
}

func TestFakePublisherPayloadsSnapshot(t *testing.T) {
	f := NewFakePublisher()
	f.Publish(garage.Event{Kind: garage.EventDoorOpen, DoorOpen: true})

	snap := f.PayloadsSnapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 payload, got %d", len(snap))
	}
	f.Publish(garage.Event{Kind: garage.EventDoorClosed})
	if len(snap) != 1 {
		t.Error("snapshot should not see later publishes")
	}
	if len(f.PayloadsSnapshot()) != 2 {
		t.Errorf("expected 2 payloads, got %d", len(f.PayloadsSnapshot()))
	}
}

func TestFakePublisherError(t *testing.T) {
	f := NewFakePublisher()
	f.PublishError = errors.New("simulated error")

	if err := f.Publish(garage.Event{Kind: garage.EventMotion}); err == nil {
		t.Error("expected error")
	}
	if len(f.Events) != 0 {
		t.Errorf("expected no events recorded on error, got %d", len(f.Events))
	}
}

func TestFakePublisherReset(t *testing.T) {
	f := NewFakePublisher()
	f.Publish(garage.Event{Kind: garage.EventMotion})
	f.PublishSystem(SystemEvent{Event: "STARTUP"})
	f.Close()
	f.PublishError = errors.New("error")

	f.Reset()

	if len(f.Events) != 0 || len(f.SystemEvents) != 0 {
		t.Error("events should be cleared")
	}
	if f.Closed {
		t.Error("closed should be reset")
	}
	if f.PublishError != nil {
		t.Error("error should be cleared")
	}
}

// fakeToken completes immediately with err.
type fakeToken struct {
	err error
}

func (t fakeToken) Wait() bool                     { return true }
func (t fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t fakeToken) Error() error                   { return t.err }
func (t fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type sentMsg struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeClient struct {
	mu      sync.Mutex
	open    bool
	err     error
	sent    []sentMsg
	stopped bool
}

func (c *fakeClient) IsConnectionOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return fakeToken{err: c.err}
	}
	c.sent = append(c.sent, sentMsg{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return fakeToken{}
}

func (c *fakeClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
}

func (c *fakeClient) setOpen(open bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = open
}

func (c *fakeClient) messages() []sentMsg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sentMsg(nil), c.sent...)
}

func TestRealPublisherPublishesWhenConnected(t *testing.T) {
	fc := &fakeClient{open: true}
	p := newPublisher(fc, Config{}, nil)

	if err := p.Publish(garage.Event{Kind: garage.EventDoorOpen, DoorOpen: true}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := p.PublishSystem(SystemEvent{Event: "STARTUP", Retained: true}); err != nil {
		t.Fatalf("PublishSystem: %v", err)
	}

	msgs := fc.messages()
	if len(msgs) != 2 {
		t.Fatalf("sent: got %d, want 2", len(msgs))
	}
	if msgs[0].topic != Topic || msgs[0].qos != 0 || msgs[0].retained {
		t.Errorf("event message: got %+v", msgs[0])
	}
	if msgs[1].topic != TopicSystem || msgs[1].qos != 1 || !msgs[1].retained {
		t.Errorf("system message: got %+v", msgs[1])
	}
}

func TestRealPublisherBuffersWhileDisconnected(t *testing.T) {
	fc := &fakeClient{}
	p := newPublisher(fc, Config{Topic: "t/events", BufferSize: 2}, nil)

	for _, kind := range []garage.EventKind{garage.EventDoorOpen, garage.EventMotion, garage.EventDoorClosed} {
		if err := p.Publish(garage.Event{Kind: kind}); err != nil {
			t.Fatalf("Publish while disconnected should not fail: %v", err)
		}
	}
	if got := p.Buffered(); got != 2 {
		t.Fatalf("Buffered: got %d, want 2", got)
	}
	if len(fc.messages()) != 0 {
		t.Fatal("sent while disconnected")
	}

	fc.setOpen(true)
	p.handleConnect()

	msgs := fc.messages()
	if len(msgs) != 2 {
		t.Fatalf("replayed: got %d, want 2", len(msgs))
	}
	var first, second Payload
	json.Unmarshal(msgs[0].payload, &first)
	json.Unmarshal(msgs[1].payload, &second)
	if first.Garage.Event != "MOTION" || second.Garage.Event != "DOOR_CLOSED" {
		t.Errorf("replay order: got %s, %s; want MOTION, DOOR_CLOSED", first.Garage.Event, second.Garage.Event)
	}
	if p.Buffered() != 0 {
		t.Errorf("Buffered after replay: got %d, want 0", p.Buffered())
	}
	if !p.IsConnected() {
		t.Error("IsConnected: got false after connect")
	}
}

func TestRealPublisherAnnouncesReconnect(t *testing.T) {
	fc := &fakeClient{open: true}
	p := newPublisher(fc, Config{}, nil)

	p.handleConnect()
	if len(fc.messages()) != 0 {
		t.Fatal("first connect should not announce")
	}

	p.handleDisconnect(errors.New("broker went away"))
	if p.IsConnected() {
		t.Error("IsConnected: got true after connection lost")
	}
	p.handleConnect()

	msgs := fc.messages()
	if len(msgs) != 1 {
		t.Fatalf("sent: got %d, want 1", len(msgs))
	}
	var parsed SystemPayload
	if err := json.Unmarshal(msgs[0].payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.System.Event != "RECONNECTED" {
		t.Errorf("event: got %s, want RECONNECTED", parsed.System.Event)
	}
}

func TestRealPublisherHoldsFailedPublish(t *testing.T) {
	fc := &fakeClient{open: true, err: errors.New("not authorised")}
	p := newPublisher(fc, Config{}, nil)

	if err := p.Publish(garage.Event{Kind: garage.EventMotion}); err == nil {
		t.Fatal("expected publish error")
	}
	if p.Buffered() != 1 {
		t.Errorf("Buffered: got %d, want 1", p.Buffered())
	}
}

func TestRealPublisherClose(t *testing.T) {
	fc := &fakeClient{}
	p := newPublisher(fc, Config{}, nil)
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !fc.stopped {
		t.Error("client not disconnected")
	}
}
