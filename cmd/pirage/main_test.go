package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"syscall"
	"testing"

	"github.com/sweeney/pirage/internal/app"
	"github.com/sweeney/pirage/internal/config"
	"github.com/sweeney/pirage/internal/garage"
	"github.com/sweeney/pirage/internal/gpio"
	"github.com/sweeney/pirage/internal/mqtt"
	"github.com/sweeney/pirage/internal/notify"
	"github.com/sweeney/pirage/internal/status"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestApplyFlags(t *testing.T) {
	tests := []struct {
		flag string
		want string
	}{
		{"", ":8080"},
		{":80", ":80"},
		{"off", ""},
	}
	for _, tt := range tests {
		cfg := config.Default()
		applyFlags(cfg, tt.flag)
		if cfg.HTTP.Addr != tt.want {
			t.Errorf("--http %q: got %q, want %q", tt.flag, cfg.HTTP.Addr, tt.want)
		}
	}
}

func TestShutdownReason(t *testing.T) {
	tests := []struct {
		cause error
		want  string
	}{
		{shutdownSignal{syscall.SIGINT}, "SIGINT"},
		{shutdownSignal{syscall.SIGTERM}, "SIGTERM"},
		{fmt.Errorf("wrapped: %w", shutdownSignal{syscall.SIGTERM}), "SIGTERM"},
		{shutdownSignal{syscall.SIGHUP}, "UNKNOWN"},
		{context.Canceled, "UNKNOWN"},
		{nil, "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := shutdownReason(tt.cause); got != tt.want {
			t.Errorf("shutdownReason(%v): got %q, want %q", tt.cause, got, tt.want)
		}
	}
}

func TestPrintSensors(t *testing.T) {
	var buf bytes.Buffer
	reader := gpio.NewFakeReader([]gpio.Sample{{PIR: true, Mag: false}})
	if err := printSensors(&buf, reader); err != nil {
		t.Fatalf("printSensors: %v", err)
	}
	if got := buf.String(); got != "Door: CLOSED, Motion: YES\n" {
		t.Errorf("got %q", got)
	}
}

func TestPrintSensorsReadError(t *testing.T) {
	reader := gpio.NewFakeReader([]gpio.Sample{{}})
	reader.SetError(errors.New("line busy"))
	if err := printSensors(io.Discard, reader); err == nil {
		t.Error("expected read error")
	}
}

func TestBuildSinks(t *testing.T) {
	sinks := buildSinks(discard, nil, nil)
	if len(sinks) != 1 || sinks[0].Name != "log" || sinks[0].Push {
		t.Fatalf("log-only sinks: got %+v", sinks)
	}

	pub := mqtt.NewFakePublisher()
	rec := notify.SinkFunc(func(garage.Event) error { return nil })
	sinks = buildSinks(discard, pub, rec)
	if len(sinks) != 3 {
		t.Fatalf("sinks: got %d, want 3", len(sinks))
	}
	if sinks[1].Name != "mqtt" || !sinks[1].Push {
		t.Errorf("mqtt sink should be a push sink: %+v", sinks[1])
	}
	if sinks[2].Name != "influxdb" || sinks[2].Push {
		t.Errorf("influxdb sink should always receive: %+v", sinks[2])
	}

	// The mqtt sink forwards to the publisher.
	if err := sinks[1].Sink.Send(garage.Event{Kind: garage.EventDoorOpen}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := pub.Snapshot(); len(got) != 1 || got[0].Kind != garage.EventDoorOpen {
		t.Errorf("published: got %+v", got)
	}
}

func TestPublishSystemEvent(t *testing.T) {
	a, err := app.New(context.Background(), app.Options{
		Garage: garage.DefaultConfig(),
		Reader: gpio.NewFakeReader([]gpio.Sample{{}}),
		Logger: discard,
	})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	pub := mqtt.NewFakePublisher()

	publishSystem(discard, pub, a, "SHUTDOWN", "SIGTERM")

	if len(pub.SystemEvents) != 1 {
		t.Fatalf("system events: got %d, want 1", len(pub.SystemEvents))
	}
	ev := pub.SystemEvents[0]
	if ev.Event != "SHUTDOWN" || ev.Reason != "SIGTERM" || !ev.Retained {
		t.Errorf("event: got %+v", ev)
	}
	var parsed status.EventJSON
	if err := json.Unmarshal(ev.RawPayload, &parsed); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if parsed.Status.Event != "SHUTDOWN" || parsed.Status.Reason != "SIGTERM" {
		t.Errorf("payload status: got %+v", parsed.Status)
	}
	if parsed.Status.Garage.Times.LastMag != "never" {
		t.Errorf("payload garage: got %+v", parsed.Status.Garage)
	}
}

func TestPublishSystemErrorIsNotFatal(t *testing.T) {
	a, err := app.New(context.Background(), app.Options{
		Reader: gpio.NewFakeReader([]gpio.Sample{{}}),
		Logger: discard,
	})
	if err != nil {
		t.Fatal(err)
	}
	pub := mqtt.NewFakePublisher()
	pub.PublishSystemError = errors.New("broker down")

	publishSystem(discard, pub, a, "STARTUP", "")
	publishSystem(discard, nil, a, "STARTUP", "")
}
