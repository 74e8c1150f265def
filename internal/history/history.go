// Package history records controller events as InfluxDB points.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/sweeney/pirage/internal/garage"
)

// Measurement is the InfluxDB measurement events are written to.
const Measurement = "garage_event"

const pingTimeout = 5 * time.Second

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("history recorder closed")

// Config holds the InfluxDB connection settings.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// pointWriter is the subset of api.WriteAPI the recorder uses.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// Recorder implements notify.Sink. Writes are batched and sent in the
// background; async write errors are logged.
type Recorder struct {
	writer pointWriter
	close  func()
	log    *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Connect pings the server and returns a recorder writing to cfg.Bucket.
func Connect(ctx context.Context, cfg Config, logger *slog.Logger) (*Recorder, error) {
	if logger == nil {
		logger = slog.Default()
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetBatchSize(20).SetFlushInterval(5000))

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb ping: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, errors.New("influxdb ping: server not healthy")
	}

	api := client.WriteAPI(cfg.Org, cfg.Bucket)
	r := newRecorder(api, client.Close, logger)
	go func() {
		for err := range api.Errors() {
			r.log.Warn("influxdb write failed", "error", err)
		}
	}()
	return r, nil
}

func newRecorder(w pointWriter, closeFn func(), logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if closeFn == nil {
		closeFn = func() {}
	}
	return &Recorder{
		writer: w,
		close:  closeFn,
		log:    logger.With("component", "history"),
	}
}

// Send implements notify.Sink.
func (r *Recorder) Send(e garage.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.writer.WritePoint(Point(e))
	return nil
}

// Close flushes pending points and closes the client.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.writer.Flush()
	r.close()
	return nil
}

// Point converts an event to an InfluxDB point tagged by kind.
func Point(e garage.Event) *write.Point {
	fields := map[string]interface{}{
		"message":   e.Message(),
		"door_open": e.DoorOpen,
		"motion":    e.Motion,
	}
	switch e.Kind {
	case garage.EventCloseWarning:
		fields["in_seconds"] = e.In.Seconds()
	case garage.EventStillOpen:
		fields["open_for_seconds"] = e.OpenFor.Seconds()
	}

	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return write.NewPoint(Measurement, map[string]string{"kind": string(e.Kind)}, fields, ts)
}
