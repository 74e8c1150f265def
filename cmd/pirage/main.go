// Command pirage watches the garage door and motion sensors, auto-closes the
// door when it is left open, and serves a live status page.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/sweeney/pirage/internal/app"
	"github.com/sweeney/pirage/internal/channel"
	"github.com/sweeney/pirage/internal/config"
	"github.com/sweeney/pirage/internal/gpio"
	"github.com/sweeney/pirage/internal/history"
	"github.com/sweeney/pirage/internal/logging"
	"github.com/sweeney/pirage/internal/metrics"
	"github.com/sweeney/pirage/internal/mqtt"
	"github.com/sweeney/pirage/internal/notify"
	"github.com/sweeney/pirage/internal/status"
	"github.com/sweeney/pirage/internal/store"
	"github.com/sweeney/pirage/internal/thermal"
	"github.com/sweeney/pirage/internal/web"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := pflag.String("config", "", "Path to YAML config file")
	httpAddr := pflag.String("http", "", "HTTP listen address (overrides config; \"off\" disables)")
	printState := pflag.Bool("print-state", false, "Print current sensor state and exit")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("fatal: %v", err)
	}
	applyFlags(cfg, *httpAddr)

	if err := run(cfg, *printState); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}

// applyFlags applies command-line overrides on top of the loaded config.
func applyFlags(cfg *config.Config, httpAddr string) {
	switch httpAddr {
	case "":
	case "off":
		cfg.HTTP.Addr = ""
	default:
		cfg.HTTP.Addr = httpAddr
	}
}

func run(cfg *config.Config, printState bool) error {
	reader, err := gpio.NewRealReader(cfg.GPIO.Chip, cfg.GPIO.PinPIR, cfg.GPIO.PinMag)
	if err != nil {
		return fmt.Errorf("init gpio: %w", err)
	}
	defer reader.Close()

	if printState {
		return printSensors(os.Stdout, reader)
	}

	logger, logOut := logging.New(cfg.Logging, version)
	defer logOut.Close()
	metrics.Register()

	relay, err := gpio.NewRealRelay(cfg.GPIO.Chip, cfg.GPIO.PinRelay, cfg.GPIO.Pulse, logger)
	if err != nil {
		return fmt.Errorf("init relay: %w", err)
	}
	defer relay.Close()

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case s := <-sigCh:
			logger.Info("received signal, shutting down", "signal", s.String())
			cancel(shutdownSignal{s})
		case <-ctx.Done():
		}
	}()

	var st app.HistoryStore
	if cfg.Store.Path != "" {
		db, err := store.Open(cfg.Store.Path)
		if err != nil {
			logger.Warn("state store unavailable, history will not persist", "path", cfg.Store.Path, "error", err)
		} else {
			defer db.Close()
			st = db
		}
	}

	var publisher mqtt.Publisher
	if cfg.MQTT.Enabled {
		p := mqtt.NewRealPublisher(mqtt.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Topic:       cfg.MQTT.Topic,
			TopicSystem: cfg.MQTT.TopicSystem,
			BufferSize:  cfg.MQTT.Buffer,
		}, logger)
		defer p.Close()
		publisher = p
	}

	var recorder notify.Sink
	if cfg.InfluxDB.Enabled {
		r, err := history.Connect(ctx, history.Config{
			URL:    cfg.InfluxDB.URL,
			Token:  cfg.InfluxDB.Token,
			Org:    cfg.InfluxDB.Org,
			Bucket: cfg.InfluxDB.Bucket,
		}, logger)
		if err != nil {
			logger.Warn("influxdb unavailable, event history disabled", "error", err)
		} else {
			defer r.Close()
			recorder = r
		}
	}

	a, err := app.New(ctx, app.Options{
		Garage:         cfg.GarageSettings(),
		Reader:         reader,
		Relay:          relay,
		Sinks:          buildSinks(logger, publisher, recorder),
		Poll:           cfg.GPIO.Poll,
		Debounce:       cfg.GPIO.Debounce,
		StatusPush:     cfg.HTTP.StatusPush,
		StreamKind:     channel.Kind(cfg.HTTP.StreamKind),
		StreamCapacity: cfg.HTTP.StreamCapacity,
		Thermal:        thermal.NewReader(cfg.Thermal.Path, cfg.Thermal.TTL, logger),
		Store:          st,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	publishSystem(logger, publisher, a, "STARTUP", "")

	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, a, logger)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			srv.Shutdown(shutdownCtx)
		}()
		logger.Info("http server listening", "addr", cfg.HTTP.Addr)
	}

	logger.Info("started",
		"poll", cfg.GPIO.Poll,
		"debounce", cfg.GPIO.Debounce,
		"close_delay", cfg.Garage.CloseDelay,
		"notify_delay", cfg.Garage.NotifyDelay,
		"mqtt", cfg.MQTT.Enabled,
		"influxdb", recorder != nil,
	)

	err = a.Run(ctx)
	publishSystem(logger, publisher, a, "SHUTDOWN", shutdownReason(context.Cause(ctx)))
	return err
}

// buildSinks returns the notification sinks. The log always receives
// events; MQTT is a push sink and follows the notify switch.
func buildSinks(logger *slog.Logger, publisher mqtt.Publisher, recorder notify.Sink) []app.Sink {
	sinks := []app.Sink{{Name: "log", Sink: notify.LogSink{Logger: logger.With("component", "events")}}}
	if publisher != nil {
		sinks = append(sinks, app.Sink{Name: "mqtt", Sink: notify.SinkFunc(publisher.Publish), Push: true})
	}
	if recorder != nil {
		sinks = append(sinks, app.Sink{Name: "influxdb", Sink: recorder})
	}
	return sinks
}

// publishSystem publishes a retained lifecycle event carrying the current
// status.
func publishSystem(logger *slog.Logger, publisher mqtt.Publisher, a *app.App, event, reason string) {
	if publisher == nil {
		return
	}
	now := a.Now()
	err := publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  now,
		Event:      event,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(a.Status(), a.Started(), now, event, reason),
	})
	if err != nil {
		logger.Warn("failed to publish system event", "event", event, "error", err)
		return
	}
	logger.Info("published system event", "event", event)
}

type shutdownSignal struct{ sig os.Signal }

func (s shutdownSignal) Error() string { return "received " + s.sig.String() }

// shutdownReason names the signal that stopped the daemon.
func shutdownReason(cause error) string {
	var s shutdownSignal
	if !errors.As(cause, &s) {
		return "UNKNOWN"
	}
	switch s.sig {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	}
	return "UNKNOWN"
}

func printSensors(w io.Writer, reader gpio.Reader) error {
	pir, mag, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read gpio: %w", err)
	}
	fmt.Fprintf(w, "Door: %s, Motion: %s\n", doorString(mag), motionString(pir))
	return nil
}

func doorString(open bool) string {
	if open {
		return "OPEN"
	}
	return "CLOSED"
}

func motionString(active bool) string {
	if active {
		return "YES"
	}
	return "NO"
}
