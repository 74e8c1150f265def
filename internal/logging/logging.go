// Package logging builds the process logger from configuration.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/sweeney/pirage/internal/config"
)

// Service is the value of the service attribute on every record.
const Service = "pirage"

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

// New returns a logger configured by cfg and the writer behind it. Close the
// writer on exit; for file output it flushes the rotating log.
func New(cfg config.LoggingConfig, version string) (*slog.Logger, io.Closer) {
	var out io.WriteCloser
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		out = nopCloser{os.Stderr}
	case "file":
		out = &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		}
	default:
		out = nopCloser{os.Stdout}
	}
	return NewWithWriter(cfg, version, out), out
}

// NewWithWriter returns a logger writing to w, ignoring cfg.Output.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", Service),
		slog.String("version", version),
	})
	return slog.New(handler)
}

// ParseLevel converts a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
