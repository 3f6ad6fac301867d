// Package observability wires the relay's structured logging, mirroring the
// original's RotatingFileHandler('jupyter-bridge.log', maxBytes=1048576,
// backupCount=10) with log/slog over a lumberjack rotation writer, and an
// optional OpenTelemetry bridge that tags log lines with trace/span ids.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"

	otelslog "go.opentelemetry.io/contrib/bridges/otelslog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logMaxSizeMB  = 1 // 1048576 bytes, matching the original's maxBytes
	logMaxBackups = 10
)

// Options configures NewLogger.
type Options struct {
	// Path is the rotating log file's path. Empty disables file rotation and
	// logs to stderr instead.
	Path string
	Level slog.Level
	// OTelEnabled attaches an otelslog handler alongside the rotating file
	// handler so trace/span ids are recorded per log line.
	OTelEnabled bool
}

// NewLogger builds the relay's root logger per Options.
func NewLogger(opts Options) *slog.Logger {
	var writer io.Writer = os.Stderr
	if opts.Path != "" {
		writer = &lumberjack.Logger{
			Filename:   opts.Path,
			MaxSize:    logMaxSizeMB,
			MaxBackups: logMaxBackups,
			Compress:   false,
		}
	}

	handlerOpts := &slog.HandlerOptions{Level: opts.Level}
	handlers := []slog.Handler{slog.NewJSONHandler(writer, handlerOpts)}

	if opts.OTelEnabled {
		handlers = append(handlers, otelslog.NewHandler("jupyter-bridge"))
	}

	return slog.New(fanoutHandler{handlers: handlers})
}

// ParseLevel maps the BRIDGE_LOG_LEVEL config string onto a slog.Level,
// defaulting to Info for an unrecognized value.
func ParseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// fanoutHandler dispatches every record to each wrapped handler, so the
// rotating file handler and the optional OTel bridge both see every line.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (f fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, h := range f.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (f fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return fanoutHandler{handlers: next}
}

func (f fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		next[i] = h.WithGroup(name)
	}
	return fanoutHandler{handlers: next}
}
