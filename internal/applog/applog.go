// Package applog builds the engine's structured logger: a colorized
// console handler for interactive use and, when a log directory is
// configured, a plain tab-separated file handler recording the same
// events for later inspection.
package applog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lmittmann/tint"

	"coldbackup/internal/engine"
)

// New builds a *slog.Logger at the given level ("debug", "info", "warn",
// "error") writing colorized output to stderr. If logDir is non-empty, a
// second handler also appends tab-separated records to
// logDir/coldbackup.log; the returned closer must be called when the
// logger is no longer needed (a no-op if logDir was empty).
func New(level, logDir string) (*slog.Logger, func() error, error) {
	lvl := parseLevel(level)
	console := tint.NewHandler(os.Stderr, &tint.Options{Level: lvl})

	if logDir == "" {
		return slog.New(console), func() error { return nil }, nil
	}

	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}
	logPath := filepath.Join(logDir, "coldbackup.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	file := &tabHandler{w: f, level: lvl}
	return slog.New(&fanoutHandler{handlers: []slog.Handler{console, file}}), f.Close, nil
}

func parseLevel(level string) slog.Level {
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

// tabHandler formats records as <timestamp>\t<level>\t<message>\t<key=value ...>,
// matching the teacher's operation-log file format.
type tabHandler struct {
	w     io.Writer
	level slog.Level
	attrs []slog.Attr
}

func (h *tabHandler) Enabled(_ context.Context, level slog.Level) bool { return level >= h.level }

func (h *tabHandler) Handle(_ context.Context, r slog.Record) error {
	ts := r.Time.UTC().Format("2006-01-02T15:04:05Z")
	if _, err := fmt.Fprintf(h.w, "%s\t%s\t%s", ts, r.Level.String(), r.Message); err != nil {
		return err
	}
	for _, a := range h.attrs {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(h.w, "\t%s=%v", a.Key, a.Value)
		return true
	})
	_, err := fmt.Fprintln(h.w)
	return err
}

func (h *tabHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &tabHandler{w: h.w, level: h.level, attrs: append(append([]slog.Attr{}, h.attrs...), attrs...)}
}

func (h *tabHandler) WithGroup(string) slog.Handler { return h }

// fanoutHandler dispatches every record to each of its handlers in turn.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, d := range h.handlers {
		if d.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, d := range h.handlers {
		if !d.Enabled(ctx, r.Level) {
			continue
		}
		if err := d.Handle(ctx, r.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, d := range h.handlers {
		out[i] = d.WithAttrs(attrs)
	}
	return &fanoutHandler{handlers: out}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(h.handlers))
	for i, d := range h.handlers {
		out[i] = d.WithGroup(name)
	}
	return &fanoutHandler{handlers: out}
}

// Adapter adapts *slog.Logger to engine.Logger.
type Adapter struct {
	L *slog.Logger
}

var _ engine.Logger = (*Adapter)(nil)

func (a *Adapter) Debug(msg string, args ...any) { a.L.Debug(msg, args...) }
func (a *Adapter) Info(msg string, args ...any)  { a.L.Info(msg, args...) }
func (a *Adapter) Warn(msg string, args ...any)  { a.L.Warn(msg, args...) }
func (a *Adapter) Error(msg string, args ...any) { a.L.Error(msg, args...) }
