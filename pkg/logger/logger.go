// Package logger provides a slog.Handler backed by zerolog.
//
// The counsel packages log through *slog.Logger taken from the context. This
// package supplies the handler that renders those records with zerolog, as
// JSON for production or a console writer for local runs.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Format selects the zerolog writer.
type Format string

const (
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

// Options configures New.
type Options struct {
	Level  string
	Format Format
	Output io.Writer
}

// New returns a *slog.Logger writing through zerolog.
//
// Example:
//
//	log := logger.New(logger.Options{Level: cfg.Log.Level, Format: logger.Format(cfg.Log.Format)})
//	ctx = counsel.WithLogger(ctx, log)
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if opts.Format == FormatConsole {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	zl := zerolog.New(out).With().Timestamp().Logger().Level(toZerolog(ParseLevel(opts.Level)))
	return slog.New(NewHandler(zl))
}

// ParseLevel maps a level name to slog.Level. Unknown names yield info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// Handler implements slog.Handler on top of a zerolog.Logger.
type Handler struct {
	logger zerolog.Logger
	attrs  []slog.Attr
	group  string
}

// NewHandler wraps zl. The zerolog level acts as the minimum enabled level.
func NewHandler(zl zerolog.Logger) *Handler {
	return &Handler{logger: zl}
}

// Enabled reports whether zerolog would emit the level.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return h.logger.GetLevel() <= toZerolog(level)
}

// Handle renders the record as a zerolog event.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	evt := h.logger.WithLevel(toZerolog(r.Level))
	if evt == nil {
		return nil
	}
	for _, a := range h.attrs {
		evt = addAttr(evt, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		evt = addAttr(evt, h.group, a)
		return true
	})
	evt.Msg(r.Message)
	return nil
}

// WithAttrs returns a handler that always adds attrs.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		a.Key = qualify(h.group, a.Key)
		next.attrs = append(next.attrs, a)
	}
	return &next
}

// WithGroup prefixes subsequent attribute keys with name.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.group = qualify(h.group, name)
	return &next
}

func addAttr(evt *zerolog.Event, group string, a slog.Attr) *zerolog.Event {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return evt
	}
	key := qualify(group, a.Key)
	switch a.Value.Kind() {
	case slog.KindGroup:
		for _, ga := range a.Value.Group() {
			evt = addAttr(evt, key, ga)
		}
		return evt
	case slog.KindString:
		return evt.Str(key, a.Value.String())
	case slog.KindInt64:
		return evt.Int64(key, a.Value.Int64())
	case slog.KindUint64:
		return evt.Uint64(key, a.Value.Uint64())
	case slog.KindFloat64:
		return evt.Float64(key, a.Value.Float64())
	case slog.KindBool:
		return evt.Bool(key, a.Value.Bool())
	case slog.KindDuration:
		return evt.Dur(key, a.Value.Duration())
	case slog.KindTime:
		return evt.Time(key, a.Value.Time())
	default:
		if err, ok := a.Value.Any().(error); ok {
			return evt.AnErr(key, err)
		}
		return evt.Interface(key, a.Value.Any())
	}
}

func qualify(group, key string) string {
	if group == "" {
		return key
	}
	return group + "." + key
}

func toZerolog(level slog.Level) zerolog.Level {
	switch {
	case level >= slog.LevelError:
		return zerolog.ErrorLevel
	case level >= slog.LevelWarn:
		return zerolog.WarnLevel
	case level >= slog.LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.DebugLevel
	}
}
