package telemetry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
)

// ParseLevel maps a LOG_LEVEL value to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// NewLogger returns a JSON logger writing to w. When p exports logs, every
// record is also sent through the OTLP log pipeline.
func NewLogger(w io.Writer, level slog.Level, serviceName string, p *Providers) *slog.Logger {
	h := slog.Handler(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	if p.Enabled() {
		h = &fanout{
			level: level,
			handlers: []slog.Handler{
				h,
				otelslog.NewHandler(serviceName, otelslog.WithLoggerProvider(p.Logger)),
			},
		}
	}
	return slog.New(h)
}

// fanout sends each record at or above level to every handler.
type fanout struct {
	level    slog.Leveler
	handlers []slog.Handler
}

func (f *fanout) Enabled(_ context.Context, l slog.Level) bool {
	return l >= f.level.Level()
}

func (f *fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f.handlers {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f *fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		out[i] = h.WithAttrs(attrs)
	}
	return &fanout{level: f.level, handlers: out}
}

func (f *fanout) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		out[i] = h.WithGroup(name)
	}
	return &fanout{level: f.level, handlers: out}
}
