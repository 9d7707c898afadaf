package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"scanmap/internal/platform/telemetry"
)

// New returns a structured logger writing to stdout. Records at Info and above
// are mirrored to the reporter as breadcrumbs.
func New(level, format string, reporter telemetry.Reporter) *slog.Logger {
	return NewWithWriter(os.Stdout, level, format, reporter)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(w io.Writer, level, format string, reporter telemetry.Reporter) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var h slog.Handler
	if strings.EqualFold(format, "text") {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}
	if reporter != nil {
		h = &breadcrumbHandler{next: h, reporter: reporter, min: slog.LevelInfo}
	}
	return slog.New(h)
}

// ParseLevel maps debug/info/warn/error to a slog level, defaulting to info.
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

type breadcrumbHandler struct {
	next     slog.Handler
	reporter telemetry.Reporter
	min      slog.Level
	attrs    []slog.Attr
	group    string
}

func (h *breadcrumbHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *breadcrumbHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= h.min {
		data := make(map[string]any, len(h.attrs)+r.NumAttrs())
		for _, a := range h.attrs {
			data[a.Key] = a.Value.Any()
		}
		r.Attrs(func(a slog.Attr) bool {
			data[a.Key] = a.Value.Any()
			return true
		})
		category := h.group
		if c, ok := data["component"].(string); ok {
			category = c
		}
		h.reporter.Breadcrumb(ctx, r.Level, category, r.Message, data)
	}
	return h.next.Handle(ctx, r)
}

func (h *breadcrumbHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &breadcrumbHandler{next: h.next.WithAttrs(attrs), reporter: h.reporter, min: h.min, attrs: merged, group: h.group}
}

func (h *breadcrumbHandler) WithGroup(name string) slog.Handler {
	group := name
	if h.group != "" {
		group = h.group + "." + name
	}
	return &breadcrumbHandler{next: h.next.WithGroup(name), reporter: h.reporter, min: h.min, attrs: h.attrs, group: group}
}
