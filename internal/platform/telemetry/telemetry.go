// Package telemetry reports breadcrumbs and exceptions to Sentry.
//
// Services depend on the Reporter interface; cmd/server picks Sentry when a DSN is
// configured and Noop otherwise.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
)

// Reporter receives diagnostic events.
type Reporter interface {
	Breadcrumb(ctx context.Context, level slog.Level, category, message string, data map[string]any)
	CaptureException(ctx context.Context, err error, tags map[string]string)
	Flush(timeout time.Duration) bool
}

// Options configures the Sentry client.
type Options struct {
	DSN         string
	Environment string
	Release     string
}

// Sentry forwards events to a dedicated sentry hub.
type Sentry struct {
	hub *sentry.Hub
}

// NewSentry builds a Sentry reporter. An empty DSN yields Noop.
func NewSentry(opts Options) (Reporter, error) {
	if opts.DSN == "" {
		return Noop{}, nil
	}
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:              opts.DSN,
		Environment:      opts.Environment,
		Release:          opts.Release,
		AttachStacktrace: true,
	})
	if err != nil {
		return nil, fmt.Errorf("init sentry: %w", err)
	}
	return &Sentry{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

func (s *Sentry) Breadcrumb(_ context.Context, level slog.Level, category, message string, data map[string]any) {
	s.hub.AddBreadcrumb(&sentry.Breadcrumb{
		Type:      "default",
		Category:  category,
		Message:   message,
		Data:      data,
		Level:     sentryLevel(level),
		Timestamp: time.Now(),
	}, nil)
}

func (s *Sentry) CaptureException(_ context.Context, err error, tags map[string]string) {
	if err == nil {
		return
	}
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		s.hub.CaptureException(err)
	})
}

func (s *Sentry) Flush(timeout time.Duration) bool {
	return s.hub.Flush(timeout)
}

func sentryLevel(level slog.Level) sentry.Level {
	switch {
	case level >= slog.LevelError:
		return sentry.LevelError
	case level >= slog.LevelWarn:
		return sentry.LevelWarning
	case level >= slog.LevelInfo:
		return sentry.LevelInfo
	default:
		return sentry.LevelDebug
	}
}

// Noop discards everything.
type Noop struct{}

func (Noop) Breadcrumb(context.Context, slog.Level, string, string, map[string]any) {}
func (Noop) CaptureException(context.Context, error, map[string]string)             {}
func (Noop) Flush(time.Duration) bool                                               { return true }

// Captured is one exception held by a Recorder.
type Captured struct {
	Err  error
	Tags map[string]string
}

// Recorder keeps events in memory. Tests use it to assert what was reported.
type Recorder struct {
	mu          sync.Mutex
	breadcrumbs []string
	exceptions  []Captured
}

func (r *Recorder) Breadcrumb(_ context.Context, _ slog.Level, category, message string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breadcrumbs = append(r.breadcrumbs, category+": "+message)
}

func (r *Recorder) CaptureException(_ context.Context, err error, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exceptions = append(r.exceptions, Captured{Err: err, Tags: tags})
}

func (r *Recorder) Flush(time.Duration) bool { return true }

// Breadcrumbs returns "category: message" for every breadcrumb so far.
func (r *Recorder) Breadcrumbs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.breadcrumbs...)
}

// Exceptions returns every captured exception so far.
func (r *Recorder) Exceptions() []Captured {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Captured(nil), r.exceptions...)
}
