// Package permission tracks the grant state of the platform permissions the
// scanners depend on.
package permission

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"scanmap/pkg/platform/sentinel"
)

// Name of an app permission.
type Name string

const (
	Location  Name = "location"
	Camera    Name = "camera"
	Bluetooth Name = "bluetooth"
)

// Names lists every permission the app asks for.
var Names = []Name{Location, Camera, Bluetooth}

// Result of a permission prompt.
type Result string

const (
	Granted       Result = "granted"
	Denied        Result = "denied"
	NeverAskAgain Result = "never_ask_again"
)

// Prompter is the platform permission collaborator.
type Prompter interface {
	Check(ctx context.Context, name Name) (bool, error)
	Request(ctx context.Context, name Name) (Result, error)
}

// State is what the presentation shows for one permission. Blocked means the
// user must go to the system settings; ShouldShowRequest means asking again
// is still possible.
type State struct {
	Granted           bool   `json:"granted"`
	Loading           bool   `json:"loading"`
	Error             string `json:"error,omitempty"`
	Blocked           bool   `json:"blocked"`
	ShouldShowRequest bool   `json:"shouldShowRequest"`
}

// Tracker holds the state of one permission.
type Tracker struct {
	name      Name
	prompter  Prompter
	onBlocked func(Name)
	logger    *slog.Logger

	mu    sync.Mutex
	state State
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithOnBlocked registers the callback fired when a request is answered with
// "never ask again".
func WithOnBlocked(fn func(Name)) Option {
	return func(t *Tracker) {
		t.onBlocked = fn
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func NewTracker(name Name, prompter Prompter, opts ...Option) *Tracker {
	t := &Tracker{
		name:     name,
		prompter: prompter,
		logger:   slog.Default(),
		state:    State{Loading: true},
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "permission", "permission", string(name))
	return t
}

func (t *Tracker) Name() Name {
	return t.name
}

// State returns the latest known state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tracker) set(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *Tracker) begin() {
	t.mu.Lock()
	t.state.Loading = true
	t.state.Error = ""
	t.mu.Unlock()
}

// Check reads the current grant without prompting.
func (t *Tracker) Check(ctx context.Context) bool {
	t.begin()
	granted, err := t.prompter.Check(ctx, t.name)
	if err != nil {
		t.logger.ErrorContext(ctx, "permission check failed", "error", err)
		t.set(State{Error: errorMessage(err, "Permission check failed")})
		return false
	}
	t.set(State{Granted: granted, ShouldShowRequest: !granted})
	return granted
}

// Request prompts the user. A "never ask again" answer marks the permission
// blocked and fires the blocked callback.
func (t *Tracker) Request(ctx context.Context) bool {
	t.begin()
	res, err := t.prompter.Request(ctx, t.name)
	if err != nil {
		t.logger.ErrorContext(ctx, "permission request failed", "error", err)
		t.set(State{Error: errorMessage(err, "Permission request failed")})
		return false
	}
	granted := res == Granted
	blocked := res == NeverAskAgain
	if blocked && t.onBlocked != nil {
		t.onBlocked(t.name)
	}
	t.logger.InfoContext(ctx, "permission answered", "result", string(res))
	t.set(State{Granted: granted, Blocked: blocked, ShouldShowRequest: !granted && !blocked})
	return granted
}

// Require checks the grant and fails with sentinel.ErrPermissionDenied when
// it is missing.
func (t *Tracker) Require(ctx context.Context) error {
	if t.Check(ctx) {
		return nil
	}
	if s := t.State(); s.Error != "" {
		return fmt.Errorf("%s permission: %s: %w", t.name, s.Error, sentinel.ErrPermissionDenied)
	}
	return fmt.Errorf("%s permission not granted: %w", t.name, sentinel.ErrPermissionDenied)
}

func errorMessage(err error, fallback string) string {
	if msg := err.Error(); msg != "" {
		return msg
	}
	return fallback
}

// Set holds one tracker per permission name.
type Set struct {
	trackers map[Name]*Tracker
}

// NewSet builds trackers for every name in Names sharing one prompter.
func NewSet(prompter Prompter, opts ...Option) *Set {
	s := &Set{trackers: make(map[Name]*Tracker, len(Names))}
	for _, n := range Names {
		s.trackers[n] = NewTracker(n, prompter, opts...)
	}
	return s
}

// Get returns the tracker for name or sentinel.ErrNotFound.
func (s *Set) Get(name Name) (*Tracker, error) {
	t, ok := s.trackers[name]
	if !ok {
		return nil, fmt.Errorf("permission %q: %w", name, sentinel.ErrNotFound)
	}
	return t, nil
}
