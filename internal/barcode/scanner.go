// Package barcode turns camera detections into saved barcode records.
package barcode

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"scanmap/internal/barcode/models"
	"scanmap/internal/platform/metrics"
	"scanmap/internal/reconcile"
)

//go:generate mockgen -source=scanner.go -destination=mocks/mocks.go -package=mocks

// DefaultDebounce is the quiet period after an accepted detection event.
const DefaultDebounce = 3 * time.Second

// Saver persists a batch of barcodes.
type Saver interface {
	Save(ctx context.Context, records []models.Barcode) error
}

// Catalog answers whether a stored barcode matches.
type Catalog interface {
	Any(match func(models.Barcode) bool) bool
}

// Outcome of one detection event.
type Outcome string

const (
	OutcomeSaved     Outcome = "saved"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeDebounced Outcome = "debounced"
	OutcomeEmpty     Outcome = "empty"
)

// Result reports what happened to a detection event. A duplicate result is the
// "already known" notice; a saved result means the camera can close.
type Result struct {
	Outcome Outcome `json:"outcome"`
	Saved   int     `json:"saved"`
}

// Scanner applies the debounce window and the exact-match duplicate gate
// before handing detections to the sync service.
type Scanner struct {
	saver    Saver
	policy   reconcile.Policy[models.Barcode]
	debounce time.Duration
	now      func() time.Time
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu           sync.Mutex
	lastAccepted time.Time
}

// Option configures a Scanner.
type Option func(*Scanner)

func WithDebounce(d time.Duration) Option {
	return func(s *Scanner) {
		s.debounce = d
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scanner) {
		if now != nil {
			s.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scanner) {
		s.metrics = m
	}
}

// NewScanner builds a scanner that rejects batches containing a code already in catalog.
func NewScanner(saver Saver, catalog Catalog, opts ...Option) *Scanner {
	s := &Scanner{
		saver: saver,
		policy: reconcile.ExactMatch[models.Barcode]{
			Known: func(b models.Barcode) bool {
				return catalog.Any(func(existing models.Barcode) bool {
					return existing.RawValue == b.RawValue
				})
			},
		},
		debounce: DefaultDebounce,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "barcode")
	return s
}

// HandleDetections processes one detection event from the camera.
func (s *Scanner) HandleDetections(ctx context.Context, detections []models.Detection) (Result, error) {
	if len(detections) == 0 {
		return Result{Outcome: OutcomeEmpty}, nil
	}
	if !s.accept() {
		s.metrics.IncrementScanOutcome(models.Collection, metrics.OutcomeDebounced)
		return Result{Outcome: OutcomeDebounced}, nil
	}

	batch := make([]models.Barcode, 0, len(detections))
	for _, d := range detections {
		batch = append(batch, models.FromDetection(d))
	}

	admitted, ok := s.policy.Admit(batch)
	if !ok {
		s.logger.InfoContext(ctx, "barcode already known", "codes", len(batch))
		s.metrics.IncrementScanOutcome(models.Collection, metrics.OutcomeDuplicate)
		return Result{Outcome: OutcomeDuplicate}, nil
	}

	if err := s.saver.Save(ctx, admitted); err != nil {
		s.metrics.IncrementScanOutcome(models.Collection, metrics.OutcomeFailed)
		return Result{}, err
	}
	s.metrics.IncrementScanOutcome(models.Collection, metrics.OutcomeSaved)
	return Result{Outcome: OutcomeSaved, Saved: len(admitted)}, nil
}

// accept reports whether the debounce window has passed and starts a new one if so.
func (s *Scanner) accept() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if !s.lastAccepted.IsZero() && now.Sub(s.lastAccepted) < s.debounce {
		return false
	}
	s.lastAccepted = now
	return true
}

// Run feeds detection events from source until ctx ends or source closes.
func (s *Scanner) Run(ctx context.Context, source <-chan []models.Detection) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case detections, ok := <-source:
			if !ok {
				return nil
			}
			res, err := s.HandleDetections(ctx, detections)
			if err != nil {
				s.logger.ErrorContext(ctx, "saving scanned barcodes failed", "error", err)
				continue
			}
			s.logger.DebugContext(ctx, "detection handled", "outcome", string(res.Outcome), "saved", res.Saved)
		}
	}
}
