// Package wifi scans nearby networks and saves them tagged with the current position.
package wifi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"scanmap/internal/geo"
	"scanmap/internal/platform/metrics"
	"scanmap/internal/wifi/models"
)

//go:generate mockgen -source=scanner.go -destination=mocks/mocks.go -package=mocks

// Radio is the platform WiFi collaborator.
type Radio interface {
	IsEnabled(ctx context.Context) (bool, error)
	Scan(ctx context.Context) ([]models.Network, error)
	Connect(ctx context.Context, ssid, password string) error
}

// Saver persists a batch of tagged networks.
type Saver interface {
	Save(ctx context.Context, records []models.Record) error
}

// Locator supplies the position networks are tagged with.
type Locator interface {
	CurrentPosition(ctx context.Context) (geo.Position, error)
}

// ErrMissingSSID is returned by Connect without a network name.
var ErrMissingSSID = errors.New("ssid is required")

// Result of one scan. WifiOff is set instead of an error when the radio is disabled.
type Result struct {
	WifiOff  bool          `json:"wifiOff"`
	Saved    int           `json:"saved"`
	Position *geo.Position `json:"position,omitempty"`
}

// Scanner orchestrates one WiFi scan.
type Scanner struct {
	radio   Radio
	locator Locator
	saver   Saver
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Scanner.
type Option func(*Scanner)

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

func NewScanner(radio Radio, locator Locator, saver Saver, opts ...Option) *Scanner {
	s := &Scanner{
		radio:   radio,
		locator: locator,
		saver:   saver,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "wifi")
	return s
}

// Scan checks the radio, reads the position and the visible networks, tags
// every network with the position and saves them as one batch.
func (s *Scanner) Scan(ctx context.Context) (Result, error) {
	enabled, err := s.radio.IsEnabled(ctx)
	if err != nil {
		s.metrics.IncrementScanOutcome(models.Collection, metrics.OutcomeFailed)
		return Result{}, fmt.Errorf("check wifi state: %w", err)
	}
	if !enabled {
		s.logger.InfoContext(ctx, "wifi is disabled")
		s.metrics.IncrementScanOutcome(models.Collection, metrics.OutcomeRadioOff)
		return Result{WifiOff: true}, nil
	}

	var (
		pos      geo.Position
		networks []models.Network
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.locator.CurrentPosition(gctx)
		if err != nil {
			return fmt.Errorf("get current position: %w", err)
		}
		pos = p
		return nil
	})
	g.Go(func() error {
		n, err := s.radio.Scan(gctx)
		if err != nil {
			return fmt.Errorf("scan networks: %w", err)
		}
		networks = n
		return nil
	})
	if err := g.Wait(); err != nil {
		s.metrics.IncrementScanOutcome(models.Collection, metrics.OutcomeFailed)
		return Result{}, err
	}

	records := make([]models.Record, 0, len(networks))
	for _, n := range networks {
		records = append(records, models.Record{Network: n, Latitude: pos.Latitude, Longitude: pos.Longitude})
	}
	if len(records) == 0 {
		s.metrics.IncrementScanOutcome(models.Collection, metrics.OutcomeEmpty)
		return Result{Position: &pos}, nil
	}

	if err := s.saver.Save(ctx, records); err != nil {
		s.metrics.IncrementScanOutcome(models.Collection, metrics.OutcomeFailed)
		return Result{}, err
	}
	s.metrics.IncrementScanOutcome(models.Collection, metrics.OutcomeSaved)
	s.logger.InfoContext(ctx, "networks saved", "count", len(records))
	return Result{Saved: len(records), Position: &pos}, nil
}

// Connect joins the named network.
func (s *Scanner) Connect(ctx context.Context, ssid, password string) error {
	if ssid == "" {
		return ErrMissingSSID
	}
	if err := s.radio.Connect(ctx, ssid, password); err != nil {
		return fmt.Errorf("connect to %q: %w", ssid, err)
	}
	s.logger.InfoContext(ctx, "connected to network", "ssid", ssid)
	return nil
}
