// Package bluetooth runs time-boxed BLE discovery sessions and saves the
// devices seen during the window.
package bluetooth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"scanmap/internal/bluetooth/models"
	"scanmap/internal/geo"
	"scanmap/internal/platform/metrics"
	"scanmap/pkg/platform/sentinel"
	strs "scanmap/pkg/platform/strings"
)

//go:generate mockgen -source=scanner.go -destination=mocks/mocks.go -package=mocks

// DefaultWindow is how long one discovery session listens.
const DefaultWindow = 5 * time.Second

// Radio is the platform BLE collaborator. The handler receives either an
// error or a device; powered-off conditions arrive as errors wrapping
// sentinel.ErrPoweredOff.
type Radio interface {
	StartScan(ctx context.Context, handle func(err error, adv *models.Advertisement)) error
	StopScan(ctx context.Context) error
}

// Saver persists the devices of one session.
type Saver interface {
	Save(ctx context.Context, records []models.Record) error
}

// Locator places each discovered device.
type Locator interface {
	CurrentPosition(ctx context.Context) (geo.Position, error)
}

// Result of one session. BluetoothOff is set instead of an error when the
// radio is powered off or refuses to start. Interrupted marks a session whose
// radio failed for another reason; its devices are still saved at window close.
type Result struct {
	BluetoothOff bool `json:"bluetoothOff"`
	Aborted      bool `json:"aborted"`
	Interrupted  bool `json:"interrupted,omitempty"`
	Seen         int  `json:"seen"`
	Saved        int  `json:"saved"`
}

// Scanner runs one session at a time.
type Scanner struct {
	radio   Radio
	locator Locator
	saver   Saver
	window  time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics

	running sync.Mutex
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithWindow overrides DefaultWindow.
func WithWindow(d time.Duration) Option {
	return func(s *Scanner) {
		if d > 0 {
			s.window = d
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

func NewScanner(radio Radio, locator Locator, saver Saver, opts ...Option) *Scanner {
	s := &Scanner{
		radio:   radio,
		locator: locator,
		saver:   saver,
		window:  DefaultWindow,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "bluetooth")
	return s
}

type report struct {
	err error
	adv models.Advertisement
}

// Scan listens for the configured window, then saves every device seen in
// arrival order with one Save call. A powered-off radio ends the session early
// and nothing is saved. Any other radio error stops discovery, but the devices
// seen so far are still saved when the window closes. Only one session may run
// at a time; a concurrent call fails with sentinel.ErrInvalidState.
func (s *Scanner) Scan(ctx context.Context) (Result, error) {
	if !s.running.TryLock() {
		return Result{}, fmt.Errorf("bluetooth scan already running: %w", sentinel.ErrInvalidState)
	}
	defer s.running.Unlock()

	reports := make(chan report, 64)
	done := make(chan struct{})
	var closeOnce sync.Once
	finish := func() { closeOnce.Do(func() { close(done) }) }
	defer finish()

	handle := func(err error, adv *models.Advertisement) {
		r := report{err: err}
		if err == nil {
			if adv == nil {
				return
			}
			r.adv = *adv
		}
		select {
		case reports <- r:
		case <-done:
		}
	}

	if err := s.radio.StartScan(ctx, handle); err != nil {
		s.logger.WarnContext(ctx, "bluetooth scan did not start", "error", err)
		s.metrics.IncrementScanOutcome(models.Collection, metrics.OutcomeRadioOff)
		return Result{BluetoothOff: true, Aborted: true}, nil
	}

	timer := time.NewTimer(s.window)
	defer timer.Stop()

	var (
		records     []models.Record
		interrupted bool
	)
	for {
		select {
		case <-ctx.Done():
			finish()
			if !interrupted {
				s.stop(ctx)
			}
			s.metrics.IncrementScanOutcome(models.Collection, metrics.OutcomeAborted)
			return Result{Aborted: true, Interrupted: interrupted, Seen: len(records)}, ctx.Err()

		case r := <-reports:
			if interrupted {
				continue
			}
			if r.err != nil {
				finish()
				s.stop(ctx)
				if errors.Is(r.err, sentinel.ErrPoweredOff) {
					timer.Stop()
					s.logger.InfoContext(ctx, "bluetooth powered off during scan")
					s.metrics.IncrementScanOutcome(models.Collection, metrics.OutcomeRadioOff)
					return Result{BluetoothOff: true, Aborted: true, Seen: len(records)}, nil
				}
				s.logger.WarnContext(ctx, "bluetooth scan error, waiting for window to close", "error", r.err, "seen", len(records))
				interrupted = true
				continue
			}
			pos, err := s.locator.CurrentPosition(ctx)
			if err != nil {
				s.logger.WarnContext(ctx, "no position for device", "id", r.adv.ID, "error", err)
			}
			records = append(records, toRecord(r.adv, pos))

		case <-timer.C:
			finish()
			if !interrupted {
				s.stop(ctx)
			}
			res, err := s.flush(ctx, records)
			res.Interrupted = interrupted
			return res, err
		}
	}
}

func (s *Scanner) stop(ctx context.Context) {
	if err := s.radio.StopScan(context.WithoutCancel(ctx)); err != nil {
		s.logger.WarnContext(ctx, "stop bluetooth scan", "error", err)
	}
}

func (s *Scanner) flush(ctx context.Context, records []models.Record) (Result, error) {
	if len(records) == 0 {
		s.metrics.IncrementScanOutcome(models.Collection, metrics.OutcomeEmpty)
		return Result{}, nil
	}
	if err := s.saver.Save(ctx, records); err != nil {
		s.metrics.IncrementScanOutcome(models.Collection, metrics.OutcomeFailed)
		return Result{Seen: len(records)}, err
	}
	s.metrics.IncrementScanOutcome(models.Collection, metrics.OutcomeSaved)
	s.logger.InfoContext(ctx, "devices saved", "count", len(records))
	return Result{Seen: len(records), Saved: len(records)}, nil
}

func toRecord(adv models.Advertisement, pos geo.Position) models.Record {
	return models.Record{
		ID:            adv.ID,
		Name:          adv.Name,
		RSSI:          adv.RSSI,
		ServiceUUIDs:  strs.DedupeAndTrimLower(adv.ServiceUUIDs),
		IsConnectable: adv.IsConnectable,
		Latitude:      pos.Latitude,
		Longitude:     pos.Longitude,
	}
}
