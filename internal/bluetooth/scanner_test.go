package bluetooth

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"scanmap/internal/bluetooth/mocks"
	"scanmap/internal/bluetooth/models"
	"scanmap/internal/geo"
	"scanmap/pkg/platform/sentinel"
)

type step struct {
	after time.Duration
	err   error
	adv   *models.Advertisement
}

// fakeRadio replays a script of reports once the scan has started.
type fakeRadio struct {
	steps    []step
	startErr error
	started  chan struct{}
	stops    atomic.Int32
}

func newFakeRadio(steps ...step) *fakeRadio {
	return &fakeRadio{steps: steps, started: make(chan struct{}, 1)}
}

func (f *fakeRadio) StartScan(_ context.Context, handle func(error, *models.Advertisement)) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started <- struct{}{}
	go func() {
		for _, st := range f.steps {
			time.Sleep(st.after)
			handle(st.err, st.adv)
		}
	}()
	return nil
}

func (f *fakeRadio) StopScan(context.Context) error {
	f.stops.Add(1)
	return nil
}

func device(id string) *models.Advertisement {
	return &models.Advertisement{ID: id, RSSI: -60}
}

type ScannerSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	saver   *mocks.MockSaver
	locator geo.Static
}

func TestScannerSuite(t *testing.T) {
	suite.Run(t, new(ScannerSuite))
}

func (s *ScannerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.saver = mocks.NewMockSaver(s.ctrl)
	s.locator = geo.Static{Latitude: 50.43, Longitude: 30.53}
}

func (s *ScannerSuite) scanner(radio Radio, window time.Duration) *Scanner {
	return NewScanner(radio, s.locator, s.saver, WithWindow(window))
}

func (s *ScannerSuite) TestWindowFlushesDevicesInArrivalOrder() {
	radio := newFakeRadio(
		step{after: 5 * time.Millisecond, adv: device("b")},
		step{after: 5 * time.Millisecond, adv: device("a")},
		step{after: 5 * time.Millisecond, adv: device("c")},
	)
	s.saver.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, records []models.Record) error {
		s.Require().Len(records, 3)
		s.Equal("b", records[0].ID)
		s.Equal("a", records[1].ID)
		s.Equal("c", records[2].ID)
		s.Equal(50.43, records[0].Latitude)
		return nil
	})

	res, err := s.scanner(radio, 150*time.Millisecond).Scan(context.Background())
	s.Require().NoError(err)
	s.Equal(Result{Seen: 3, Saved: 3}, res)
	s.EqualValues(1, radio.stops.Load())
}

func (s *ScannerSuite) TestPoweredOffAbortsWithoutSaving() {
	radio := newFakeRadio(
		step{after: 5 * time.Millisecond, adv: device("a")},
		step{after: 20 * time.Millisecond, err: fmt.Errorf("adapter state: %w", sentinel.ErrPoweredOff)},
	)
	s.saver.EXPECT().Save(gomock.Any(), gomock.Any()).Times(0)

	start := time.Now()
	res, err := s.scanner(radio, 2*time.Second).Scan(context.Background())
	s.Require().NoError(err)
	s.True(res.BluetoothOff)
	s.True(res.Aborted)
	s.Equal(1, res.Seen)
	s.Less(time.Since(start), time.Second, "session must end before the window closes")
	s.EqualValues(1, radio.stops.Load())
}

func (s *ScannerSuite) TestOtherRadioErrorStopsDiscoveryAndSavesAtWindowClose() {
	radio := newFakeRadio(
		step{after: 5 * time.Millisecond, adv: device("a")},
		step{after: 5 * time.Millisecond, adv: device("b")},
		step{after: 5 * time.Millisecond, err: errors.New("scan throttled")},
		step{after: 5 * time.Millisecond, adv: device("late")},
	)
	s.saver.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, records []models.Record) error {
		s.Require().Len(records, 2)
		s.Equal("a", records[0].ID)
		s.Equal("b", records[1].ID)
		return nil
	})

	window := 150 * time.Millisecond
	start := time.Now()
	res, err := s.scanner(radio, window).Scan(context.Background())
	s.Require().NoError(err)
	s.GreaterOrEqual(time.Since(start), window, "the session still runs to the end of the window")
	s.Equal(Result{Interrupted: true, Seen: 2, Saved: 2}, res)
	s.EqualValues(1, radio.stops.Load())
}

func (s *ScannerSuite) TestStartFailureSetsBluetoothOff() {
	radio := newFakeRadio()
	radio.startErr = errors.New("unauthorized")
	s.saver.EXPECT().Save(gomock.Any(), gomock.Any()).Times(0)

	res, err := s.scanner(radio, time.Second).Scan(context.Background())
	s.Require().NoError(err)
	s.True(res.BluetoothOff)
	s.Zero(radio.stops.Load())
}

func (s *ScannerSuite) TestEmptyWindowSavesNothing() {
	s.saver.EXPECT().Save(gomock.Any(), gomock.Any()).Times(0)

	res, err := s.scanner(newFakeRadio(), 20*time.Millisecond).Scan(context.Background())
	s.Require().NoError(err)
	s.Equal(Result{}, res)
}

func (s *ScannerSuite) TestSaveFailureIsReturned() {
	boom := errors.New("store offline")
	radio := newFakeRadio(step{after: time.Millisecond, adv: device("a")})
	s.saver.EXPECT().Save(gomock.Any(), gomock.Any()).Return(boom)

	res, err := s.scanner(radio, 50*time.Millisecond).Scan(context.Background())
	s.Require().ErrorIs(err, boom)
	s.Zero(res.Saved)
}

func (s *ScannerSuite) TestConcurrentSessionRejected() {
	radio := newFakeRadio()
	scanner := s.scanner(radio, 200*time.Millisecond)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = scanner.Scan(context.Background())
	}()
	<-radio.started

	_, err := scanner.Scan(context.Background())
	s.Require().ErrorIs(err, sentinel.ErrInvalidState)
	<-done
}

func (s *ScannerSuite) TestCancelledContextStopsScan() {
	radio := newFakeRadio(step{after: time.Millisecond, adv: device("a")})
	s.saver.EXPECT().Save(gomock.Any(), gomock.Any()).Times(0)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	res, err := s.scanner(radio, time.Second).Scan(ctx)
	s.Require().ErrorIs(err, context.DeadlineExceeded)
	s.True(res.Aborted)
	s.EqualValues(1, radio.stops.Load())
}

func (s *ScannerSuite) TestDevicesPlacedByLocator() {
	ctrl := gomock.NewController(s.T())
	locator := mocks.NewMockLocator(ctrl)
	gomock.InOrder(
		locator.EXPECT().CurrentPosition(gomock.Any()).Return(geo.Position{Latitude: 1, Longitude: 2}, nil),
		locator.EXPECT().CurrentPosition(gomock.Any()).Return(geo.Position{Latitude: 3, Longitude: 4}, nil),
	)
	radio := newFakeRadio(
		step{after: time.Millisecond, adv: device("a")},
		step{after: time.Millisecond, adv: device("b")},
	)
	s.saver.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, records []models.Record) error {
		s.Require().Len(records, 2)
		s.Equal(1.0, records[0].Latitude)
		s.Equal(4.0, records[1].Longitude)
		return nil
	})

	_, err := NewScanner(radio, locator, s.saver, WithWindow(80*time.Millisecond)).Scan(context.Background())
	s.Require().NoError(err)
}

func (s *ScannerSuite) TestServiceUUIDsNormalized() {
	adv := device("a")
	adv.ServiceUUIDs = []string{"0000180F-0000-1000-8000-00805F9B34FB", "0000180f-0000-1000-8000-00805f9b34fb"}
	radio := newFakeRadio(step{after: time.Millisecond, adv: adv})
	s.saver.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, records []models.Record) error {
		s.Require().Len(records, 1)
		s.Equal([]string{"0000180f-0000-1000-8000-00805f9b34fb"}, records[0].ServiceUUIDs)
		return nil
	})

	_, err := s.scanner(radio, 50*time.Millisecond).Scan(context.Background())
	s.Require().NoError(err)
}
