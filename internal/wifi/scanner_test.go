package wifi

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"scanmap/internal/docstore"
	"scanmap/internal/docstore/memory"
	"scanmap/internal/geo"
	"scanmap/internal/identity"
	"scanmap/internal/sync/cache"
	"scanmap/internal/sync/service"
	"scanmap/internal/wifi/mocks"
	"scanmap/internal/wifi/models"
	"scanmap/pkg/platform/sentinel"
)

type ScannerSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	radio   *mocks.MockRadio
	locator *mocks.MockLocator
	saver   *mocks.MockSaver
	scanner *Scanner
}

func TestScannerSuite(t *testing.T) {
	suite.Run(t, new(ScannerSuite))
}

func (s *ScannerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.radio = mocks.NewMockRadio(s.ctrl)
	s.locator = mocks.NewMockLocator(s.ctrl)
	s.saver = mocks.NewMockSaver(s.ctrl)
	s.scanner = NewScanner(s.radio, s.locator, s.saver)
}

func (s *ScannerSuite) TestScanTagsEveryNetworkWithPosition() {
	pos := geo.Position{Latitude: 50.45, Longitude: 30.52}
	s.radio.EXPECT().IsEnabled(gomock.Any()).Return(true, nil)
	s.locator.EXPECT().CurrentPosition(gomock.Any()).Return(pos, nil)
	s.radio.EXPECT().Scan(gomock.Any()).Return([]models.Network{
		{SSID: "home", BSSID: "aa:bb:cc:dd:ee:01", Level: -40, Frequency: 2412},
		{SSID: "cafe", BSSID: "aa:bb:cc:dd:ee:02", Level: -71, Frequency: 5180},
	}, nil)
	s.saver.EXPECT().Save(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, records []models.Record) error {
		s.Require().Len(records, 2)
		for _, r := range records {
			s.Equal(50.45, r.Latitude)
			s.Equal(30.52, r.Longitude)
		}
		return nil
	})

	res, err := s.scanner.Scan(context.Background())
	s.Require().NoError(err)
	s.False(res.WifiOff)
	s.Equal(2, res.Saved)
}

func (s *ScannerSuite) TestDisabledRadioSetsWifiOff() {
	s.radio.EXPECT().IsEnabled(gomock.Any()).Return(false, nil)
	s.radio.EXPECT().Scan(gomock.Any()).Times(0)
	s.saver.EXPECT().Save(gomock.Any(), gomock.Any()).Times(0)

	res, err := s.scanner.Scan(context.Background())
	s.Require().NoError(err)
	s.True(res.WifiOff)
}

func (s *ScannerSuite) TestPositionTimeoutFailsScan() {
	s.radio.EXPECT().IsEnabled(gomock.Any()).Return(true, nil)
	s.locator.EXPECT().CurrentPosition(gomock.Any()).Return(geo.Position{}, sentinel.ErrTimeout)
	s.radio.EXPECT().Scan(gomock.Any()).Return(nil, nil).AnyTimes()
	s.saver.EXPECT().Save(gomock.Any(), gomock.Any()).Times(0)

	_, err := s.scanner.Scan(context.Background())
	s.Require().ErrorIs(err, sentinel.ErrTimeout)
}

func (s *ScannerSuite) TestNoNetworksSavesNothing() {
	s.radio.EXPECT().IsEnabled(gomock.Any()).Return(true, nil)
	s.locator.EXPECT().CurrentPosition(gomock.Any()).Return(geo.Position{}, nil)
	s.radio.EXPECT().Scan(gomock.Any()).Return(nil, nil)
	s.saver.EXPECT().Save(gomock.Any(), gomock.Any()).Times(0)

	res, err := s.scanner.Scan(context.Background())
	s.Require().NoError(err)
	s.Zero(res.Saved)
}

func (s *ScannerSuite) TestConnect() {
	s.Run("requires ssid", func() {
		s.Require().ErrorIs(s.scanner.Connect(context.Background(), "", "pw"), ErrMissingSSID)
	})
	s.Run("forwards to radio", func() {
		s.radio.EXPECT().Connect(gomock.Any(), "home", "secret").Return(nil)
		s.Require().NoError(s.scanner.Connect(context.Background(), "home", "secret"))
	})
	s.Run("wraps radio errors", func() {
		boom := errors.New("auth rejected")
		s.radio.EXPECT().Connect(gomock.Any(), "home", "wrong").Return(boom)
		s.Require().ErrorIs(s.scanner.Connect(context.Background(), "home", "wrong"), boom)
	})
}

// Three networks seen at one position end up as three remote documents and
// three cache entries carrying that position.
func (s *ScannerSuite) TestScanThroughSyncService() {
	ctx := context.Background()
	docs := memory.New()
	c := cache.New[string, models.Record]()
	sync := service.New(Domain(), docs, identity.Static("inst-1"), c)
	s.Require().NoError(sync.Subscribe(ctx))
	defer sync.Unsubscribe()

	s.scanner = NewScanner(s.radio, geo.Static{Latitude: 50.45, Longitude: 30.52}, sync)
	s.radio.EXPECT().IsEnabled(gomock.Any()).Return(true, nil)
	s.radio.EXPECT().Scan(gomock.Any()).Return([]models.Network{
		{SSID: "a", BSSID: "01"}, {SSID: "b", BSSID: "02"}, {SSID: "c", BSSID: "03"},
	}, nil)

	res, err := s.scanner.Scan(ctx)
	s.Require().NoError(err)
	s.Equal(3, res.Saved)

	stored, err := docs.List(ctx, docstore.Collection("inst-1", models.Collection))
	s.Require().NoError(err)
	s.Len(stored, 3)

	s.Eventually(func() bool { return c.Len() == 3 }, timeout, tick)
	for _, r := range c.Values() {
		s.Equal(50.45, r.Latitude)
		s.Equal(30.52, r.Longitude)
	}
}
