package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"

	"scanmap/internal/barcode"
	barcodemodels "scanmap/internal/barcode/models"
	"scanmap/internal/bluetooth"
	"scanmap/internal/docstore"
	"scanmap/internal/docstore/memory"
	"scanmap/internal/geo"
	"scanmap/internal/identity"
	"scanmap/internal/mapview"
	"scanmap/internal/permission"
	"scanmap/internal/platform/metrics"
	"scanmap/internal/sync/cache"
	"scanmap/internal/sync/service"
	"scanmap/internal/wifi"
	"scanmap/pkg/platform/sentinel"
)

type stubWifi struct {
	result     wifi.Result
	err        error
	connectErr error
	connected  []string
}

func (s *stubWifi) Scan(context.Context) (wifi.Result, error) { return s.result, s.err }
func (s *stubWifi) Connect(_ context.Context, ssid, _ string) error {
	s.connected = append(s.connected, ssid)
	return s.connectErr
}

type stubBluetooth struct {
	result bluetooth.Result
	err    error
}

func (s *stubBluetooth) Scan(context.Context) (bluetooth.Result, error) { return s.result, s.err }

type stubMap []mapview.Location

func (s stubMap) Locations(context.Context) []mapview.Location { return s }

type stubPrompter struct {
	granted bool
	answer  permission.Result
}

func (p *stubPrompter) Check(context.Context, permission.Name) (bool, error) { return p.granted, nil }
func (p *stubPrompter) Request(context.Context, permission.Name) (permission.Result, error) {
	return p.answer, nil
}

// unreliableListen fails the first Listen call and delegates afterwards.
type unreliableListen struct {
	*memory.Store
	calls atomic.Int32
}

func (u *unreliableListen) Listen(ctx context.Context, col docstore.CollectionRef) (docstore.Subscription, error) {
	if u.calls.Add(1) == 1 {
		return nil, errors.New("listen: connection refused")
	}
	return u.Store.Listen(ctx, col)
}

type RouterSuite struct {
	suite.Suite
	docs     *memory.Store
	barcodes *service.Service[string, barcodemodels.Barcode]
	wifi     *stubWifi
	bt       *stubBluetooth
	prompter *stubPrompter
	router   http.Handler
	healthy  error
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.docs = memory.New()
	s.barcodes = service.New(barcode.Domain(), s.docs, identity.Static("inst-1"), cache.New[string, barcodemodels.Barcode]())
	s.Require().NoError(s.barcodes.Subscribe(context.Background()))
	s.T().Cleanup(s.barcodes.Unsubscribe)

	s.wifi = &stubWifi{}
	s.bt = &stubBluetooth{}
	s.prompter = &stubPrompter{granted: true}
	s.healthy = nil

	reg := prometheus.NewRegistry()
	s.router = NewRouter(NewHandler(Deps{
		Collections: map[string]Collection{barcodemodels.Collection: NewCollection[barcodemodels.Barcode](s.barcodes)},
		Barcodes:    barcode.NewScanner(s.barcodes, s.barcodes.Cache(), barcode.WithDebounce(0)),
		Networks:    s.wifi,
		Devices:     s.bt,
		Map:         stubMap{mapview.Current(geo.Position{Latitude: 1, Longitude: 2})},
		Permissions: permission.NewSet(s.prompter),
		Health:      map[string]HealthCheck{"docstore": func(context.Context) error { return s.healthy }},
		Gatherer:    reg,
		Metrics:     metrics.New(reg),
	}))
}

func (s *RouterSuite) do(method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *RouterSuite) listBarcodes() ListResponse {
	rec := s.do(http.MethodGet, "/api/barcodes", nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var resp struct {
		Records []barcodemodels.Barcode `json:"records"`
		Loading bool                    `json:"loading"`
		Error   string                  `json:"error"`
	}
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&resp))
	return ListResponse{Records: resp.Records, Loading: resp.Loading, Error: resp.Error}
}

func (s *RouterSuite) TestHealth() {
	s.Equal(http.StatusOK, s.do(http.MethodGet, "/healthz", nil).Code)
	s.healthy = errors.New("connection refused")
	s.Equal(http.StatusServiceUnavailable, s.do(http.MethodGet, "/healthz", nil).Code)
}

func (s *RouterSuite) TestMetricsExposed() {
	s.do(http.MethodGet, "/healthz", nil)
	rec := s.do(http.MethodGet, "/metrics", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "scanmap_http_request_duration_seconds")
}

func (s *RouterSuite) TestDetectionsSavedListedAndDeleted() {
	rec := s.do(http.MethodPost, "/api/barcodes/detections", []barcodemodels.Detection{{Value: "123", Type: "qr"}})
	s.Require().Equal(http.StatusOK, rec.Code)
	var res barcode.Result
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&res))
	s.Equal(barcode.OutcomeSaved, res.Outcome)

	s.Eventually(func() bool {
		records, _ := s.listBarcodes().Records.([]barcodemodels.Barcode)
		return len(records) == 1 && records[0].RawValue == "123"
	}, time.Second, 5*time.Millisecond)

	rec = s.do(http.MethodPost, "/api/barcodes/detections", []barcodemodels.Detection{{Value: "123", Type: "qr"}})
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&res))
	s.Equal(barcode.OutcomeDuplicate, res.Outcome)

	s.Equal(http.StatusNoContent, s.do(http.MethodDelete, "/api/barcodes/123", nil).Code)
	s.Eventually(func() bool {
		records, _ := s.listBarcodes().Records.([]barcodemodels.Barcode)
		return len(records) == 0
	}, time.Second, 5*time.Millisecond)
}

func (s *RouterSuite) TestDeleteKeyContainingSlashes() {
	key := "https://example.com/p/1"
	s.Require().NoError(s.barcodes.Save(context.Background(), []barcodemodels.Barcode{
		{ID: key, RawValue: key}, {ID: "other", RawValue: "other"},
	}))
	s.Eventually(func() bool { return s.barcodes.Cache().Len() == 2 }, time.Second, 5*time.Millisecond)

	s.Equal(http.StatusNoContent, s.do(http.MethodDelete, "/api/barcodes/"+url.PathEscape(key), nil).Code)
	s.Eventually(func() bool {
		_, found := s.barcodes.Cache().Get(key)
		return !found && s.barcodes.Cache().Len() == 1
	}, time.Second, 5*time.Millisecond)

	req := httptest.NewRequest(http.MethodDelete, "/api/barcodes/placeholder", nil)
	req.URL.RawPath = "/api/barcodes/bad%zzkey"
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *RouterSuite) TestDeleteKeyContainingPercent() {
	key := "50% off"
	s.Require().NoError(s.barcodes.Save(context.Background(), []barcodemodels.Barcode{{ID: key, RawValue: key}}))
	s.Eventually(func() bool { return s.barcodes.Cache().Len() == 1 }, time.Second, 5*time.Millisecond)

	s.Equal(http.StatusNoContent, s.do(http.MethodDelete, "/api/barcodes/"+url.PathEscape(key), nil).Code)
	s.Eventually(func() bool { return s.barcodes.Cache().Len() == 0 }, time.Second, 5*time.Millisecond)
}

func (s *RouterSuite) TestListResubscribesFailedCollection() {
	docs := &unreliableListen{Store: memory.New()}
	col := docstore.Collection("inst-1", barcodemodels.Collection)
	s.Require().NoError(docs.Commit(context.Background(), docstore.NewBatch().
		Merge(col.Doc("abc"), docstore.Fields{"id": "abc", "rawValue": "abc", "format": "qr"})))

	svc := service.New(barcode.Domain(), docs, identity.Static("inst-1"), cache.New[string, barcodemodels.Barcode]())
	s.Require().NoError(svc.Subscribe(context.Background()))
	s.T().Cleanup(svc.Unsubscribe)
	s.Require().False(svc.Listening())
	s.Require().Contains(svc.Cache().Snapshot().Error, "connection refused")

	router := NewRouter(NewHandler(Deps{
		Collections: map[string]Collection{barcodemodels.Collection: NewCollection[barcodemodels.Barcode](svc)},
		Gatherer:    prometheus.NewRegistry(),
	}))
	get := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/barcodes", nil))
		return rec
	}

	s.Equal(http.StatusOK, get().Code)
	s.True(svc.Listening())
	s.Eventually(func() bool {
		st := svc.Cache().Snapshot()
		return st.Error == "" && len(st.Records) == 1
	}, time.Second, 5*time.Millisecond)
	s.EqualValues(2, docs.calls.Load())

	get()
	s.EqualValues(2, docs.calls.Load(), "a live listener is not replaced")
}

func (s *RouterSuite) TestExplicitSubscribe() {
	s.Require().NoError(s.barcodes.Save(context.Background(), []barcodemodels.Barcode{{ID: "x", RawValue: "x"}}))
	rec := s.do(http.MethodPost, "/api/barcodes/subscribe", nil)
	s.Equal(http.StatusAccepted, rec.Code)
	s.True(s.barcodes.Listening())
	s.Eventually(func() bool { return s.barcodes.Cache().Len() == 1 }, time.Second, 5*time.Millisecond)

	s.Equal(http.StatusNotFound, s.do(http.MethodPost, "/api/photos/subscribe", nil).Code)
}

func (s *RouterSuite) TestDeleteAll() {
	s.Require().NoError(s.barcodes.Save(context.Background(), []barcodemodels.Barcode{
		{ID: "a", RawValue: "a"}, {ID: "b", RawValue: "b"},
	}))
	s.Equal(http.StatusNoContent, s.do(http.MethodDelete, "/api/barcodes", nil).Code)
	s.Eventually(func() bool { return s.barcodes.Cache().Len() == 0 }, time.Second, 5*time.Millisecond)
}

func (s *RouterSuite) TestUnknownCollection() {
	s.Equal(http.StatusNotFound, s.do(http.MethodGet, "/api/photos", nil).Code)
	s.Equal(http.StatusNotFound, s.do(http.MethodDelete, "/api/photos", nil).Code)
}

func (s *RouterSuite) TestInvalidDetectionsBody() {
	req := httptest.NewRequest(http.MethodPost, "/api/barcodes/detections", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *RouterSuite) TestWifiScan() {
	s.Run("wifi off", func() {
		s.wifi.result = wifi.Result{WifiOff: true}
		rec := s.do(http.MethodPost, "/api/networks/scan", nil)
		s.Equal(http.StatusOK, rec.Code)
		s.JSONEq(`{"wifiOff":true,"saved":0}`, rec.Body.String())
	})
	s.Run("position timeout", func() {
		s.wifi.result = wifi.Result{}
		s.wifi.err = fmt.Errorf("get current position: %w", sentinel.ErrTimeout)
		s.Equal(http.StatusGatewayTimeout, s.do(http.MethodPost, "/api/networks/scan", nil).Code)
	})
	s.Run("location permission missing", func() {
		s.prompter.granted = false
		s.Equal(http.StatusForbidden, s.do(http.MethodPost, "/api/networks/scan", nil).Code)
	})
}

func (s *RouterSuite) TestWifiConnect() {
	s.Equal(http.StatusBadRequest, s.do(http.MethodPost, "/api/networks/connect", map[string]string{"password": "x"}).Code)
	s.Equal(http.StatusOK, s.do(http.MethodPost, "/api/networks/connect", map[string]string{"ssid": "home", "password": "x"}).Code)
	s.Equal([]string{"home"}, s.wifi.connected)
}

func (s *RouterSuite) TestBluetoothScan() {
	s.bt.result = bluetooth.Result{BluetoothOff: true, Aborted: true}
	rec := s.do(http.MethodPost, "/api/devices/scan", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"bluetoothOff":true,"aborted":true,"seen":0,"saved":0}`, rec.Body.String())

	s.bt.err = fmt.Errorf("scan running: %w", sentinel.ErrInvalidState)
	s.Equal(http.StatusConflict, s.do(http.MethodPost, "/api/devices/scan", nil).Code)
}

func (s *RouterSuite) TestMap() {
	rec := s.do(http.MethodGet, "/api/map", nil)
	s.Equal(http.StatusOK, rec.Code)
	var locs []mapview.Location
	s.Require().NoError(json.NewDecoder(rec.Body).Decode(&locs))
	s.Require().Len(locs, 1)
	s.Equal("current", locs[0].ID)
	s.Equal(mapview.KindCurrent, locs[0].Kind)
}

func (s *RouterSuite) TestPermissions() {
	s.prompter.granted = false
	rec := s.do(http.MethodGet, "/api/permissions/camera", nil)
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"name":"camera","granted":false,"loading":false,"blocked":false,"shouldShowRequest":true}`, rec.Body.String())

	s.prompter.answer = permission.NeverAskAgain
	rec = s.do(http.MethodPost, "/api/permissions/camera/request", nil)
	s.JSONEq(`{"name":"camera","granted":false,"loading":false,"blocked":true,"shouldShowRequest":false}`, rec.Body.String())

	s.Equal(http.StatusNotFound, s.do(http.MethodGet, "/api/permissions/microphone", nil).Code)
}
