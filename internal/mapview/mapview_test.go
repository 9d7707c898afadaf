package mapview

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	btmodels "scanmap/internal/bluetooth/models"
	"scanmap/internal/geo"
	"scanmap/internal/sync/cache"
	wifimodels "scanmap/internal/wifi/models"
	"scanmap/pkg/platform/sentinel"
)

type failingSource struct{}

func (failingSource) CurrentPosition(context.Context) (geo.Position, error) {
	return geo.Position{}, sentinel.ErrTimeout
}

func TestBuild(t *testing.T) {
	name := "Speaker"
	networks := []wifimodels.Record{
		{Network: wifimodels.Network{SSID: "home", BSSID: "aa:01", Level: -40, Frequency: 2412}, Latitude: 1, Longitude: 2},
		{Network: wifimodels.Network{BSSID: "aa:02", Level: -80, Frequency: 5180}},
	}
	devices := []btmodels.Record{
		{ID: "dev-1", Name: &name, RSSI: -55, Latitude: 3, Longitude: 4},
		{ID: "dev-2", RSSI: -90},
	}

	got := Build(&geo.Position{Latitude: 50.45, Longitude: 30.52}, networks, devices)
	require.Len(t, got, 5)

	assert.Equal(t, Location{
		ID: "current", Title: "Current Location", Description: "You are here",
		Latitude: 50.45, Longitude: 30.52, Kind: KindCurrent, Icon: "my-location",
	}, got[0])
	assert.Equal(t, Location{
		ID: "aa:01", Title: "home", Description: "BSSID: aa:01", Latitude: 1, Longitude: 2,
		Kind: KindWifi, Icon: "wifi", Details: "Signal: -40dBm, Frequency: 2412MHz",
	}, got[1])
	assert.Equal(t, "Unknown Network", got[2].Title)
	assert.Equal(t, Location{
		ID: "dev-1", Title: "Speaker", Description: "ID: dev-1", Latitude: 3, Longitude: 4,
		Kind: KindBluetooth, Icon: "bluetooth", Details: "Signal: -55dBm",
	}, got[3])
	assert.Equal(t, "Unknown Device", got[4].Title)
}

func TestBuildWithoutPosition(t *testing.T) {
	got := Build(nil, nil, []btmodels.Record{{ID: "x"}})
	require.Len(t, got, 1)
	assert.Equal(t, KindBluetooth, got[0].Kind)
}

func TestProjectorReadsLiveStores(t *testing.T) {
	networks := cache.New[string, wifimodels.Record]()
	devices := cache.New[string, btmodels.Record]()
	p := NewProjector(geo.Static{Latitude: 1, Longitude: 1}, networks, devices, nil)

	assert.Len(t, p.Locations(context.Background()), 1)

	networks.ReplaceAll(map[string]wifimodels.Record{"b": {Network: wifimodels.Network{BSSID: "b"}}})
	devices.ReplaceAll(map[string]btmodels.Record{"d": {ID: "d"}})
	got := p.Locations(context.Background())
	require.Len(t, got, 3)
	assert.Equal(t, []Kind{KindCurrent, KindWifi, KindBluetooth}, []Kind{got[0].Kind, got[1].Kind, got[2].Kind})
}

func TestProjectorDropsCurrentOnPositionFailure(t *testing.T) {
	devices := cache.New[string, btmodels.Record]()
	devices.ReplaceAll(map[string]btmodels.Record{"d": {ID: "d"}})
	p := NewProjector(failingSource{}, cache.New[string, wifimodels.Record](), devices, nil)

	got := p.Locations(context.Background())
	require.Len(t, got, 1)
	assert.Equal(t, "d", got[0].ID)
}
