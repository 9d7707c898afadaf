// Package mapview projects the current position and the stored networks and
// devices into one list of map points.
package mapview

import (
	"context"
	"fmt"
	"log/slog"

	btmodels "scanmap/internal/bluetooth/models"
	"scanmap/internal/geo"
	wifimodels "scanmap/internal/wifi/models"
)

// Kind of a map point.
type Kind string

const (
	KindCurrent   Kind = "current"
	KindWifi      Kind = "wifi"
	KindBluetooth Kind = "bluetooth"
)

// Location is one displayable map point. It is derived and never stored.
type Location struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Kind        Kind    `json:"type"`
	Icon        string  `json:"icon"`
	Details     string  `json:"details,omitempty"`
}

// Current is the point for the device's own position.
func Current(pos geo.Position) Location {
	return Location{
		ID:          "current",
		Title:       "Current Location",
		Description: "You are here",
		Latitude:    pos.Latitude,
		Longitude:   pos.Longitude,
		Kind:        KindCurrent,
		Icon:        "my-location",
	}
}

func fromNetwork(n wifimodels.Record) Location {
	title := n.SSID
	if title == "" {
		title = "Unknown Network"
	}
	return Location{
		ID:          n.BSSID,
		Title:       title,
		Description: "BSSID: " + n.BSSID,
		Latitude:    n.Latitude,
		Longitude:   n.Longitude,
		Kind:        KindWifi,
		Icon:        "wifi",
		Details:     fmt.Sprintf("Signal: %ddBm, Frequency: %dMHz", n.Level, n.Frequency),
	}
}

func fromDevice(d btmodels.Record) Location {
	return Location{
		ID:          d.ID,
		Title:       d.DisplayName(),
		Description: "ID: " + d.ID,
		Latitude:    d.Latitude,
		Longitude:   d.Longitude,
		Kind:        KindBluetooth,
		Icon:        "bluetooth",
		Details:     fmt.Sprintf("Signal: %ddBm", d.RSSI),
	}
}

// Build lists the current position first when known, then every network,
// then every device.
func Build(current *geo.Position, networks []wifimodels.Record, devices []btmodels.Record) []Location {
	out := make([]Location, 0, len(networks)+len(devices)+1)
	if current != nil {
		out = append(out, Current(*current))
	}
	for _, n := range networks {
		out = append(out, fromNetwork(n))
	}
	for _, d := range devices {
		out = append(out, fromDevice(d))
	}
	return out
}

// Records is a read view over one domain store.
type Records[R any] interface {
	Values() []R
}

// Projector rebuilds the map from live stores on every call.
type Projector struct {
	locator  geo.Source
	networks Records[wifimodels.Record]
	devices  Records[btmodels.Record]
	logger   *slog.Logger
}

func NewProjector(locator geo.Source, networks Records[wifimodels.Record], devices Records[btmodels.Record], logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Projector{
		locator:  locator,
		networks: networks,
		devices:  devices,
		logger:   logger.With("component", "mapview"),
	}
}

// Locations returns the current map. A position failure only drops the
// current point.
func (p *Projector) Locations(ctx context.Context) []Location {
	var current *geo.Position
	if p.locator != nil {
		pos, err := p.locator.CurrentPosition(ctx)
		if err != nil {
			p.logger.WarnContext(ctx, "current position unavailable", "error", err)
		} else {
			current = &pos
		}
	}
	return Build(current, p.networks.Values(), p.devices.Values())
}
