package bridge

import (
	"context"

	barcodemodels "scanmap/internal/barcode/models"
	btmodels "scanmap/internal/bluetooth/models"
	"scanmap/internal/permission"
	wifimodels "scanmap/internal/wifi/models"
)

// Detections yields every detection event published by the camera.
func (b *Bridge) Detections() <-chan []barcodemodels.Detection {
	return b.detections
}

// WiFi is the radio half of the bridge used by the wifi scanner.
type WiFi struct{ b *Bridge }

func (b *Bridge) WiFi() *WiFi { return &WiFi{b: b} }

func (w *WiFi) IsEnabled(ctx context.Context) (bool, error) {
	var out struct {
		Enabled bool `json:"enabled"`
	}
	if err := w.b.call(ctx, MethodWifiEnabled, nil, &out); err != nil {
		return false, err
	}
	return out.Enabled, nil
}

func (w *WiFi) Scan(ctx context.Context) ([]wifimodels.Network, error) {
	var out []wifimodels.Network
	if err := w.b.call(ctx, MethodWifiScan, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (w *WiFi) Connect(ctx context.Context, ssid, password string) error {
	params := struct {
		SSID     string `json:"ssid"`
		Password string `json:"password"`
	}{ssid, password}
	return w.b.call(ctx, MethodWifiConnect, params, nil)
}

// BLE is the radio half of the bridge used by the bluetooth scanner.
type BLE struct{ b *Bridge }

func (b *Bridge) BLE() *BLE { return &BLE{b: b} }

// StartScan installs handle for advertisements and adapter state changes,
// then asks the device to start scanning. The handler is removed again if
// the device refuses.
func (r *BLE) StartScan(ctx context.Context, handle func(error, *btmodels.Advertisement)) error {
	r.b.setBLEHandler(handle)
	if err := r.b.call(ctx, MethodBLEStart, nil, nil); err != nil {
		r.b.setBLEHandler(nil)
		return err
	}
	return nil
}

// StopScan removes the handler before asking the device to stop, so no
// report reaches the session afterwards.
func (r *BLE) StopScan(ctx context.Context) error {
	r.b.setBLEHandler(nil)
	return r.b.call(ctx, MethodBLEStop, nil, nil)
}

// Prompter forwards permission checks and prompts to the device.
type Prompter struct{ b *Bridge }

func (b *Bridge) Prompter() *Prompter { return &Prompter{b: b} }

type permissionParams struct {
	Name permission.Name `json:"name"`
}

func (p *Prompter) Check(ctx context.Context, name permission.Name) (bool, error) {
	var out struct {
		Granted bool `json:"granted"`
	}
	if err := p.b.call(ctx, MethodPermissionCheck, permissionParams{Name: name}, &out); err != nil {
		return false, err
	}
	return out.Granted, nil
}

func (p *Prompter) Request(ctx context.Context, name permission.Name) (permission.Result, error) {
	var out struct {
		Result permission.Result `json:"result"`
	}
	if err := p.b.call(ctx, MethodPermissionRequest, permissionParams{Name: name}, &out); err != nil {
		return "", err
	}
	return out.Result, nil
}
