package httptransport

import (
	"context"
	"net/http"

	"scanmap/internal/barcode"
	barcodemodels "scanmap/internal/barcode/models"
	"scanmap/internal/bluetooth"
	"scanmap/internal/mapview"
	"scanmap/internal/permission"
	"scanmap/internal/wifi"
	"scanmap/pkg/platform/httputil"
)

type BarcodeScanner interface {
	HandleDetections(ctx context.Context, detections []barcodemodels.Detection) (barcode.Result, error)
}

type WifiScanner interface {
	Scan(ctx context.Context) (wifi.Result, error)
	Connect(ctx context.Context, ssid, password string) error
}

type BluetoothScanner interface {
	Scan(ctx context.Context) (bluetooth.Result, error)
}

type MapProjector interface {
	Locations(ctx context.Context) []mapview.Location
}

// require checks the named permission when permissions are wired.
func (h *Handler) require(ctx context.Context, name permission.Name) error {
	if h.deps.Permissions == nil {
		return nil
	}
	t, err := h.deps.Permissions.Get(name)
	if err != nil {
		return err
	}
	return t.Require(ctx)
}

// handleDetections handles POST /api/barcodes/detections.
func (h *Handler) handleDetections(w http.ResponseWriter, r *http.Request) {
	detections, err := httputil.DecodeJSON[[]barcodemodels.Detection](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.deps.Barcodes.HandleDetections(r.Context(), detections)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "barcode save failed", "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// handleWifiScan handles POST /api/networks/scan.
func (h *Handler) handleWifiScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.require(ctx, permission.Location); err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.deps.Networks.Scan(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "wifi scan failed", "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

type connectRequest struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`
}

// handleWifiConnect handles POST /api/networks/connect.
func (h *Handler) handleWifiConnect(w http.ResponseWriter, r *http.Request) {
	req, err := httputil.DecodeJSON[connectRequest](r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if req.SSID == "" {
		httputil.WriteError(w, httputil.BadRequest("ssid is required"))
		return
	}
	if err := h.deps.Networks.Connect(r.Context(), req.SSID, req.Password); err != nil {
		h.logger.WarnContext(r.Context(), "wifi connect failed", "ssid", req.SSID, "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"connected": true})
}

// handleBluetoothScan handles POST /api/devices/scan. The response arrives
// after the scan window closes.
func (h *Handler) handleBluetoothScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.require(ctx, permission.Bluetooth); err != nil {
		httputil.WriteError(w, err)
		return
	}
	res, err := h.deps.Devices.Scan(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "bluetooth scan failed", "error", err)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// handleMap handles GET /api/map.
func (h *Handler) handleMap(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.deps.Map.Locations(r.Context()))
}
