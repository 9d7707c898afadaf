package models

import "time"

// Collection is the remote collection holding scanned barcodes.
const Collection = "barcodes"

// Barcode is one decoded code. RawValue is its identity.
type Barcode struct {
	ID       string `json:"id"`
	RawValue string `json:"rawValue"`
	Format   string `json:"format"`
	// UpdatedAt is assigned by the remote store.
	UpdatedAt time.Time `json:"-"`
}

// Detection is one code reported by the camera.
type Detection struct {
	Value string `json:"value"`
	Type  string `json:"type"`
}

// FromDetection maps a camera detection to a record. An empty value yields an
// empty key, which the sync service refuses to save.
func FromDetection(d Detection) Barcode {
	return Barcode{ID: d.Value, RawValue: d.Value, Format: d.Type}
}
