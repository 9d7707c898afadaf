package models

import "time"

// Collection is the remote collection holding discovered devices.
const Collection = "devices"

// Advertisement is one device report from the BLE radio.
type Advertisement struct {
	ID            string   `json:"id"`
	Name          *string  `json:"name,omitempty"`
	RSSI          int      `json:"rssi"`
	ServiceUUIDs  []string `json:"serviceUUIDs,omitempty"`
	IsConnectable *bool    `json:"isConnectable,omitempty"`
}

// Record is a discovered device placed at a position. ID is the device address.
type Record struct {
	ID            string   `json:"id"`
	Name          *string  `json:"name"`
	RSSI          int      `json:"rssi"`
	ServiceUUIDs  []string `json:"serviceUUIDs"`
	IsConnectable *bool    `json:"isConnectable"`
	Latitude      float64  `json:"latitude"`
	Longitude     float64  `json:"longitude"`
	// UpdatedAt is assigned by the remote store.
	UpdatedAt time.Time `json:"-"`
}

// DisplayName is the advertised name or "Unknown Device".
func (r Record) DisplayName() string {
	if r.Name == nil || *r.Name == "" {
		return "Unknown Device"
	}
	return *r.Name
}
