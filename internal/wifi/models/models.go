package models

import "time"

// Collection is the remote collection holding scanned networks.
const Collection = "networks"

// Network is one access point as reported by the radio. BSSID is its identity.
type Network struct {
	SSID         string `json:"SSID"`
	BSSID        string `json:"BSSID"`
	Capabilities string `json:"capabilities"`
	Frequency    int    `json:"frequency"`
	Level        int    `json:"level"`
	Timestamp    int64  `json:"timestamp"`
}

// Record is a network tagged with the position it was seen at.
type Record struct {
	Network
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	// UpdatedAt is assigned by the remote store.
	UpdatedAt time.Time `json:"-"`
}
