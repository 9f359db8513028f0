package model

import "time"

// ScannerPresence is the payload a scanning client tracks on the per-resource
// scanners channel. It exists only while the device's presence heartbeat is
// active and is never persisted.
type ScannerPresence struct {
	PairingCode  string    `json:"pairing_code"`
	ScannerName  string    `json:"scanner_name"`
	ScannerEmail string    `json:"scanner_email"`
	DeviceID     string    `json:"device_id"`
	TotalScans   int       `json:"total_scans"`
	JoinedAt     time.Time `json:"joined_at"`
}
