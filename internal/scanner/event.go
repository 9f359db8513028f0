package scanner

import (
	"time"

	"pulse-checkin-backend/internal/model"
)

// ScanEvent is created for every accepted (non-suppressed) decode, including
// failed lookups, so the operator sees attempts rather than silence.
// DuplicateCount tallies window-suppressed re-reads of the event's barcode.
type ScanEvent struct {
	ID             string      `json:"id"`
	Barcode        string      `json:"barcode"`
	Timestamp      time.Time   `json:"timestamp"`
	MatchedRecords []model.Row `json:"matchedRecords"`
	Success        bool        `json:"success"`
	IsWalkIn       bool        `json:"isWalkIn"`
	DuplicateCount int         `json:"duplicateCount"`
}

// BarcodeScannedPayload is broadcast on the paired channel per accepted scan.
type BarcodeScannedPayload struct {
	Barcode    string      `json:"barcode"`
	FoundRows  []model.Row `json:"foundRows"`
	Timestamp  time.Time   `json:"timestamp"`
	DeviceType string      `json:"deviceType"`
}

// NewScanResultPayload is fanned out on the ephemeral results channel.
type NewScanResultPayload struct {
	ScanEvent
	Column     string `json:"column"`
	ResourceID string `json:"resourceId"`
}
