package model

import "time"

// ScannerSession is the persisted record of a scanning device's session with
// a resource. It is what the dashboard's session list re-fetches; the live
// registry view comes from presence and is never persisted.
type ScannerSession struct {
	ID           string `gorm:"primaryKey;size:36"`
	ResourceID   string `gorm:"uniqueIndex:idx_sessions_resource_device;size:64;not null"`
	DeviceID     string `gorm:"uniqueIndex:idx_sessions_resource_device;size:64;not null"`
	PairingCode  string `gorm:"size:32;not null"`
	ScannerName  string `gorm:"size:128"`
	ScannerEmail string `gorm:"size:256"`
	TotalScans   int    `gorm:"not null"`
	Active       bool   `gorm:"not null"`
	LastSeenAt   time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
