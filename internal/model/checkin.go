package model

import "time"

// CheckIn is a persisted check-in record created from an accepted scan.
// RowID is nil for walk-ins (scans that matched no row but were admitted
// anyway).
type CheckIn struct {
	ID         string  `gorm:"primaryKey;size:36"`
	ResourceID string  `gorm:"index;size:64;not null"`
	RowID      *string `gorm:"size:36"`
	Barcode    string  `gorm:"size:256;not null"`
	ColumnName string  `gorm:"size:128;not null"`
	IsWalkIn   bool    `gorm:"not null"`
	DeviceID   string  `gorm:"size:64"`
	CreatedAt  time.Time
}
