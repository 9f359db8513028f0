package model

import "time"

// PairingConfig marks a resource as check-in enabled and names the column
// scans are matched against. A dashboard opened for a resource without one
// renders a terminal "not configured" state.
type PairingConfig struct {
	ResourceID string `gorm:"primaryKey;size:64"`
	ColumnName string `gorm:"size:128;not null"`
	Enabled    bool   `gorm:"not null"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
