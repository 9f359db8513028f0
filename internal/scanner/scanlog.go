package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DefaultScanLogCap bounds the durable log per (resource, column).
const DefaultScanLogCap = 200

// ScanLogEntry is one durable scan record. The log is the fallback source of
// truth for the results-viewing surface when broadcast delivery is missed.
type ScanLogEntry struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	ResourceID string `gorm:"index:idx_scanlog_scope;size:64;not null"`
	ColumnName string `gorm:"index:idx_scanlog_scope;size:128;not null"`
	EventID    string `gorm:"size:36;not null"`
	Barcode    string `gorm:"size:256;not null"`
	Success    bool   `gorm:"not null"`
	Payload    []byte `gorm:"not null"`
	CreatedAt  time.Time
}

// ScanLog is the durable local scan log, backed by a device-local sqlite
// database. Writes are append-only and reads are whole-scope snapshots, so
// no coordination beyond the database itself is needed.
type ScanLog struct {
	db  *gorm.DB
	cap int
}

// OpenScanLog opens (creating if needed) the sqlite log at path. A
// non-positive cap selects the default.
func OpenScanLog(path string, cap int) (*ScanLog, error) {
	if cap <= 0 {
		cap = DefaultScanLogCap
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("scanner: open scan log: %w", err)
	}
	if err := db.AutoMigrate(&ScanLogEntry{}); err != nil {
		return nil, fmt.Errorf("scanner: migrate scan log: %w", err)
	}
	return &ScanLog{db: db, cap: cap}, nil
}

// NewScanLog wraps an already-open database, for tests.
func NewScanLog(db *gorm.DB, cap int) *ScanLog {
	if cap <= 0 {
		cap = DefaultScanLogCap
	}
	return &ScanLog{db: db, cap: cap}
}

// Append stores the event and trims the scope back to the cap, oldest first.
func (l *ScanLog) Append(ctx context.Context, resourceID, columnName string, e ScanEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("scanner: marshal scan event: %w", err)
	}
	entry := ScanLogEntry{
		ResourceID: resourceID,
		ColumnName: columnName,
		EventID:    e.ID,
		Barcode:    e.Barcode,
		Success:    e.Success,
		Payload:    payload,
		CreatedAt:  e.Timestamp,
	}
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&entry).Error; err != nil {
			return fmt.Errorf("scanner: append scan log: %w", err)
		}
		keep := tx.Model(&ScanLogEntry{}).
			Select("id").
			Where("resource_id = ? AND column_name = ?", resourceID, columnName).
			Order("id DESC").
			Limit(l.cap)
		if err := tx.
			Where("resource_id = ? AND column_name = ? AND id NOT IN (?)", resourceID, columnName, keep).
			Delete(&ScanLogEntry{}).Error; err != nil {
			return fmt.Errorf("scanner: trim scan log: %w", err)
		}
		return nil
	})
}

// Entries returns the logged events for a scope, newest first.
func (l *ScanLog) Entries(ctx context.Context, resourceID, columnName string) ([]ScanEvent, error) {
	var rows []ScanLogEntry
	if err := l.db.WithContext(ctx).
		Where("resource_id = ? AND column_name = ?", resourceID, columnName).
		Order("id DESC").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("scanner: read scan log: %w", err)
	}
	events := make([]ScanEvent, 0, len(rows))
	for _, row := range rows {
		var e ScanEvent
		if err := json.Unmarshal(row.Payload, &e); err != nil {
			// A corrupt entry is skipped, not fatal to the snapshot.
			continue
		}
		events = append(events, e)
	}
	return events, nil
}
