package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pulse-checkin-backend/internal/model"
)

// ErrNotConfigured is returned when a resource has no pairing configuration.
var ErrNotConfigured = errors.New("store: resource is not configured for check-in")

// Store defines the persistence operations the check-in pipeline consumes.
type Store interface {
	ListRows(ctx context.Context, resourceID string) ([]model.Row, error)
	CreateCheckIn(ctx context.Context, checkIn *model.CheckIn) error
	ListCheckIns(ctx context.Context, resourceID string, limit int) ([]model.CheckIn, error)
	AggregateStats(ctx context.Context, resourceID string) (DashboardStats, error)
	UpsertScannerSession(ctx context.Context, session *model.ScannerSession) error
	ListActiveSessions(ctx context.Context, resourceID string) ([]model.ScannerSession, error)
	GetPairingConfig(ctx context.Context, resourceID string) (*model.PairingConfig, error)
	UpsertPairingConfig(ctx context.Context, cfg *model.PairingConfig) error
	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB { return s.db }

// ListRows returns the full row set of a resource. Callers scan it linearly;
// there is no column index.
func (s *gormStore) ListRows(ctx context.Context, resourceID string) ([]model.Row, error) {
	var rows []model.Row
	if err := s.db.WithContext(ctx).Where("resource_id = ?", resourceID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list rows for resource %s: %w", resourceID, err)
	}
	return rows, nil
}

func (s *gormStore) CreateCheckIn(ctx context.Context, checkIn *model.CheckIn) error {
	if checkIn.ID == "" {
		checkIn.ID = uuid.NewString()
	}
	if checkIn.CreatedAt.IsZero() {
		checkIn.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(checkIn).Error; err != nil {
		return fmt.Errorf("failed to create check-in for resource %s: %w", checkIn.ResourceID, err)
	}
	return nil
}

func (s *gormStore) ListCheckIns(ctx context.Context, resourceID string, limit int) ([]model.CheckIn, error) {
	var checkIns []model.CheckIn
	q := s.db.WithContext(ctx).
		Where("resource_id = ?", resourceID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&checkIns).Error; err != nil {
		return nil, fmt.Errorf("failed to list check-ins for resource %s: %w", resourceID, err)
	}
	return checkIns, nil
}

// AggregateStats computes the dashboard aggregate with fresh queries.
func (s *gormStore) AggregateStats(ctx context.Context, resourceID string) (DashboardStats, error) {
	var stats DashboardStats
	db := s.db.WithContext(ctx)

	if err := db.Model(&model.Row{}).
		Where("resource_id = ?", resourceID).
		Count(&stats.TotalRows).Error; err != nil {
		return stats, fmt.Errorf("failed to count rows: %w", err)
	}

	if err := db.Model(&model.CheckIn{}).
		Where("resource_id = ?", resourceID).
		Count(&stats.CheckedIn).Error; err != nil {
		return stats, fmt.Errorf("failed to count check-ins: %w", err)
	}

	if err := db.Model(&model.CheckIn{}).
		Where("resource_id = ? AND is_walk_in = ?", resourceID, true).
		Count(&stats.WalkIns).Error; err != nil {
		return stats, fmt.Errorf("failed to count walk-ins: %w", err)
	}

	if stats.TotalRows > 0 {
		stats.CheckInRate = float64(stats.CheckedIn) / float64(stats.TotalRows)
	}

	recent, err := s.ListCheckIns(ctx, resourceID, recentLimit)
	if err != nil {
		return stats, err
	}
	stats.Recent = recent
	if len(recent) > 0 {
		last := recent[0].CreatedAt
		stats.LastCheckInAt = &last
	}
	return stats, nil
}

// UpsertScannerSession creates or refreshes the persisted session for a
// (resource, device) pair.
func (s *gormStore) UpsertScannerSession(ctx context.Context, session *model.ScannerSession) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	if session.LastSeenAt.IsZero() {
		session.LastSeenAt = time.Now().UTC()
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "resource_id"}, {Name: "device_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"pairing_code", "scanner_name", "scanner_email",
			"total_scans", "active", "last_seen_at", "updated_at",
		}),
	}).Create(session).Error
	if err != nil {
		return fmt.Errorf("failed to upsert scanner session for device %s: %w", session.DeviceID, err)
	}
	return nil
}

func (s *gormStore) ListActiveSessions(ctx context.Context, resourceID string) ([]model.ScannerSession, error) {
	var sessions []model.ScannerSession
	if err := s.db.WithContext(ctx).
		Where("resource_id = ? AND active = ?", resourceID, true).
		Order("last_seen_at DESC").
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("failed to list active sessions for resource %s: %w", resourceID, err)
	}
	return sessions, nil
}

// GetPairingConfig returns the resource's check-in configuration, or
// ErrNotConfigured when none exists or it is disabled.
func (s *gormStore) GetPairingConfig(ctx context.Context, resourceID string) (*model.PairingConfig, error) {
	var cfg model.PairingConfig
	err := s.db.WithContext(ctx).First(&cfg, "resource_id = ?", resourceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotConfigured
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pairing config for resource %s: %w", resourceID, err)
	}
	if !cfg.Enabled {
		return nil, ErrNotConfigured
	}
	return &cfg, nil
}

// UpsertPairingConfig creates or replaces a resource's check-in configuration.
func (s *gormStore) UpsertPairingConfig(ctx context.Context, cfg *model.PairingConfig) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "resource_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"column_name", "enabled", "updated_at"}),
	}).Create(cfg).Error
	if err != nil {
		return fmt.Errorf("failed to upsert pairing config for resource %s: %w", cfg.ResourceID, err)
	}
	return nil
}
