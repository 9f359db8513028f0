package store

import (
	"time"

	"pulse-checkin-backend/internal/model"
)

// DashboardStats is the aggregate view a dashboard renders. It is always
// derived by re-querying the store, never assembled from streamed deltas.
type DashboardStats struct {
	TotalRows     int64           `json:"totalRows"`
	CheckedIn     int64           `json:"checkedIn"`
	CheckInRate   float64         `json:"checkInRate"`
	WalkIns       int64           `json:"walkIns"`
	LastCheckInAt *time.Time      `json:"lastCheckInAt"`
	Recent        []model.CheckIn `json:"recent"`
}

// recentLimit bounds the recent check-in list in DashboardStats.
const recentLimit = 10
