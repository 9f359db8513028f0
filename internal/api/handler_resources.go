package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"pulse-checkin-backend/internal/model"
	"pulse-checkin-backend/internal/notification"
	"pulse-checkin-backend/internal/realtime"
	"pulse-checkin-backend/internal/store"
)

// GetRows handles GET /api/resources/{resource_id}/rows: the full row set a
// scanning client matches barcodes against.
func (h *Handler) GetRows(c *gin.Context) {
	resourceID := c.Param("resource_id")
	rows, err := h.store.ListRows(c.Request.Context(), resourceID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve rows"})
		return
	}
	c.JSON(http.StatusOK, rows)
}

type createCheckInRequest struct {
	Barcode    string  `json:"barcode" binding:"required"`
	ColumnName string  `json:"column_name" binding:"required"`
	RowID      *string `json:"row_id"`
	IsWalkIn   bool    `json:"is_walk_in"`
	DeviceID   string  `json:"device_id"`
}

// CreateCheckIn handles POST /api/resources/{resource_id}/checkins. The
// insert publishes the change notification dashboards reconcile on and
// dispatches push notifications.
func (h *Handler) CreateCheckIn(c *gin.Context) {
	resourceID := c.Param("resource_id")
	var req createCheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	checkIn := &model.CheckIn{
		ResourceID: resourceID,
		RowID:      req.RowID,
		Barcode:    req.Barcode,
		ColumnName: req.ColumnName,
		IsWalkIn:   req.IsWalkIn,
		DeviceID:   req.DeviceID,
	}
	if err := h.store.CreateCheckIn(c.Request.Context(), checkIn); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	h.announceCheckIn(checkIn)
	c.JSON(http.StatusCreated, checkIn)
}

// announceCheckIn publishes the change-feed notification and queues push
// notifications. Both are best-effort.
func (h *Handler) announceCheckIn(checkIn *model.CheckIn) {
	if msg, err := realtime.NewMessage(realtime.MessageCheckInInserted, checkIn); err == nil {
		_ = h.transport.PublishChange(checkIn.ResourceID, msg)
	}
	if h.pool != nil {
		h.pool.Dispatch(notification.CheckInJob{
			ResourceID: checkIn.ResourceID,
			Barcode:    checkIn.Barcode,
			IsWalkIn:   checkIn.IsWalkIn,
		})
	}
}

// GetCheckIns handles GET /api/resources/{resource_id}/checkins.
func (h *Handler) GetCheckIns(c *gin.Context) {
	resourceID := c.Param("resource_id")
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = parsed
	}
	checkIns, err := h.store.ListCheckIns(c.Request.Context(), resourceID, limit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve check-ins"})
		return
	}
	c.JSON(http.StatusOK, checkIns)
}

// GetStats handles GET /api/resources/{resource_id}/stats: the authoritative
// aggregate dashboards re-fetch.
func (h *Handler) GetStats(c *gin.Context) {
	resourceID := c.Param("resource_id")
	stats, err := h.store.AggregateStats(c.Request.Context(), resourceID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// GetScannerSessions handles GET /api/resources/{resource_id}/scanner-sessions.
func (h *Handler) GetScannerSessions(c *gin.Context) {
	resourceID := c.Param("resource_id")
	sessions, err := h.store.ListActiveSessions(c.Request.Context(), resourceID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve sessions"})
		return
	}
	c.JSON(http.StatusOK, sessions)
}

// GetPairingConfig handles GET /api/resources/{resource_id}/pairing-config.
// A missing configuration is reported distinctly from a load failure so the
// dashboard can render its terminal "not configured" state.
func (h *Handler) GetPairingConfig(c *gin.Context) {
	resourceID := c.Param("resource_id")
	cfg, err := h.store.GetPairingConfig(c.Request.Context(), resourceID)
	if errors.Is(err, store.ErrNotConfigured) {
		c.JSON(http.StatusNotFound, gin.H{"error": "resource is not configured for check-in"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

type putPairingConfigRequest struct {
	ColumnName string `json:"column_name" binding:"required"`
	Enabled    *bool  `json:"enabled"`
}

// PutPairingConfig handles PUT /api/resources/{resource_id}/pairing-config.
func (h *Handler) PutPairingConfig(c *gin.Context) {
	resourceID := c.Param("resource_id")
	var req putPairingConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	cfg := &model.PairingConfig{
		ResourceID: resourceID,
		ColumnName: req.ColumnName,
		Enabled:    enabled,
	}
	if err := h.store.UpsertPairingConfig(c.Request.Context(), cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

// GetScanLog handles GET /api/resources/{resource_id}/scan-log: the durable
// fallback for the results-viewing surface when a broadcast was missed.
func (h *Handler) GetScanLog(c *gin.Context) {
	if h.scanLog == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scan log is not configured"})
		return
	}
	resourceID := c.Param("resource_id")
	column := c.Query("column")
	if column == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "column is required"})
		return
	}
	events, err := h.scanLog.Entries(c.Request.Context(), resourceID, column)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to read scan log"})
		return
	}
	c.JSON(http.StatusOK, events)
}
