package api

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"pulse-checkin-backend/internal/model"
	"pulse-checkin-backend/internal/notification"
	"pulse-checkin-backend/internal/pairing"
	"pulse-checkin-backend/internal/scanner"
	"pulse-checkin-backend/internal/store"
)

// engineRegistry holds the server-hosted scanning-client engines, keyed by
// device ID.
type engineRegistry struct {
	mu      sync.Mutex
	engines map[string]*scanner.Client
}

func newEngineRegistry() *engineRegistry {
	return &engineRegistry{engines: make(map[string]*scanner.Client)}
}

func (r *engineRegistry) add(c *scanner.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[c.DeviceID()] = c
}

func (r *engineRegistry) get(deviceID string) *scanner.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engines[deviceID]
}

func (r *engineRegistry) remove(deviceID string) *scanner.Client {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.engines[deviceID]
	delete(r.engines, deviceID)
	return c
}

// pushingStore wraps the store so engine-recorded check-ins also dispatch
// push notifications.
type pushingStore struct {
	store.Store
	pool *notification.WorkerPool
}

func (p *pushingStore) CreateCheckIn(ctx context.Context, checkIn *model.CheckIn) error {
	if err := p.Store.CreateCheckIn(ctx, checkIn); err != nil {
		return err
	}
	if p.pool != nil {
		p.pool.Dispatch(notification.CheckInJob{
			ResourceID: checkIn.ResourceID,
			Barcode:    checkIn.Barcode,
			IsWalkIn:   checkIn.IsWalkIn,
		})
	}
	return nil
}

type createScannerSessionRequest struct {
	ResourceID   string `json:"resource_id"`
	ColumnName   string `json:"column_name"`
	PairingCode  string `json:"pairing_code"`
	ScannerName  string `json:"scanner_name"`
	ScannerEmail string `json:"scanner_email"`
}

type scannerSessionResponse struct {
	DeviceID   string        `json:"device_id"`
	Channel    string        `json:"channel"`
	State      pairing.State `json:"state"`
	Standalone bool          `json:"standalone"`
}

// CreateScannerSession handles POST /api/scanner/sessions: validates the
// pairing parameters and starts a scanning-client engine. Missing parameters
// are a terminal 400; the caller must re-acquire pairing.
func (h *Handler) CreateScannerSession(c *gin.Context) {
	var req createScannerSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params := pairing.Params{
		ResourceID:  req.ResourceID,
		ColumnName:  req.ColumnName,
		PairingCode: req.PairingCode,
	}
	engine, err := scanner.NewClient(params, scanner.ClientConfig{
		Transport:      h.transport,
		Rows:           h.store,
		CheckIns:       &pushingStore{Store: h.store, pool: h.pool},
		Sessions:       h.store,
		ScanLog:        h.scanLog,
		ScannerName:    req.ScannerName,
		ScannerEmail:   req.ScannerEmail,
		UserAgent:      c.Request.UserAgent(),
		DedupWindow:    h.cfg.Scanner.DedupWindow,
		ConnectTimeout: h.cfg.Scanner.ConnectTimeout,
		ResultsGrace:   h.cfg.Scanner.ResultsGrace,
		RingCapacity:   h.cfg.Scanner.RingCapacity,
	})
	if errors.Is(err, pairing.ErrInvalidParameters) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "resource_id, column_name and pairing_code are required"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := engine.Start(c.Request.Context()); err != nil {
		// Subscription failure is non-fatal: the engine stays retryable.
		c.JSON(http.StatusAccepted, gin.H{
			"device_id": engine.DeviceID(),
			"warning":   "subscription failed, retry establishment",
		})
		h.engines.add(engine)
		return
	}
	h.engines.add(engine)

	state, standalone := engine.Session().State()
	c.JSON(http.StatusCreated, scannerSessionResponse{
		DeviceID:   engine.DeviceID(),
		Channel:    engine.Session().Channel(),
		State:      state,
		Standalone: standalone,
	})
}

// RestartScannerSession handles POST /api/scanner/sessions/{device_id}/start:
// retries establishment for an engine whose subscription failed at creation.
// A no-op for an already running engine.
func (h *Handler) RestartScannerSession(c *gin.Context) {
	engine := h.engines.get(c.Param("device_id"))
	if engine == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "scanner session not found"})
		return
	}
	if err := engine.Start(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	state, standalone := engine.Session().State()
	c.JSON(http.StatusOK, scannerSessionResponse{
		DeviceID:   engine.DeviceID(),
		Channel:    engine.Session().Channel(),
		State:      state,
		Standalone: standalone,
	})
}

type submitScanRequest struct {
	Barcode string `json:"barcode" binding:"required"`
}

// SubmitScan handles POST /api/scanner/sessions/{device_id}/scans: one raw
// decode result from the device's decoding capability.
func (h *Handler) SubmitScan(c *gin.Context) {
	engine := h.engines.get(c.Param("device_id"))
	if engine == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "scanner session not found"})
		return
	}
	var req submitScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	event, accepted := engine.HandleDecode(c.Request.Context(), req.Barcode)
	if !accepted {
		c.JSON(http.StatusOK, gin.H{"suppressed": true})
		return
	}
	c.JSON(http.StatusCreated, event)
}

// GetScanEvents handles GET /api/scanner/sessions/{device_id}/events: the
// bounded in-memory scan history, oldest first.
func (h *Handler) GetScanEvents(c *gin.Context) {
	engine := h.engines.get(c.Param("device_id"))
	if engine == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "scanner session not found"})
		return
	}
	state, standalone := engine.Session().State()
	c.JSON(http.StatusOK, gin.H{
		"state":      state,
		"standalone": standalone,
		"events":     engine.Events(),
	})
}

// CloseScannerSession handles DELETE /api/scanner/sessions/{device_id}.
func (h *Handler) CloseScannerSession(c *gin.Context) {
	engine := h.engines.remove(c.Param("device_id"))
	if engine == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "scanner session not found"})
		return
	}
	engine.Stop(c.Request.Context())
	c.Status(http.StatusNoContent)
}
