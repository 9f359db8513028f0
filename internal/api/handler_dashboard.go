package api

import (
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"pulse-checkin-backend/internal/dashboard"
	"pulse-checkin-backend/internal/store"
)

// viewRegistry holds server-hosted dashboard views.
type viewRegistry struct {
	mu    sync.Mutex
	views map[string]*dashboard.Dashboard
}

func newViewRegistry() *viewRegistry {
	return &viewRegistry{views: make(map[string]*dashboard.Dashboard)}
}

func (r *viewRegistry) add(id string, d *dashboard.Dashboard) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.views[id] = d
}

func (r *viewRegistry) get(id string) *dashboard.Dashboard {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.views[id]
}

func (r *viewRegistry) remove(id string) *dashboard.Dashboard {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.views[id]
	delete(r.views, id)
	return d
}

type createDashboardViewRequest struct {
	ResourceID string `json:"resource_id" binding:"required"`
	ShowPopups bool   `json:"show_popups"`
}

// CreateDashboardView handles POST /api/dashboard/views: opens a dashboard
// for a resource. A resource with no pairing configuration is a terminal
// 404, distinct from a transient failure.
func (h *Handler) CreateDashboardView(c *gin.Context) {
	var req createDashboardViewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	view := dashboard.New(req.ResourceID, dashboard.Config{
		Transport:    h.transport,
		Store:        h.store,
		UserAgent:    c.Request.UserAgent(),
		PollInterval: h.cfg.Dashboard.PollInterval,
		PopupTTL:     h.cfg.Dashboard.PopupTTL,
		ShowPopups:   req.ShowPopups || h.cfg.Dashboard.ShowPopups,
	})
	if err := view.Start(c.Request.Context()); err != nil {
		if errors.Is(err, store.ErrNotConfigured) {
			c.JSON(http.StatusNotFound, gin.H{"error": "resource is not configured for check-in"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	viewID := uuid.NewString()
	h.views.add(viewID, view)
	c.JSON(http.StatusCreated, gin.H{
		"view_id":      viewID,
		"pairing_code": view.PairingCode(),
		"epoch":        view.Reconciler().Epoch(),
	})
}

// GetDashboardView handles GET /api/dashboard/views/{view_id}: the current
// reconciled aggregate, session list, scanner registry and popup.
func (h *Handler) GetDashboardView(c *gin.Context) {
	view := h.views.get(c.Param("view_id"))
	if view == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "dashboard view not found"})
		return
	}
	rec := view.Reconciler()
	c.JSON(http.StatusOK, gin.H{
		"pairing_code": view.PairingCode(),
		"stats":        rec.Stats(),
		"sessions":     rec.Sessions(),
		"scanners":     view.Registry().Scanners(),
		"popup":        rec.CurrentPopup(),
		"polling":      rec.Polling(),
	})
}

// CloseDashboardView handles DELETE /api/dashboard/views/{view_id},
// releasing every subscription and timer the view owns.
func (h *Handler) CloseDashboardView(c *gin.Context) {
	view := h.views.remove(c.Param("view_id"))
	if view == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "dashboard view not found"})
		return
	}
	view.Stop()
	c.Status(http.StatusNoContent)
}
