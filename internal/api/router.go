package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"pulse-checkin-backend/internal/mw"
)

// NewRouter creates and configures a new Gin router around the handler.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.Default()

	rateLimitPerSec := h.cfg.Server.RateLimitPerSec
	if rateLimitPerSec <= 0 {
		rateLimitPerSec = 10
	}
	rateLimiter := mw.RateLimiter(rate.Limit(rateLimitPerSec), 5)

	cacheTTL := time.Duration(h.cfg.Server.CacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = 2 * time.Second
	}
	cacheStore := cache.New(cacheTTL, 10*time.Minute)
	caching := mw.Cache(cacheStore, cacheTTL)

	// The realtime bridge sits outside the rate limiter; it is one
	// long-lived connection, not a request stream.
	r.GET("/ws", h.ServeWS)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		api.GET("/resources/:resource_id/rows", caching, h.GetRows)

		api.POST("/resources/:resource_id/checkins", h.CreateCheckIn)
		api.GET("/resources/:resource_id/checkins", h.GetCheckIns)
		api.GET("/resources/:resource_id/stats", h.GetStats)

		api.GET("/resources/:resource_id/scanner-sessions", h.GetScannerSessions)

		api.GET("/resources/:resource_id/pairing-config", h.GetPairingConfig)
		api.PUT("/resources/:resource_id/pairing-config", h.PutPairingConfig)

		api.GET("/resources/:resource_id/scan-log", h.GetScanLog)

		// Server-hosted scanning-client engines.
		api.POST("/scanner/sessions", h.CreateScannerSession)
		api.POST("/scanner/sessions/:device_id/start", h.RestartScannerSession)
		api.POST("/scanner/sessions/:device_id/scans", h.SubmitScan)
		api.GET("/scanner/sessions/:device_id/events", h.GetScanEvents)
		api.DELETE("/scanner/sessions/:device_id", h.CloseScannerSession)

		// Server-hosted dashboard views.
		api.POST("/dashboard/views", h.CreateDashboardView)
		api.GET("/dashboard/views/:view_id", h.GetDashboardView)
		api.DELETE("/dashboard/views/:view_id", h.CloseDashboardView)

		api.GET("/subscriptions", h.GetSubscription)
		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	return r
}
