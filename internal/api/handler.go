package api

import (
	"github.com/SherClockHolmes/webpush-go"

	"pulse-checkin-backend/config"
	"pulse-checkin-backend/internal/notification"
	"pulse-checkin-backend/internal/realtime"
	"pulse-checkin-backend/internal/scanner"
	"pulse-checkin-backend/internal/store"
)

// Handler holds shared dependencies for API handlers.
type Handler struct {
	cfg       *config.Config
	store     store.Store
	transport realtime.Transport
	bridge    *realtime.Bridge
	webpush   *webpush.Options
	pool      *notification.WorkerPool
	scanLog   *scanner.ScanLog
	engines   *engineRegistry
	views     *viewRegistry
}

// NewHandler creates a new API handler.
func NewHandler(cfg *config.Config, s store.Store, transport realtime.Transport, bridge *realtime.Bridge, webpushOptions *webpush.Options, pool *notification.WorkerPool, scanLog *scanner.ScanLog) *Handler {
	return &Handler{
		cfg:       cfg,
		store:     s,
		transport: transport,
		bridge:    bridge,
		webpush:   webpushOptions,
		pool:      pool,
		scanLog:   scanLog,
		engines:   newEngineRegistry(),
		views:     newViewRegistry(),
	}
}
