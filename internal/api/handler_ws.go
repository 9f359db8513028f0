package api

import (
	"log"

	"github.com/gin-gonic/gin"
)

// ServeWS handles GET /ws: attaches the connection to the realtime bridge.
func (h *Handler) ServeWS(c *gin.Context) {
	if err := h.bridge.ServeConn(c.Writer, c.Request); err != nil {
		log.Printf("Failed to upgrade to WebSocket: %v", err)
	}
}
