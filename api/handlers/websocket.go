package handlers

import (
	"log"

	"github.com/gin-gonic/gin"

	"github.com/shared-code-editor/backend/internal/ws"
)

// WebSocketHandler upgrades HTTP requests into protocol connections.
type WebSocketHandler struct {
	service *ws.Service
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(service *ws.Service) *WebSocketHandler {
	return &WebSocketHandler{
		service: service,
	}
}

// Connect handles GET /api/ws. The connection is unjoined until the client
// sends a join message.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	h.service.Start()

	if err := h.service.Handler().HandleConnection(c.Writer, c.Request); err != nil {
		// The upgrader has already written the HTTP error.
		log.Printf("WebSocket upgrade failed: %v", err)
	}
}

// RegisterRoutes registers the WebSocket handler routes on a Gin router group.
func (h *WebSocketHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/ws", h.Connect)
}
