package alerts

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP handlers for alert operations.
type Handler struct {
	dispatcher *Dispatcher
}

// NewHandler creates a new alerts handler.
func NewHandler(dispatcher *Dispatcher) *Handler {
	return &Handler{dispatcher: dispatcher}
}

// RegisterRoutes sets up the alert routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/alerts", h.List)
	r.GET("/alerts/stats", h.GetStats)
	r.POST("/alerts/:id/ack", h.Acknowledge)
}

// List handles GET /alerts with optional level/type/wallet/unacked/limit
// query parameters.
func (h *Handler) List(c *gin.Context) {
	f := Filter{
		Level:  Level(c.Query("level")),
		Type:   Type(c.Query("type")),
		Wallet: c.Query("wallet"),
	}
	if v := c.Query("unacknowledged"); v == "true" || v == "1" {
		f.UnacknowledgedOnly = true
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Limit = n
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    h.dispatcher.Query(f),
	})
}

// AcknowledgeRequest is the request body for alert acknowledgement.
type AcknowledgeRequest struct {
	By string `json:"by" binding:"required"`
}

// Acknowledge handles POST /alerts/:id/ack.
func (h *Handler) Acknowledge(c *gin.Context) {
	var req AcknowledgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "Invalid request body",
		})
		return
	}

	// Unknown IDs are not an error: the alert may simply have been evicted.
	found := h.dispatcher.Acknowledge(c.Param("id"), req.By)
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    gin.H{"acknowledged": found},
	})
}

// GetStats handles GET /alerts/stats.
func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    h.dispatcher.Stats(),
	})
}
