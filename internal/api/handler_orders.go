package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type connectRequest struct {
	APIKey string `json:"api_key" binding:"required"`
}

// Connect validates store credentials and returns the store identity.
func (h *Handler) Connect(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrKindBadRequest, "message": err.Error()})
		return
	}
	if h.cfg.APIKey == "" || req.APIKey != h.cfg.APIKey {
		c.JSON(http.StatusUnauthorized, gin.H{"error": ErrKindUnauthorized})
		return
	}
	c.JSON(http.StatusOK, gin.H{"store": h.cfg.StoreName})
}

// Healthz is the reachability probe used by device connectivity monitors.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetOrder returns the full order snapshot with lines, codes and claim
// history.
func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.machine.Get(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}
