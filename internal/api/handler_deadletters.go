package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm/clause"

	"picking-sync-backend/internal/model"
)

type reportDeadLetterRequest struct {
	OpID     string `json:"op_id" binding:"required"`
	Method   string `json:"method" binding:"required"`
	Target   string `json:"target" binding:"required"`
	Payload  []byte `json:"payload"`
	OrderID  string `json:"order_id"`
	WorkerID string `json:"worker"`
	DeviceID string `json:"device"`
	Attempts int    `json:"attempts"`
	Cause    string `json:"cause" binding:"required"`
}

// ReportDeadLetter accepts a device's report of a permanently failed
// operation, records it for operator inspection and dispatches a supervisor
// alert. Reports are keyed by operation id, so re-reporting is harmless.
func (h *Handler) ReportDeadLetter(c *gin.Context) {
	var req reportDeadLetterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrKindBadRequest, "message": err.Error()})
		return
	}

	letter := model.DeadLetter{
		OpID:       req.OpID,
		Method:     req.Method,
		Target:     req.Target,
		Payload:    req.Payload,
		OrderID:    req.OrderID,
		WorkerID:   req.WorkerID,
		DeviceID:   req.DeviceID,
		Attempts:   req.Attempts,
		Cause:      req.Cause,
		RecordedAt: time.Now().UTC(),
	}
	res := h.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&letter)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": res.Error.Error()})
		return
	}

	// Alert only on first sight of the operation id.
	if res.RowsAffected > 0 && h.alerts != nil {
		h.alerts.Dispatch(letter.ID)
	}

	c.JSON(http.StatusCreated, gin.H{"id": letter.ID})
}

// ListDeadLetters returns the permanent-failure set for manual
// reconciliation.
func (h *Handler) ListDeadLetters(c *gin.Context) {
	var letters []model.DeadLetter
	if err := h.db.Order("recorded_at ASC").Find(&letters).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, letters)
}
