package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"picking-sync-backend/internal/model"
)

// OperationIDHeader carries the stable operation id the write queue assigns
// to every queued request, so transport-level retries replay idempotently.
const OperationIDHeader = "X-Operation-ID"

// withIdempotency runs fn unless the request's operation id has already
// been applied, in which case the recorded first response is returned
// verbatim. Requests sharing an operation id are serialized, so a
// concurrent duplicate waits for the first and replays its recorded
// response instead of applying the effect again. Only successful outcomes
// are recorded: a rejected operation may legitimately be retried by an
// operator after fixing the cause.
func (h *Handler) withIdempotency(c *gin.Context, fn func() (int, any)) {
	opID := c.GetHeader(OperationIDHeader)
	if opID == "" {
		status, body := fn()
		c.JSON(status, body)
		return
	}

	unlock := h.lockOp(opID)
	defer unlock()

	var applied model.AppliedOperation
	err := h.db.First(&applied, "op_id = ?", opID).Error
	if err == nil {
		c.Data(applied.Status, "application/json", applied.Body)
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": err.Error()})
		return
	}

	status, body := fn()
	if status >= 200 && status < 300 {
		raw, marshalErr := json.Marshal(body)
		if marshalErr == nil {
			record := model.AppliedOperation{
				OpID:      opID,
				Status:    status,
				Body:      raw,
				AppliedAt: time.Now().UTC(),
			}
			if err := h.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&record).Error; err != nil {
				log.Printf("Warning: failed to record applied operation %s: %v", opID, err)
			}
		}
	}
	c.JSON(status, body)
}
