package api

import (
	"encoding/base64"
	"net/http"

	"github.com/gin-gonic/gin"

	"picking-sync-backend/internal/claim"
	"picking-sync-backend/internal/model"
)

type workerRequest struct {
	WorkerID string `json:"worker" binding:"required"`
}

// AcquireClaim handles POST /api/orders/:order_id/claim.
func (h *Handler) AcquireClaim(c *gin.Context) {
	var req workerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrKindBadRequest, "message": err.Error()})
		return
	}
	order, err := h.machine.Acquire(c.Request.Context(), c.Param("order_id"), req.WorkerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// ContinueClaim handles POST /api/orders/:order_id/claim/continue.
func (h *Handler) ContinueClaim(c *gin.Context) {
	var req workerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrKindBadRequest, "message": err.Error()})
		return
	}
	order, err := h.machine.Continue(c.Request.Context(), c.Param("order_id"), req.WorkerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type releaseRequest struct {
	WorkerID   string `json:"worker" binding:"required"`
	ReasonCode string `json:"reason_code" binding:"required"`
	ReasonText string `json:"reason_text"`
}

// ReleaseClaim handles POST /api/orders/:order_id/release.
func (h *Handler) ReleaseClaim(c *gin.Context) {
	var req releaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrKindBadRequest, "message": err.Error()})
		return
	}
	reason := claim.ExitReason{Code: claim.ExitReasonCode(req.ReasonCode), Text: req.ReasonText}
	if err := reason.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrKindBadRequest, "message": err.Error()})
		return
	}
	if err := h.machine.Release(c.Request.Context(), c.Param("order_id"), req.WorkerID, reason); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": true})
}

// CompleteOrder handles POST /api/orders/:order_id/complete.
func (h *Handler) CompleteOrder(c *gin.Context) {
	var req workerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrKindBadRequest, "message": err.Error()})
		return
	}
	h.withIdempotency(c, func() (int, any) {
		if err := h.machine.Complete(c.Request.Context(), c.Param("order_id"), req.WorkerID); err != nil {
			return errorStatusBody(err)
		}
		return http.StatusOK, gin.H{"completed": true}
	})
}

type scanRequest struct {
	WorkerID string `json:"worker" binding:"required"`
	Code     string `json:"code" binding:"required"`
}

// Scan handles POST /api/orders/:order_id/scan. A scan increments the
// matched line's picked quantity by one, so replays must be deduplicated by
// operation id.
func (h *Handler) Scan(c *gin.Context) {
	var req scanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrKindBadRequest, "message": err.Error()})
		return
	}
	h.withIdempotency(c, func() (int, any) {
		line, err := h.machine.Scan(c.Request.Context(), c.Param("order_id"), req.Code, req.WorkerID)
		if err != nil {
			return errorStatusBody(err)
		}
		return http.StatusOK, line
	})
}

type setQuantityRequest struct {
	WorkerID string `json:"worker" binding:"required"`
	Qty      *int   `json:"qty" binding:"required"`
}

// SetQuantity handles PUT /api/orders/:order_id/lines/:line_id/quantity.
func (h *Handler) SetQuantity(c *gin.Context) {
	var req setQuantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrKindBadRequest, "message": err.Error()})
		return
	}
	h.withIdempotency(c, func() (int, any) {
		line, err := h.machine.SetQuantity(c.Request.Context(), c.Param("order_id"), c.Param("line_id"), *req.Qty, req.WorkerID)
		if err != nil {
			return errorStatusBody(err)
		}
		return http.StatusOK, line
	})
}

type addItemRequest struct {
	WorkerID   string `json:"worker" binding:"required"`
	ProductRef string `json:"product_ref" binding:"required"`
	Qty        int    `json:"qty" binding:"required"`
	Reason     string `json:"reason" binding:"required"`
}

// AddManualItem handles POST /api/orders/:order_id/lines.
func (h *Handler) AddManualItem(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrKindBadRequest, "message": err.Error()})
		return
	}
	h.withIdempotency(c, func() (int, any) {
		order, err := h.machine.AddManualItem(c.Request.Context(), c.Param("order_id"), req.ProductRef, req.Qty, req.WorkerID, req.Reason)
		if err != nil {
			return errorStatusBody(err)
		}
		return http.StatusOK, order
	})
}

type removeItemRequest struct {
	WorkerID string `json:"worker" binding:"required"`
	Reason   string `json:"reason" binding:"required"`
}

// RemoveItem handles DELETE /api/orders/:order_id/lines/:line_id.
func (h *Handler) RemoveItem(c *gin.Context) {
	var req removeItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrKindBadRequest, "message": err.Error()})
		return
	}
	h.withIdempotency(c, func() (int, any) {
		order, err := h.machine.RemoveItem(c.Request.Context(), c.Param("order_id"), c.Param("line_id"), req.WorkerID, req.Reason)
		if err != nil {
			return errorStatusBody(err)
		}
		return http.StatusOK, order
	})
}

type uploadEvidenceRequest struct {
	WorkerID string `json:"worker" binding:"required"`
	Kind     string `json:"kind" binding:"required"`
	Blob     string `json:"blob" binding:"required"` // base64
}

// UploadEvidence handles POST /api/orders/:order_id/evidence.
func (h *Handler) UploadEvidence(c *gin.Context) {
	var req uploadEvidenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrKindBadRequest, "message": err.Error()})
		return
	}
	blob, err := base64.StdEncoding.DecodeString(req.Blob)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": ErrKindBadRequest, "message": "blob is not valid base64"})
		return
	}
	h.withIdempotency(c, func() (int, any) {
		evidence, err := h.machine.AddEvidence(c.Request.Context(), c.Param("order_id"), req.WorkerID, blob, model.EvidenceKind(req.Kind))
		if err != nil {
			return errorStatusBody(err)
		}
		return http.StatusCreated, evidence
	})
}

