package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"picking-sync-backend/internal/claim"
)

// Error kinds carried in the "error" field of failure responses. The device
// client classifies failures by these values.
const (
	ErrKindAlreadyClaimed   = "already_claimed"
	ErrKindNotHolder        = "not_holder"
	ErrKindNotFound         = "not_found"
	ErrKindAlreadyComplete  = "already_complete"
	ErrKindOrderCompleted   = "order_completed"
	ErrKindQuantityExceeded = "quantity_exceeded"
	ErrKindEvidenceMissing  = "evidence_missing"
	ErrKindUnauthorized     = "unauthorized"
	ErrKindBadRequest       = "bad_request"
)

// errorStatusBody maps a claim-machine error to a status code and a typed
// body. Conflict responses name the conflicting holder so the UI can show
// "claimed by X".
func errorStatusBody(err error) (int, any) {
	var claimed *claim.AlreadyClaimedError
	var notHolder *claim.NotHolderError
	var exceeded *claim.QuantityExceededError

	switch {
	case errors.As(err, &claimed):
		return http.StatusConflict, gin.H{"error": ErrKindAlreadyClaimed, "holder": claimed.Holder, "message": err.Error()}
	case errors.As(err, &notHolder):
		return http.StatusConflict, gin.H{"error": ErrKindNotHolder, "holder": notHolder.Holder, "message": err.Error()}
	case errors.As(err, &exceeded):
		return http.StatusUnprocessableEntity, gin.H{"error": ErrKindQuantityExceeded, "expected": exceeded.Expected, "message": err.Error()}
	case errors.Is(err, claim.ErrOrderNotFound), errors.Is(err, claim.ErrLineNotFound):
		return http.StatusNotFound, gin.H{"error": ErrKindNotFound, "message": err.Error()}
	case errors.Is(err, claim.ErrLineComplete):
		return http.StatusConflict, gin.H{"error": ErrKindAlreadyComplete, "message": err.Error()}
	case errors.Is(err, claim.ErrOrderCompleted):
		return http.StatusConflict, gin.H{"error": ErrKindOrderCompleted, "message": err.Error()}
	case errors.Is(err, claim.ErrEvidenceMissing):
		return http.StatusUnprocessableEntity, gin.H{"error": ErrKindEvidenceMissing, "message": err.Error()}
	default:
		return http.StatusInternalServerError, gin.H{"error": "internal", "message": err.Error()}
	}
}

// respondError writes the mapped error response directly.
func respondError(c *gin.Context, err error) {
	status, body := errorStatusBody(err)
	c.JSON(status, body)
}
