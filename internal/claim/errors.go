package claim

import (
	"errors"
	"fmt"
)

// Sentinel errors for claim and line operations.
var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrLineNotFound    = errors.New("line item not found")
	ErrEvidenceMissing = errors.New("at least one evidence artifact is required before completion")
	ErrOrderCompleted  = errors.New("order is already completed")
	ErrLineComplete    = errors.New("line item is already fully picked")
)

// AlreadyClaimedError reports an acquire conflict. It names the current
// holder so the caller can display "claimed by X".
type AlreadyClaimedError struct {
	Holder string
}

func (e *AlreadyClaimedError) Error() string {
	return fmt.Sprintf("order already claimed by %s", e.Holder)
}

// NotHolderError reports an operation issued by a worker that does not hold
// the claim.
type NotHolderError struct {
	Holder string
}

func (e *NotHolderError) Error() string {
	if e.Holder == "" {
		return "order is not claimed"
	}
	return fmt.Sprintf("claim is held by %s", e.Holder)
}

// QuantityExceededError reports an attempt to pick beyond the expected
// quantity of a line.
type QuantityExceededError struct {
	Expected  int
	Requested int
}

func (e *QuantityExceededError) Error() string {
	return fmt.Sprintf("picked quantity %d exceeds expected %d", e.Requested, e.Expected)
}
