package picker

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"picking-sync-backend/internal/claim"
	"picking-sync-backend/internal/model"
	"picking-sync-backend/internal/optimistic"
	"picking-sync-backend/internal/parse"
	"picking-sync-backend/internal/remote"
	"picking-sync-backend/internal/store"
	"picking-sync-backend/internal/syncer"
)

// ErrUnknownCode is returned when a scanned code matches no line on the
// order, even after a fresh snapshot fetch.
var ErrUnknownCode = errors.New("scanned code matches no line on this order")

// Coordinator is the synchronous slice of the remote client the service
// uses. Claim acquisition and completion need an immediate authoritative
// answer and never go through the queue.
type Coordinator interface {
	Connect(ctx context.Context) (string, error)
	GetOrder(ctx context.Context, orderID string, fresh bool) (*model.Order, error)
	AcquireClaim(ctx context.Context, orderID, workerID string) (*model.Order, error)
	ContinueClaim(ctx context.Context, orderID, workerID string) (*model.Order, error)
	CompleteOrder(ctx context.Context, orderID, workerID, opID string) error
}

// Service is the device-side picking workflow: claim coordination against
// the service, optimistic local mutations, and queue-backed delivery of
// everything that can tolerate being offline.
type Service struct {
	store    store.Store
	remote   Coordinator
	mutator  *optimistic.Mutator
	engine   *syncer.Engine
	workerID string
	deviceID string
}

// NewService wires the picking workflow together and installs the
// permanent-failure handler on the sync engine.
func NewService(s store.Store, r Coordinator, engine *syncer.Engine, workerID, deviceID string) *Service {
	svc := &Service{
		store:    s,
		remote:   r,
		mutator:  optimistic.NewMutator(s),
		engine:   engine,
		workerID: workerID,
		deviceID: deviceID,
	}
	engine.SetWorker(workerID)
	engine.SetPermanentHandler(svc.handlePermanentFailure)
	return svc
}

// Connect validates credentials against the coordination service.
func (s *Service) Connect(ctx context.Context) (string, error) {
	return s.remote.Connect(ctx)
}

// ClaimOrder acquires the order claim. This is a synchronous call: the
// worker must not start walking the floor on a claim the service would
// reject. On success the authoritative snapshot is cached locally and a
// session opens.
func (s *Service) ClaimOrder(ctx context.Context, orderID string) (*model.Order, error) {
	order, err := s.remote.AcquireClaim(ctx, orderID, s.workerID)
	if err != nil {
		return nil, err
	}
	if err := s.cacheClaimedOrder(ctx, order); err != nil {
		return nil, err
	}
	if _, err := s.store.StartSession(ctx, orderID, s.workerID, s.deviceID); err != nil {
		return nil, err
	}
	log.Printf("Claimed order %s for worker %s.", orderID, s.workerID)
	return order, nil
}

// ContinueOrder resumes a previously held claim, refreshing the cached
// snapshot from the service.
func (s *Service) ContinueOrder(ctx context.Context, orderID string) (*model.Order, error) {
	order, err := s.remote.ContinueClaim(ctx, orderID, s.workerID)
	if err != nil {
		return nil, err
	}
	if err := s.cacheClaimedOrder(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Service) cacheClaimedOrder(ctx context.Context, order *model.Order) error {
	if err := s.store.SaveOrder(ctx, order); err != nil {
		return fmt.Errorf("failed to cache order %s: %w", order.ID, err)
	}
	at := time.Now().UTC()
	if order.ClaimedAt != nil {
		at = *order.ClaimedAt
	}
	return s.store.SetClaimState(ctx, order.ID, s.workerID, at)
}

// ResumeAfterRestart returns the last locally recorded claim, if any. The
// record is advisory; callers confirm it with ContinueOrder once online.
func (s *Service) ResumeAfterRestart(ctx context.Context, orderID string) (*model.ClaimState, error) {
	return s.store.LastClaimState(ctx, orderID)
}

// rollbackSnapshot is the pre-mutation state carried on a queued operation
// and restored when delivery fails permanently.
type rollbackSnapshot struct {
	Kind      string          `json:"kind"`
	LineID    string          `json:"line_id,omitempty"`
	PickedQty int             `json:"picked_qty,omitempty"`
	Line      *model.LineItem `json:"line,omitempty"`
	OrderID   string          `json:"order_id,omitempty"`
	WorkerID  string          `json:"worker_id,omitempty"`
}

const (
	rollbackLineQty     = "line_qty"
	rollbackLineAdded   = "line_added"
	rollbackLineRemoved = "line_removed"
	rollbackClaim       = "claim"
)

// ScanCode registers one scan. The code is resolved against the cached
// snapshot; an unresolved code triggers a single fresh fetch before being
// rejected, since the order may have gained a manual line on another path.
// The picked increment is applied locally and queued for delivery.
func (s *Service) ScanCode(ctx context.Context, orderID, raw string) (*model.LineItem, error) {
	parsed, err := parse.ParseCode(raw)
	if err != nil {
		return nil, err
	}

	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	line := matchLine(order, parsed.Code)
	if line == nil {
		refreshed, ferr := s.remote.GetOrder(ctx, orderID, true)
		if ferr == nil {
			if serr := s.store.SaveOrder(ctx, refreshed); serr != nil {
				return nil, serr
			}
			order = refreshed
			line = matchLine(order, parsed.Code)
		}
	}
	if line == nil {
		return nil, ErrUnknownCode
	}

	payload, err := json.Marshal(map[string]string{"worker": s.workerID, "code": parsed.Code})
	if err != nil {
		return nil, err
	}

	lineID := line.ID
	mut := optimistic.Mutation{
		Key: "line:" + lineID,
		Validate: func(ctx context.Context) error {
			cur, err := s.lineByID(ctx, orderID, lineID)
			if err != nil {
				return err
			}
			if cur.FullyPicked() {
				return claim.ErrLineComplete
			}
			return nil
		},
		Op: &model.PendingOperation{
			ID:        uuid.NewString(),
			Method:    http.MethodPost,
			Target:    "/api/orders/" + orderID + "/scan",
			Payload:   payload,
			OrderID:   orderID,
			EntityKey: "line:" + lineID,
		},
	}
	mut.Apply = func(tx *gorm.DB) error {
		var cur model.LineItem
		if err := tx.First(&cur, "id = ?", lineID).Error; err != nil {
			return err
		}
		snap, err := json.Marshal(rollbackSnapshot{
			Kind:      rollbackLineQty,
			LineID:    lineID,
			PickedQty: cur.PickedQty,
		})
		if err != nil {
			return err
		}
		mut.Op.Rollback = snap
		return tx.Model(&model.LineItem{}).Where("id = ?", lineID).
			Update("picked_qty", gorm.Expr("picked_qty + 1")).Error
	}

	if err := s.mutator.Do(ctx, mut); err != nil {
		return nil, err
	}

	rec := &model.ScanRecord{
		OrderID:    orderID,
		LineItemID: lineID,
		Code:       parsed.Code,
		Scheme:     parsed.Scheme,
		WorkerID:   s.workerID,
		ScannedAt:  time.Now().UTC(),
	}
	if err := s.store.RecordScan(ctx, rec); err != nil {
		log.Printf("Error recording scan audit entry: %v", err)
	}

	s.engine.TriggerDrain()
	return s.lineByID(ctx, orderID, lineID)
}

// SetQuantity sets a line's picked quantity to an absolute value. Repeated
// adjustments to the same line collapse in the queue so only the final
// value is delivered.
func (s *Service) SetQuantity(ctx context.Context, orderID, lineID string, qty int) (*model.LineItem, error) {
	payload, err := json.Marshal(map[string]any{"worker": s.workerID, "qty": qty})
	if err != nil {
		return nil, err
	}

	mut := optimistic.Mutation{
		Key: "line:" + lineID,
		Validate: func(ctx context.Context) error {
			cur, err := s.lineByID(ctx, orderID, lineID)
			if err != nil {
				return err
			}
			if qty < 0 || qty > cur.ExpectedQty {
				return &claim.QuantityExceededError{Expected: cur.ExpectedQty, Requested: qty}
			}
			return nil
		},
		Op: &model.PendingOperation{
			ID:        uuid.NewString(),
			Method:    http.MethodPut,
			Target:    "/api/orders/" + orderID + "/lines/" + lineID + "/quantity",
			Payload:   payload,
			OrderID:   orderID,
			EntityKey: "line:" + lineID,
		},
		Supersede: true,
	}
	mut.Apply = func(tx *gorm.DB) error {
		var cur model.LineItem
		if err := tx.First(&cur, "id = ?", lineID).Error; err != nil {
			return err
		}
		snap, err := json.Marshal(rollbackSnapshot{
			Kind:      rollbackLineQty,
			LineID:    lineID,
			PickedQty: cur.PickedQty,
		})
		if err != nil {
			return err
		}
		mut.Op.Rollback = snap
		return tx.Model(&model.LineItem{}).Where("id = ?", lineID).
			Update("picked_qty", qty).Error
	}

	if err := s.mutator.Do(ctx, mut); err != nil {
		return nil, err
	}
	s.engine.TriggerDrain()
	return s.lineByID(ctx, orderID, lineID)
}

// AddItem adds a manual line to the order with provenance, locally first.
func (s *Service) AddItem(ctx context.Context, orderID, productRef string, qty int, reason string) (*model.LineItem, error) {
	if qty <= 0 {
		return nil, fmt.Errorf("manual line quantity must be positive, got %d", qty)
	}
	payload, err := json.Marshal(map[string]any{
		"worker":      s.workerID,
		"product_ref": productRef,
		"qty":         qty,
		"reason":      reason,
	})
	if err != nil {
		return nil, err
	}

	lineID := uuid.NewString()
	snap, err := json.Marshal(rollbackSnapshot{Kind: rollbackLineAdded, LineID: lineID})
	if err != nil {
		return nil, err
	}
	line := &model.LineItem{
		ID:            lineID,
		OrderID:       orderID,
		ProductRef:    productRef,
		DisplayName:   productRef,
		ExpectedQty:   qty,
		PickedQty:     qty,
		ManuallyAdded: true,
		AddedBy:       s.workerID,
		AddReason:     reason,
	}

	mut := optimistic.Mutation{
		Key: "order:" + orderID,
		Validate: func(ctx context.Context) error {
			_, err := s.store.GetOrder(ctx, orderID)
			return err
		},
		Apply: func(tx *gorm.DB) error {
			return tx.Create(line).Error
		},
		Op: &model.PendingOperation{
			ID:        uuid.NewString(),
			Method:    http.MethodPost,
			Target:    "/api/orders/" + orderID + "/lines",
			Payload:   payload,
			OrderID:   orderID,
			EntityKey: "order:" + orderID,
			Rollback:  snap,
		},
	}
	if err := s.mutator.Do(ctx, mut); err != nil {
		return nil, err
	}
	s.engine.TriggerDrain()
	return line, nil
}

// RemoveItem deletes a line locally and queues the removal.
func (s *Service) RemoveItem(ctx context.Context, orderID, lineID, reason string) error {
	payload, err := json.Marshal(map[string]string{"worker": s.workerID, "reason": reason})
	if err != nil {
		return err
	}

	mut := optimistic.Mutation{
		Key: "line:" + lineID,
		Validate: func(ctx context.Context) error {
			_, err := s.lineByID(ctx, orderID, lineID)
			return err
		},
		Op: &model.PendingOperation{
			ID:        uuid.NewString(),
			Method:    http.MethodDelete,
			Target:    "/api/orders/" + orderID + "/lines/" + lineID,
			Payload:   payload,
			OrderID:   orderID,
			EntityKey: "line:" + lineID,
		},
	}
	mut.Apply = func(tx *gorm.DB) error {
		// The snapshot carries the identity codes too, so a restored line
		// stays scannable.
		var cur model.LineItem
		if err := tx.Preload("Codes").First(&cur, "id = ?", lineID).Error; err != nil {
			return err
		}
		snap, err := json.Marshal(rollbackSnapshot{
			Kind:   rollbackLineRemoved,
			LineID: lineID,
			Line:   &cur,
		})
		if err != nil {
			return err
		}
		mut.Op.Rollback = snap
		if err := tx.Where("line_item_id = ?", lineID).Delete(&model.ItemCode{}).Error; err != nil {
			return err
		}
		return tx.Delete(&model.LineItem{}, "id = ?", lineID).Error
	}

	if err := s.mutator.Do(ctx, mut); err != nil {
		return err
	}
	s.engine.TriggerDrain()
	return nil
}

// Exit releases the claim with a reason. The release is queued: a worker
// walking out of coverage can still put an order down, and the service
// learns about it on the next drain.
func (s *Service) Exit(ctx context.Context, orderID string, reason claim.ExitReason) error {
	if err := reason.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(map[string]string{
		"worker":      s.workerID,
		"reason_code": string(reason.Code),
		"reason_text": reason.Text,
	})
	if err != nil {
		return err
	}
	snap, err := json.Marshal(rollbackSnapshot{
		Kind:     rollbackClaim,
		OrderID:  orderID,
		WorkerID: s.workerID,
	})
	if err != nil {
		return err
	}

	mut := optimistic.Mutation{
		Key: "claim:" + orderID,
		Apply: func(tx *gorm.DB) error {
			return tx.Delete(&model.ClaimState{}, "order_id = ?", orderID).Error
		},
		Op: &model.PendingOperation{
			ID:        uuid.NewString(),
			Method:    http.MethodPost,
			Target:    "/api/orders/" + orderID + "/release",
			Payload:   payload,
			OrderID:   orderID,
			EntityKey: "claim:" + orderID,
			Rollback:  snap,
		},
	}
	if err := s.mutator.Do(ctx, mut); err != nil {
		return err
	}
	if err := s.store.EndSession(ctx, orderID, s.workerID); err != nil {
		log.Printf("Error ending session for order %s: %v", orderID, err)
	}
	s.engine.TriggerDrain()
	return nil
}

// Complete marks the order picked. Completion is synchronous: the service
// enforces the evidence requirement and the worker needs its verdict before
// moving on. Pending operations for the order are drained first so the
// service judges the final state.
func (s *Service) Complete(ctx context.Context, orderID string) error {
	if _, err := s.engine.DrainOnce(ctx); err != nil {
		return err
	}
	opID := uuid.NewString()
	if err := s.remote.CompleteOrder(ctx, orderID, s.workerID, opID); err != nil {
		return err
	}
	if err := s.store.ClearClaimState(ctx, orderID); err != nil {
		log.Printf("Error clearing claim state for order %s: %v", orderID, err)
	}
	if err := s.store.EndSession(ctx, orderID, s.workerID); err != nil {
		log.Printf("Error ending session for order %s: %v", orderID, err)
	}
	log.Printf("Order %s completed by worker %s.", orderID, s.workerID)
	return nil
}

// UploadEvidence queues an evidence artifact for delivery.
func (s *Service) UploadEvidence(ctx context.Context, orderID string, blob []byte, kind model.EvidenceKind) error {
	if kind != model.EvidenceKindPhoto && kind != model.EvidenceKindVideo {
		return fmt.Errorf("unsupported evidence kind %q", kind)
	}
	payload, err := json.Marshal(map[string]string{
		"worker": s.workerID,
		"kind":   string(kind),
		"blob":   base64.StdEncoding.EncodeToString(blob),
	})
	if err != nil {
		return err
	}

	op := &model.PendingOperation{
		ID:      uuid.NewString(),
		Method:  http.MethodPost,
		Target:  "/api/orders/" + orderID + "/evidence",
		Payload: payload,
		OrderID: orderID,
	}
	mut := optimistic.Mutation{
		Key: "evidence:" + orderID,
		Op:  op,
	}
	if err := s.mutator.Do(ctx, mut); err != nil {
		return err
	}
	s.engine.TriggerDrain()
	return nil
}

// PendingCount reports how many operations still await delivery.
func (s *Service) PendingCount(ctx context.Context) (int, error) {
	ops, err := s.store.Pending(ctx)
	if err != nil {
		return 0, err
	}
	return len(ops), nil
}

func (s *Service) lineByID(ctx context.Context, orderID, lineID string) (*model.LineItem, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	for i := range order.Lines {
		if order.Lines[i].ID == lineID {
			return &order.Lines[i], nil
		}
	}
	return nil, claim.ErrLineNotFound
}

func matchLine(order *model.Order, code string) *model.LineItem {
	for i := range order.Lines {
		for _, ic := range order.Lines[i].Codes {
			if ic.Code == code {
				return &order.Lines[i]
			}
		}
	}
	return nil
}

// handlePermanentFailure restores the rollback snapshot of a dead-lettered
// operation and terminates the session on authorization failures.
func (s *Service) handlePermanentFailure(ctx context.Context, op model.PendingOperation, cause error) {
	if len(op.Rollback) > 0 {
		var snap rollbackSnapshot
		if err := json.Unmarshal(op.Rollback, &snap); err != nil {
			log.Printf("Error decoding rollback snapshot for operation %s: %v", op.ID, err)
		} else if err := s.restore(ctx, snap); err != nil {
			log.Printf("Error restoring snapshot for operation %s: %v", op.ID, err)
		} else {
			log.Printf("Rolled back local state for failed operation %s on order %s.", op.ID, op.OrderID)
		}
	}

	if remote.IsAuthError(cause) {
		log.Printf("Authorization failure on operation %s, terminating session for order %s.", op.ID, op.OrderID)
		if err := s.store.ClearClaimState(ctx, op.OrderID); err != nil {
			log.Printf("Error clearing claim state for order %s: %v", op.OrderID, err)
		}
		if err := s.store.EndSession(ctx, op.OrderID, s.workerID); err != nil {
			log.Printf("Error ending session for order %s: %v", op.OrderID, err)
		}
	}
}

func (s *Service) restore(ctx context.Context, snap rollbackSnapshot) error {
	switch snap.Kind {
	case rollbackLineQty:
		return s.store.Restore(ctx, func(tx *gorm.DB) error {
			return tx.Model(&model.LineItem{}).Where("id = ?", snap.LineID).
				Update("picked_qty", snap.PickedQty).Error
		})
	case rollbackLineAdded:
		return s.store.Restore(ctx, func(tx *gorm.DB) error {
			return tx.Delete(&model.LineItem{}, "id = ?", snap.LineID).Error
		})
	case rollbackLineRemoved:
		return s.store.Restore(ctx, func(tx *gorm.DB) error {
			return tx.Create(snap.Line).Error
		})
	case rollbackClaim:
		return s.store.SetClaimState(ctx, snap.OrderID, snap.WorkerID, time.Now().UTC())
	default:
		return fmt.Errorf("unknown rollback kind %q", snap.Kind)
	}
}
