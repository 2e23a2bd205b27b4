package claim

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"picking-sync-backend/internal/model"
	"picking-sync-backend/internal/parse"
)

// Machine is the server-authoritative order claim state machine. Every
// transition runs under a per-order mutex and a database transaction, so
// acquisition is strictly first-writer-wins; clients never arbitrate
// conflicts locally.
type Machine struct {
	db *gorm.DB

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewMachine creates a claim machine over the catalogue database.
func NewMachine(db *gorm.DB) *Machine {
	return &Machine{
		db:    db,
		locks: make(map[string]*sync.Mutex),
	}
}

// orderLock returns the mutex serializing transitions for one order.
func (m *Machine) orderLock(orderID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[orderID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[orderID] = lock
	}
	return lock
}

// Get returns the full order snapshot with lines, codes and history.
func (m *Machine) Get(ctx context.Context, orderID string) (*model.Order, error) {
	var order model.Order
	err := m.db.WithContext(ctx).
		Preload("Lines").
		Preload("Lines.Codes").
		Preload("History", func(db *gorm.DB) *gorm.DB {
			return db.Order("claim_history_entries.recorded_at ASC, claim_history_entries.id ASC")
		}).
		First(&order, "id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// Acquire gives workerID exclusive ownership of the order. Re-entry by the
// current holder succeeds idempotently; any other holder produces a
// deterministic AlreadyClaimedError naming them.
func (m *Machine) Acquire(ctx context.Context, orderID, workerID string) (*model.Order, error) {
	lock := m.orderLock(orderID)
	lock.Lock()
	defer lock.Unlock()

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := loadOrder(tx, orderID)
		if err != nil {
			return err
		}
		if order.Status == model.OrderStatusCompleted {
			return ErrOrderCompleted
		}

		now := time.Now().UTC()
		switch {
		case !order.Claimed():
			updates := map[string]any{"claimed_by": workerID, "claimed_at": now}
			if order.Status == model.OrderStatusPending {
				updates["status"] = model.OrderStatusPicking
			}
			if err := tx.Model(order).Updates(updates).Error; err != nil {
				return fmt.Errorf("failed to claim order %s: %w", orderID, err)
			}
			return appendHistory(tx, orderID, workerID, model.ClaimActionEntered, "", "")
		case order.HeldBy(workerID):
			return appendHistory(tx, orderID, workerID, model.ClaimActionReentered, "", "")
		default:
			return &AlreadyClaimedError{Holder: order.ClaimedBy}
		}
	})
	if err != nil {
		return nil, err
	}
	return m.Get(ctx, orderID)
}

// Continue confirms that workerID still holds the claim.
func (m *Machine) Continue(ctx context.Context, orderID, workerID string) (*model.Order, error) {
	lock := m.orderLock(orderID)
	lock.Lock()
	defer lock.Unlock()

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := loadOrder(tx, orderID)
		if err != nil {
			return err
		}
		if !order.HeldBy(workerID) {
			return &NotHolderError{Holder: order.ClaimedBy}
		}
		return appendHistory(tx, orderID, workerID, model.ClaimActionContinued, "", "")
	})
	if err != nil {
		return nil, err
	}
	return m.Get(ctx, orderID)
}

// Release gives the claim up with a reason. It always succeeds for the
// current holder and fails with NotHolderError for anyone else.
func (m *Machine) Release(ctx context.Context, orderID, workerID string, reason ExitReason) error {
	if err := reason.Validate(); err != nil {
		return err
	}

	lock := m.orderLock(orderID)
	lock.Lock()
	defer lock.Unlock()

	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := loadOrder(tx, orderID)
		if err != nil {
			return err
		}
		if !order.HeldBy(workerID) {
			return &NotHolderError{Holder: order.ClaimedBy}
		}
		updates := map[string]any{"claimed_by": "", "claimed_at": nil}
		if order.Status == model.OrderStatusPicking {
			updates["status"] = model.OrderStatusPending
		}
		if err := tx.Model(order).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to release order %s: %w", orderID, err)
		}
		return appendHistory(tx, orderID, workerID, model.ClaimActionExited, string(reason.Code), reason.Text)
	})
}

// Complete marks the order picked. It requires the caller to hold the claim
// and at least one evidence artifact to have been recorded.
func (m *Machine) Complete(ctx context.Context, orderID, workerID string) error {
	lock := m.orderLock(orderID)
	lock.Lock()
	defer lock.Unlock()

	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := loadOrder(tx, orderID)
		if err != nil {
			return err
		}
		if order.Status == model.OrderStatusCompleted {
			return ErrOrderCompleted
		}
		if !order.HeldBy(workerID) {
			return &NotHolderError{Holder: order.ClaimedBy}
		}

		var evidenceCount int64
		if err := tx.Model(&model.Evidence{}).Where("order_id = ?", orderID).
			Count(&evidenceCount).Error; err != nil {
			return fmt.Errorf("failed to count evidence for order %s: %w", orderID, err)
		}
		if evidenceCount == 0 {
			return ErrEvidenceMissing
		}

		updates := map[string]any{
			"status":     model.OrderStatusCompleted,
			"claimed_by": "",
			"claimed_at": nil,
		}
		if err := tx.Model(order).Updates(updates).Error; err != nil {
			return fmt.Errorf("failed to complete order %s: %w", orderID, err)
		}
		return appendHistory(tx, orderID, workerID, model.ClaimActionCompleted, "", "")
	})
}

// Scan resolves a scanned code against the order's lines and increments the
// matched line's picked quantity by one.
func (m *Machine) Scan(ctx context.Context, orderID, code, workerID string) (*model.LineItem, error) {
	parsed, err := parse.ParseCode(code)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLineNotFound, err)
	}

	lock := m.orderLock(orderID)
	lock.Lock()
	defer lock.Unlock()

	var line model.LineItem
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := loadOrder(tx, orderID)
		if err != nil {
			return err
		}
		if order.Status == model.OrderStatusCompleted {
			return ErrOrderCompleted
		}
		if !order.HeldBy(workerID) {
			return &NotHolderError{Holder: order.ClaimedBy}
		}

		err = tx.Joins("JOIN item_codes ON item_codes.line_item_id = line_items.id").
			Where("line_items.order_id = ? AND item_codes.code = ?", orderID, parsed.Code).
			First(&line).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrLineNotFound
		}
		if err != nil {
			return err
		}

		if line.FullyPicked() {
			return ErrLineComplete
		}
		line.PickedQty++
		if err := tx.Model(&model.LineItem{}).Where("id = ?", line.ID).
			Update("picked_qty", line.PickedQty).Error; err != nil {
			return fmt.Errorf("failed to record pick on line %s: %w", line.ID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m.lineWithCodes(ctx, line.ID)
}

// SetQuantity sets the picked quantity of a line to an absolute value.
// Setting to N is naturally idempotent under replay.
func (m *Machine) SetQuantity(ctx context.Context, orderID, lineID string, qty int, workerID string) (*model.LineItem, error) {
	lock := m.orderLock(orderID)
	lock.Lock()
	defer lock.Unlock()

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := loadOrder(tx, orderID)
		if err != nil {
			return err
		}
		if order.Status == model.OrderStatusCompleted {
			return ErrOrderCompleted
		}
		if !order.HeldBy(workerID) {
			return &NotHolderError{Holder: order.ClaimedBy}
		}

		var line model.LineItem
		err = tx.First(&line, "id = ? AND order_id = ?", lineID, orderID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrLineNotFound
		}
		if err != nil {
			return err
		}
		if qty < 0 || qty > line.ExpectedQty {
			return &QuantityExceededError{Expected: line.ExpectedQty, Requested: qty}
		}
		return tx.Model(&model.LineItem{}).Where("id = ?", lineID).
			Update("picked_qty", qty).Error
	})
	if err != nil {
		return nil, err
	}
	return m.lineWithCodes(ctx, lineID)
}

// AddManualItem appends a line the worker added on the floor, with
// provenance recorded on the line itself.
func (m *Machine) AddManualItem(ctx context.Context, orderID, productRef string, qty int, workerID, reason string) (*model.Order, error) {
	if qty <= 0 {
		return nil, &QuantityExceededError{Expected: qty, Requested: qty}
	}

	lock := m.orderLock(orderID)
	lock.Lock()
	defer lock.Unlock()

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := loadOrder(tx, orderID)
		if err != nil {
			return err
		}
		if order.Status == model.OrderStatusCompleted {
			return ErrOrderCompleted
		}
		if !order.HeldBy(workerID) {
			return &NotHolderError{Holder: order.ClaimedBy}
		}

		line := model.LineItem{
			ID:            uuid.NewString(),
			OrderID:       orderID,
			ProductRef:    productRef,
			ExpectedQty:   qty,
			PickedQty:     qty, // a manually added item is picked by definition
			ManuallyAdded: true,
			AddedBy:       workerID,
			AddReason:     reason,
		}
		if err := tx.Create(&line).Error; err != nil {
			return fmt.Errorf("failed to add manual line to order %s: %w", orderID, err)
		}
		parsed, err := parse.ParseCode(productRef)
		if err == nil {
			code := model.ItemCode{LineItemID: line.ID, Scheme: parsed.Scheme, Code: parsed.Code}
			if err := tx.Create(&code).Error; err != nil {
				return fmt.Errorf("failed to register code for manual line %s: %w", line.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m.Get(ctx, orderID)
}

// RemoveItem deletes a line, keeping the removal reason in the claim
// history so the provenance is auditable.
func (m *Machine) RemoveItem(ctx context.Context, orderID, lineID, workerID, reason string) (*model.Order, error) {
	lock := m.orderLock(orderID)
	lock.Lock()
	defer lock.Unlock()

	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := loadOrder(tx, orderID)
		if err != nil {
			return err
		}
		if order.Status == model.OrderStatusCompleted {
			return ErrOrderCompleted
		}
		if !order.HeldBy(workerID) {
			return &NotHolderError{Holder: order.ClaimedBy}
		}

		res := tx.Where("id = ? AND order_id = ?", lineID, orderID).Delete(&model.LineItem{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrLineNotFound
		}
		return tx.Where("line_item_id = ?", lineID).Delete(&model.ItemCode{}).Error
	})
	if err != nil {
		return nil, err
	}
	return m.Get(ctx, orderID)
}

// AddEvidence stores an evidence artifact for the order.
func (m *Machine) AddEvidence(ctx context.Context, orderID, workerID string, blob []byte, kind model.EvidenceKind) (*model.Evidence, error) {
	if kind != model.EvidenceKindPhoto && kind != model.EvidenceKindVideo {
		return nil, fmt.Errorf("unknown evidence kind %q", kind)
	}
	if len(blob) == 0 {
		return nil, fmt.Errorf("evidence blob is empty")
	}

	lock := m.orderLock(orderID)
	lock.Lock()
	defer lock.Unlock()

	var evidence model.Evidence
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := loadOrder(tx, orderID)
		if err != nil {
			return err
		}
		if !order.HeldBy(workerID) {
			return &NotHolderError{Holder: order.ClaimedBy}
		}
		evidence = model.Evidence{
			ID:         uuid.NewString(),
			OrderID:    orderID,
			WorkerID:   workerID,
			Kind:       kind,
			Blob:       blob,
			SizeBytes:  int64(len(blob)),
			UploadedAt: time.Now().UTC(),
		}
		return tx.Create(&evidence).Error
	})
	if err != nil {
		return nil, err
	}
	return &evidence, nil
}

func (m *Machine) lineWithCodes(ctx context.Context, lineID string) (*model.LineItem, error) {
	var line model.LineItem
	if err := m.db.WithContext(ctx).Preload("Codes").First(&line, "id = ?", lineID).Error; err != nil {
		return nil, err
	}
	return &line, nil
}

func loadOrder(tx *gorm.DB, orderID string) (*model.Order, error) {
	var order model.Order
	err := tx.First(&order, "id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func appendHistory(tx *gorm.DB, orderID, workerID string, action model.ClaimAction, reasonCode, reasonText string) error {
	entry := model.ClaimHistoryEntry{
		OrderID:    orderID,
		WorkerID:   workerID,
		Action:     action,
		ReasonCode: reasonCode,
		ReasonText: reasonText,
		RecordedAt: time.Now().UTC(),
	}
	if err := tx.Create(&entry).Error; err != nil {
		return fmt.Errorf("failed to append claim history for order %s: %w", orderID, err)
	}
	return nil
}
