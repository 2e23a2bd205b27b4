package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"picking-sync-backend/internal/model"
)

// ErrNotFound is returned when a requested record does not exist locally.
var ErrNotFound = errors.New("store: not found")

// Store defines the on-device durable store. All writes are transactional;
// reads never touch the network.
type Store interface {
	DB() *gorm.DB

	// Cached order snapshots.
	SaveOrder(ctx context.Context, order *model.Order) error
	GetOrder(ctx context.Context, orderID string) (*model.Order, error)

	// Pending-operation queue. Enqueue couples the optimistic local write
	// with the queue insert in one transaction: both land or neither does.
	Enqueue(ctx context.Context, op *model.PendingOperation, supersede bool, apply func(tx *gorm.DB) error) error
	Pending(ctx context.Context) ([]model.PendingOperation, error)
	DeletePending(ctx context.Context, opID string) error
	BumpRetry(ctx context.Context, opID string) (int, error)
	MoveToDeadLetter(ctx context.Context, op model.PendingOperation, cause, workerID, deviceID string) error
	DeadLetters(ctx context.Context) ([]model.DeadLetter, error)

	// Restore applies a rollback mutation outside the queue path.
	Restore(ctx context.Context, apply func(tx *gorm.DB) error) error

	// Sessions and scan audit records.
	StartSession(ctx context.Context, orderID, workerID, deviceID string) (*model.Session, error)
	EndSession(ctx context.Context, orderID, workerID string) error
	ActiveSession(ctx context.Context, workerID string) (*model.Session, error)
	RecordScan(ctx context.Context, rec *model.ScanRecord) error

	// Last known claim state, survivable across restarts.
	SetClaimState(ctx context.Context, orderID, workerID string, at time.Time) error
	ClearClaimState(ctx context.Context, orderID string) error
	LastClaimState(ctx context.Context, orderID string) (*model.ClaimState, error)

	// Device identity persistence.
	DeviceHash(ctx context.Context) (string, error)
	SetDeviceHash(ctx context.Context, hash string) error
}

// gormStore implements Store on a SQLite-backed gorm handle.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new gorm-backed local store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// SaveOrder replaces the cached snapshot of an order, including its lines,
// codes and claim history, in one transaction.
func (s *gormStore) SaveOrder(ctx context.Context, order *model.Order) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lineIDs []string
		if err := tx.Model(&model.LineItem{}).Where("order_id = ?", order.ID).
			Pluck("id", &lineIDs).Error; err != nil {
			return fmt.Errorf("failed to list cached lines for order %s: %w", order.ID, err)
		}
		if len(lineIDs) > 0 {
			if err := tx.Where("line_item_id IN ?", lineIDs).Delete(&model.ItemCode{}).Error; err != nil {
				return fmt.Errorf("failed to clear cached codes for order %s: %w", order.ID, err)
			}
		}
		if err := tx.Where("order_id = ?", order.ID).Delete(&model.LineItem{}).Error; err != nil {
			return fmt.Errorf("failed to clear cached lines for order %s: %w", order.ID, err)
		}
		if err := tx.Where("order_id = ?", order.ID).Delete(&model.ClaimHistoryEntry{}).Error; err != nil {
			return fmt.Errorf("failed to clear cached history for order %s: %w", order.ID, err)
		}
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(order).Error; err != nil {
			return fmt.Errorf("failed to save order %s: %w", order.ID, err)
		}
		return nil
	})
}

func (s *gormStore) GetOrder(ctx context.Context, orderID string) (*model.Order, error) {
	var order model.Order
	err := s.db.WithContext(ctx).
		Preload("Lines").
		Preload("Lines.Codes").
		Preload("History").
		First(&order, "id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// Enqueue inserts a pending operation and applies the optimistic local
// mutation in the same transaction. With supersede set, a queued operation
// on the same entity key is replaced so the drained value matches the last
// local intent.
func (s *gormStore) Enqueue(ctx context.Context, op *model.PendingOperation, supersede bool, apply func(tx *gorm.DB) error) error {
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if supersede && op.EntityKey != "" {
			if err := tx.Where("entity_key = ? AND target = ?", op.EntityKey, op.Target).
				Delete(&model.PendingOperation{}).Error; err != nil {
				return fmt.Errorf("failed to supersede queued operation for %s: %w", op.EntityKey, err)
			}
		}
		// The local mutation runs first: it may attach a rollback snapshot
		// to the operation before the queue row is written.
		if apply != nil {
			if err := apply(tx); err != nil {
				return err
			}
		}
		if err := tx.Create(op).Error; err != nil {
			return fmt.Errorf("failed to enqueue operation %s: %w", op.ID, err)
		}
		return nil
	})
}

// Pending returns queued operations in creation order.
func (s *gormStore) Pending(ctx context.Context) ([]model.PendingOperation, error) {
	var ops []model.PendingOperation
	if err := s.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&ops).Error; err != nil {
		return nil, err
	}
	return ops, nil
}

func (s *gormStore) DeletePending(ctx context.Context, opID string) error {
	return s.db.WithContext(ctx).Delete(&model.PendingOperation{}, "id = ?", opID).Error
}

// BumpRetry increments the retry counter and returns the new count.
func (s *gormStore) BumpRetry(ctx context.Context, opID string) (int, error) {
	var retries int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var op model.PendingOperation
		if err := tx.First(&op, "id = ?", opID).Error; err != nil {
			return err
		}
		op.Retries++
		retries = op.Retries
		return tx.Model(&model.PendingOperation{}).Where("id = ?", opID).
			Update("retries", op.Retries).Error
	})
	return retries, err
}

// MoveToDeadLetter removes the operation from the queue and records it in
// the dead-letter set in one transaction, so a crash between the two steps
// cannot lose it.
func (s *gormStore) MoveToDeadLetter(ctx context.Context, op model.PendingOperation, cause, workerID, deviceID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&model.PendingOperation{}, "id = ?", op.ID).Error; err != nil {
			return fmt.Errorf("failed to remove operation %s from queue: %w", op.ID, err)
		}
		dl := model.DeadLetter{
			OpID:       op.ID,
			Method:     op.Method,
			Target:     op.Target,
			Payload:    op.Payload,
			OrderID:    op.OrderID,
			WorkerID:   workerID,
			DeviceID:   deviceID,
			Attempts:   op.Retries,
			Cause:      cause,
			RecordedAt: time.Now().UTC(),
		}
		if err := tx.Create(&dl).Error; err != nil {
			return fmt.Errorf("failed to dead-letter operation %s: %w", op.ID, err)
		}
		return nil
	})
}

func (s *gormStore) DeadLetters(ctx context.Context) ([]model.DeadLetter, error) {
	var letters []model.DeadLetter
	if err := s.db.WithContext(ctx).Order("recorded_at ASC").Find(&letters).Error; err != nil {
		return nil, err
	}
	return letters, nil
}

func (s *gormStore) Restore(ctx context.Context, apply func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(apply)
}

func (s *gormStore) StartSession(ctx context.Context, orderID, workerID, deviceID string) (*model.Session, error) {
	session := model.Session{
		OrderID:   orderID,
		WorkerID:  workerID,
		DeviceID:  deviceID,
		StartedAt: time.Now().UTC(),
		Active:    true,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// A worker has at most one active pass per order on this device.
		now := time.Now().UTC()
		if err := tx.Model(&model.Session{}).
			Where("order_id = ? AND worker_id = ? AND active", orderID, workerID).
			Updates(map[string]any{"active": false, "ended_at": now}).Error; err != nil {
			return err
		}
		return tx.Create(&session).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start session for order %s: %w", orderID, err)
	}
	return &session, nil
}

func (s *gormStore) EndSession(ctx context.Context, orderID, workerID string) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&model.Session{}).
		Where("order_id = ? AND worker_id = ? AND active", orderID, workerID).
		Updates(map[string]any{"active": false, "ended_at": now}).Error
}

func (s *gormStore) ActiveSession(ctx context.Context, workerID string) (*model.Session, error) {
	var session model.Session
	err := s.db.WithContext(ctx).
		Where("worker_id = ? AND active", workerID).
		Order("started_at DESC").
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (s *gormStore) RecordScan(ctx context.Context, rec *model.ScanRecord) error {
	if rec.ScannedAt.IsZero() {
		rec.ScannedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(rec).Error
}

func (s *gormStore) SetClaimState(ctx context.Context, orderID, workerID string, at time.Time) error {
	state := model.ClaimState{OrderID: orderID, WorkerID: workerID, AcquiredAt: at}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&state).Error
}

func (s *gormStore) ClearClaimState(ctx context.Context, orderID string) error {
	return s.db.WithContext(ctx).Delete(&model.ClaimState{}, "order_id = ?", orderID).Error
}

func (s *gormStore) LastClaimState(ctx context.Context, orderID string) (*model.ClaimState, error) {
	var state model.ClaimState
	err := s.db.WithContext(ctx).First(&state, "order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *gormStore) DeviceHash(ctx context.Context) (string, error) {
	var identity model.DeviceIdentity
	err := s.db.WithContext(ctx).First(&identity).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return identity.Hash, nil
}

func (s *gormStore) SetDeviceHash(ctx context.Context, hash string) error {
	identity := model.DeviceIdentity{ID: 1, Hash: hash, CreatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(&identity).Error
}
