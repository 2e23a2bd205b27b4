package model

import "time"

// PendingOperation is a durable, queued side-effecting request awaiting
// delivery to the coordination service. Owned exclusively by the write
// queue; UI code never mutates it directly.
type PendingOperation struct {
	ID        string    `gorm:"primaryKey;size:64"` // stable operation id for idempotent replay
	Method    string    `gorm:"size:8;not null"`
	Target    string    `gorm:"size:256;not null"`
	Payload   []byte    `gorm:"not null"`
	OrderID   string    `gorm:"index;size:64;not null"`
	EntityKey string    `gorm:"index;size:128"` // per-entity FIFO and supersede key
	Rollback  []byte    // pre-mutation snapshot, restored on permanent failure
	Retries   int       `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"not null;index"`
}

// DeadLetter holds an operation that exhausted its retry budget or was
// semantically rejected. Never discarded silently; a supervisor reconciles
// these manually.
type DeadLetter struct {
	ID         int64     `gorm:"autoIncrement;primaryKey" json:"id"`
	OpID       string    `gorm:"uniqueIndex;size:64;not null" json:"opId"`
	Method     string    `gorm:"size:8;not null" json:"method"`
	Target     string    `gorm:"size:256;not null" json:"target"`
	Payload    []byte    `json:"payload"`
	OrderID    string    `gorm:"index;size:64" json:"orderId"`
	WorkerID   string    `gorm:"size:64" json:"workerId,omitempty"`
	DeviceID   string    `gorm:"size:64" json:"deviceId,omitempty"`
	Attempts   int       `gorm:"not null" json:"attempts"`
	Cause      string    `gorm:"size:512;not null" json:"cause"`
	RecordedAt time.Time `gorm:"not null;index" json:"recordedAt"`
}
