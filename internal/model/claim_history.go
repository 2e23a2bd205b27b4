package model

import "time"

// ClaimAction enumerates the recorded claim transitions.
type ClaimAction string

const (
	ClaimActionEntered   ClaimAction = "entered"
	ClaimActionReentered ClaimAction = "reentered"
	ClaimActionContinued ClaimAction = "continued"
	ClaimActionExited    ClaimAction = "exited"
	ClaimActionCompleted ClaimAction = "picking_completed"
)

// ClaimHistoryEntry is one row of an order's append-only claim history.
type ClaimHistoryEntry struct {
	ID         int64       `gorm:"autoIncrement;primaryKey" json:"-"`
	OrderID    string      `gorm:"index;size:64;not null" json:"-"`
	WorkerID   string      `gorm:"size:64;not null" json:"worker"`
	Action     ClaimAction `gorm:"size:32;not null" json:"action"`
	ReasonCode string      `gorm:"size:32" json:"reasonCode,omitempty"`
	ReasonText string      `gorm:"size:512" json:"reasonText,omitempty"`
	RecordedAt time.Time   `gorm:"not null;index" json:"recordedAt"`
}
