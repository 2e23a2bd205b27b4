package model

import "time"

// OrderStatus enumerates the lifecycle states of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPicking   OrderStatus = "picking"
	OrderStatusPacking   OrderStatus = "packing"
	OrderStatusCompleted OrderStatus = "completed"
)

// Order represents a customer order in the warehouse catalogue.
// The coordination service owns it; devices hold a read-mostly cached copy.
type Order struct {
	ID        string      `gorm:"primaryKey;size:64" json:"id"`
	Status    OrderStatus `gorm:"size:16;not null;default:pending" json:"status"`
	CreatedAt time.Time   `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time   `gorm:"not null" json:"updatedAt"`

	// Claim state. At most one worker holds an active claim at any instant.
	ClaimedBy string     `gorm:"size:64;index" json:"claimedBy,omitempty"`
	ClaimedAt *time.Time `json:"claimedAt,omitempty"`

	// Associations
	Lines   []LineItem          `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"lines"`
	History []ClaimHistoryEntry `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"history,omitempty"`
}

// Claimed reports whether any worker currently holds the order.
func (o *Order) Claimed() bool {
	return o.ClaimedBy != ""
}

// HeldBy reports whether the given worker currently holds the order.
func (o *Order) HeldBy(workerID string) bool {
	return o.ClaimedBy != "" && o.ClaimedBy == workerID
}
