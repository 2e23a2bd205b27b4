package model

import "time"

// LineItem is a single product position on an order.
// Invariant: 0 <= PickedQty <= ExpectedQty after every operation.
type LineItem struct {
	ID          string    `gorm:"primaryKey;size:64" json:"id"`
	OrderID     string    `gorm:"index;size:64;not null" json:"orderId"`
	ProductRef  string    `gorm:"size:128;not null" json:"productRef"`
	DisplayName string    `gorm:"size:256" json:"displayName"`
	ExpectedQty int       `gorm:"not null" json:"expectedQty"`
	PickedQty   int       `gorm:"not null;default:0" json:"pickedQty"`
	CreatedAt   time.Time `json:"-"`
	UpdatedAt   time.Time `json:"-"`

	// Manual-addition provenance. Lines added on the floor rather than by
	// the order system carry who added them and why.
	ManuallyAdded bool   `gorm:"not null;default:false" json:"manuallyAdded"`
	AddedBy       string `gorm:"size:64" json:"addedBy,omitempty"`
	AddReason     string `gorm:"size:256" json:"addReason,omitempty"`

	// Associations
	Codes []ItemCode `gorm:"foreignKey:LineItemID;constraint:OnDelete:CASCADE" json:"codes"`
}

// FullyPicked reports whether the line needs no further picks.
func (l *LineItem) FullyPicked() bool {
	return l.PickedQty >= l.ExpectedQty
}

// ItemCode maps one identity code to a line item. Several code schemes
// (EAN, UPC, internal SKU) may map to the same item.
type ItemCode struct {
	ID         int64  `gorm:"autoIncrement;primaryKey" json:"-"`
	LineItemID string `gorm:"index;size:64;not null" json:"-"`
	Scheme     string `gorm:"size:16;not null" json:"scheme"`
	Code       string `gorm:"size:64;not null;index" json:"code"`
}
