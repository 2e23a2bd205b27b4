package model

import "time"

// Session is one worker's active picking pass over an order on one device.
type Session struct {
	ID        int64      `gorm:"autoIncrement;primaryKey"`
	OrderID   string     `gorm:"index;size:64;not null"`
	WorkerID  string     `gorm:"index;size:64;not null"`
	DeviceID  string     `gorm:"size:64;not null"`
	StartedAt time.Time  `gorm:"not null"`
	EndedAt   *time.Time `gorm:"index"`
	Active    bool       `gorm:"not null;default:true;index"`
}

// ScanRecord is an individual scan captured on the device, kept for audit
// regardless of delivery outcome.
type ScanRecord struct {
	ID         int64     `gorm:"autoIncrement;primaryKey"`
	OrderID    string    `gorm:"index;size:64;not null"`
	LineItemID string    `gorm:"size:64"`
	Code       string    `gorm:"size:64;not null"`
	Scheme     string    `gorm:"size:16"`
	WorkerID   string    `gorm:"size:64;not null"`
	ScannedAt  time.Time `gorm:"not null;index"`
}

// ClaimState is the device's last known claim state for an order,
// survivable across restarts. Advisory: the coordination service is the
// single source of truth.
type ClaimState struct {
	OrderID    string    `gorm:"primaryKey;size:64"`
	WorkerID   string    `gorm:"size:64;not null"`
	AcquiredAt time.Time `gorm:"not null"`
}

// DeviceIdentity is the single-row record of this device's derived id.
type DeviceIdentity struct {
	ID        int64     `gorm:"primaryKey"`
	Hash      string    `gorm:"size:64;not null"`
	CreatedAt time.Time `gorm:"not null"`
}
