package model

import "time"

// EvidenceKind enumerates the accepted evidence artifact types.
type EvidenceKind string

const (
	EvidenceKindPhoto EvidenceKind = "photo"
	EvidenceKindVideo EvidenceKind = "video"
)

// Evidence is a photo or video artifact recorded for an order. At least one
// must exist before the order can be completed.
type Evidence struct {
	ID         string       `gorm:"primaryKey;size:64" json:"id"`
	OrderID    string       `gorm:"index;size:64;not null" json:"orderId"`
	WorkerID   string       `gorm:"size:64;not null" json:"workerId"`
	Kind       EvidenceKind `gorm:"size:8;not null" json:"kind"`
	Blob       []byte       `json:"-"`
	SizeBytes  int64        `gorm:"not null" json:"sizeBytes"`
	UploadedAt time.Time    `gorm:"not null" json:"uploadedAt"`
}
