package model

import "time"

// AppliedOperation records the outcome of a mutating request by its
// operation id. A replay with a seen id returns the recorded first
// response instead of applying the operation twice.
type AppliedOperation struct {
	OpID      string    `gorm:"primaryKey;size:64"`
	Status    int       `gorm:"not null"`
	Body      []byte    `gorm:"not null"`
	AppliedAt time.Time `gorm:"not null;index"`
}
