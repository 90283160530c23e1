package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// SystemLog stores structured error logs for follow-up on swallowed webhook
// failures.
type SystemLog struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Timestamp      time.Time      `gorm:"not null;index" json:"timestamp"`
	Level          string         `gorm:"size:10;not null;index" json:"level"`
	Message        string         `gorm:"type:text" json:"message"`
	Event          string         `gorm:"size:64;index" json:"event"`
	PaymentID      string         `gorm:"size:64;index" json:"payment_id"`
	SubscriptionID string         `gorm:"size:64;index" json:"subscription_id"`
	RequestID      string         `gorm:"size:36;index" json:"request_id"`
	Error          string         `gorm:"type:text" json:"error"`
	Extra          datatypes.JSON `json:"extra"`
	CreatedAt      time.Time      `json:"created_at"`
}

func (l *SystemLog) BeforeCreate(_ *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}
