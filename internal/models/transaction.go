package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	TransactionTypeOneTime      = "one-time"
	TransactionTypeSubscription = "subscription"
)

const (
	TransactionStatusSuccess = "success"
	TransactionStatusFailed  = "failed"
)

// Transaction records a single Razorpay money movement. PaymentID is the
// dedup key; Type, PlanType, BillingCycle and SubscriptionID are the only
// fields ever corrected after creation.
type Transaction struct {
	ID             uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	PaymentID      string         `gorm:"size:64;not null;uniqueIndex" json:"payment_id"`
	OrderID        *string        `gorm:"size:64" json:"order_id,omitempty"`
	UserID         string         `gorm:"size:100;not null" json:"user_id"`
	UserEmail      string         `gorm:"size:255;not null;index" json:"user_email"`
	UserName       string         `gorm:"size:255" json:"user_name"`
	Amount         int64          `gorm:"not null" json:"amount"`
	Currency       string         `gorm:"size:8;not null;default:'INR'" json:"currency"`
	Type           string         `gorm:"size:20;not null;index" json:"type"`
	Status         string         `gorm:"size:20;not null" json:"status"`
	Method         string         `gorm:"size:32" json:"method,omitempty"`
	PlanType       string         `gorm:"size:20" json:"plan_type"`
	BillingCycle   *string        `gorm:"size:20" json:"billing_cycle"`
	SubscriptionID *string        `gorm:"size:64;index" json:"subscription_id,omitempty"`
	Notes          datatypes.JSON `json:"notes,omitempty"`
	CreatedAt      time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (t *Transaction) BeforeCreate(_ *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

func (t *Transaction) IsSubscription() bool {
	return t.Type == TransactionTypeSubscription
}
