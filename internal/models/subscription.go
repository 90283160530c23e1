package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	SubscriptionStatusActive        = "active"
	SubscriptionStatusAuthenticated = "authenticated"
	SubscriptionStatusPending       = "pending"
	SubscriptionStatusHalted        = "halted"
	SubscriptionStatusCancelled     = "cancelled"
	SubscriptionStatusPaused        = "paused"
	SubscriptionStatusExpired       = "expired"
)

// Subscription is the authoritative recurring-billing relationship for one
// Razorpay subscription id.
type Subscription struct {
	ID                 uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SubscriptionID     string         `gorm:"size:64;not null;uniqueIndex" json:"subscription_id"`
	PlanID             string         `gorm:"size:64" json:"plan_id"`
	UserID             string         `gorm:"size:100" json:"user_id"`
	UserEmail          string         `gorm:"size:255;index" json:"user_email"`
	UserName           string         `gorm:"size:255" json:"user_name"`
	PlanType           string         `gorm:"size:20" json:"plan_type"`
	BillingCycle       string         `gorm:"size:20" json:"billing_cycle"`
	Amount             int64          `gorm:"not null;default:0" json:"amount"`
	Status             string         `gorm:"size:20;not null;index" json:"status"`
	CurrentPeriodStart *time.Time     `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time     `json:"current_period_end,omitempty"`
	Notes              datatypes.JSON `json:"notes,omitempty"`
	CreatedAt          time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

func (s *Subscription) BeforeCreate(_ *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// IsLive reports whether the subscription can still produce charges.
func (s *Subscription) IsLive() bool {
	switch s.Status {
	case SubscriptionStatusCancelled, SubscriptionStatusExpired:
		return false
	default:
		return true
	}
}
