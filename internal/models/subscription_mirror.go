package models

import "time"

// SubscriptionMirror is the reporting copy of a user's current subscription
// kept in the secondary relational store, one row per email.
type SubscriptionMirror struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	Email              string     `gorm:"size:255;not null;uniqueIndex" json:"email"`
	UserID             string     `gorm:"size:100" json:"user_id"`
	SubscriptionID     string     `gorm:"size:64;not null" json:"subscription_id"`
	PlanID             string     `gorm:"size:64" json:"plan_id"`
	PlanType           string     `gorm:"size:20" json:"plan_type"`
	BillingCycle       string     `gorm:"size:20" json:"billing_cycle"`
	Amount             int64      `json:"amount"`
	Status             string     `gorm:"size:20;not null" json:"status"`
	CurrentPeriodStart *time.Time `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end,omitempty"`
	SyncedAt           time.Time  `json:"synced_at"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}
