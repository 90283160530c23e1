package models

import (
	"time"

	"gorm.io/datatypes"
)

const ProviderRazorpay = "razorpay"

// WebhookEvent stores every authenticated delivery with dedup metadata so
// failed processing can be found and followed up.
type WebhookEvent struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Provider        string         `gorm:"size:20;not null;uniqueIndex:ux_webhook_events_provider_event,priority:1" json:"provider"`
	ProviderEventID string         `gorm:"size:191;not null;uniqueIndex:ux_webhook_events_provider_event,priority:2" json:"provider_event_id"`
	EventType       string         `gorm:"size:64;not null;index" json:"event_type"`
	SubscriptionID  string         `gorm:"size:64;index" json:"subscription_id,omitempty"`
	Payload         datatypes.JSON `json:"payload"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
	ProcessingError string         `gorm:"type:text" json:"processing_error,omitempty"`
	CreatedAt       time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Processed reports whether an earlier delivery of this event completed
// without error.
func (e *WebhookEvent) Processed() bool {
	return e.ProcessedAt != nil && e.ProcessingError == ""
}
