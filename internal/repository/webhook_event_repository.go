package repository

import (
	"context"
	"time"

	"github.com/opendraft/billing-backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WebhookEventRepository is the delivery ledger.
type WebhookEventRepository interface {
	CreateIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkProcessed(ctx context.Context, id uint, processingError string) error
	ListFailed(ctx context.Context, limit int) ([]models.WebhookEvent, error)
	ListFailedBySubscription(ctx context.Context, subscriptionID string, eventTypes []string) ([]models.WebhookEvent, error)
}

type gormWebhookEventRepository struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &gormWebhookEventRepository{db: db}
}

// CreateIfNotExists inserts the delivery unless (provider, provider_event_id)
// is already recorded, and returns the stored row either way.
func (r *gormWebhookEventRepository) CreateIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	db := r.db.WithContext(ctx)
	tx := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormWebhookEventRepository) MarkProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func (r *gormWebhookEventRepository) ListFailed(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("processing_error <> ''").
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// ListFailedBySubscription returns failed deliveries of the given types for
// one subscription, oldest first.
func (r *gormWebhookEventRepository) ListFailedBySubscription(ctx context.Context, subscriptionID string, eventTypes []string) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("subscription_id = ? AND event_type IN ? AND processing_error <> ''", subscriptionID, eventTypes).
		Order("created_at ASC, id ASC").
		Find(&events).Error
	return events, err
}
