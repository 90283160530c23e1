package repository

import (
	"context"

	"github.com/opendraft/billing-backend/internal/models"
	"gorm.io/gorm"
)

// SubscriptionRepository is the primary store for subscription rows.
type SubscriptionRepository interface {
	Create(ctx context.Context, sub *models.Subscription) error
	FindBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Subscription, error)
	FindLatestByEmail(ctx context.Context, email string) (*models.Subscription, error)
	UpdateFields(ctx context.Context, sub *models.Subscription, fields map[string]interface{}) error
}

type gormSubscriptionRepository struct {
	db *gorm.DB
}

func NewSubscriptionRepository(db *gorm.DB) SubscriptionRepository {
	return &gormSubscriptionRepository{db: db}
}

func (r *gormSubscriptionRepository) Create(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *gormSubscriptionRepository) FindBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).Where("subscription_id = ?", subscriptionID).First(&sub).Error; err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormSubscriptionRepository) FindLatestByEmail(ctx context.Context, email string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("user_email = ?", email).
		Order("created_at DESC").
		First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *gormSubscriptionRepository) UpdateFields(ctx context.Context, sub *models.Subscription, fields map[string]interface{}) error {
	if _, ok := fields["subscription_id"]; ok {
		return ErrImmutableField
	}
	return r.db.WithContext(ctx).Model(sub).Updates(fields).Error
}
