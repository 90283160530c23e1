package repository

import (
	"context"

	"github.com/opendraft/billing-backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MirrorRepository writes the reporting snapshot to the secondary store.
type MirrorRepository interface {
	UpsertByEmail(ctx context.Context, m *models.SubscriptionMirror) error
	FindByEmail(ctx context.Context, email string) (*models.SubscriptionMirror, error)
}

type gormMirrorRepository struct {
	db *gorm.DB
}

func NewMirrorRepository(db *gorm.DB) MirrorRepository {
	return &gormMirrorRepository{db: db}
}

func (r *gormMirrorRepository) UpsertByEmail(ctx context.Context, m *models.SubscriptionMirror) error {
	db := r.db.WithContext(ctx)
	if err := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "email"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"user_id",
			"subscription_id",
			"plan_id",
			"plan_type",
			"billing_cycle",
			"amount",
			"status",
			"current_period_start",
			"current_period_end",
			"synced_at",
			"updated_at",
		}),
	}).Create(m).Error; err != nil {
		return err
	}

	return db.Where("email = ?", m.Email).First(m).Error
}

func (r *gormMirrorRepository) FindByEmail(ctx context.Context, email string) (*models.SubscriptionMirror, error) {
	var m models.SubscriptionMirror
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}
