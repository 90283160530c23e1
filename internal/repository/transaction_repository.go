package repository

import (
	"context"

	"github.com/opendraft/billing-backend/internal/models"
	"gorm.io/gorm"
)

// TransactionRepository is the primary store for ledger rows.
type TransactionRepository interface {
	Create(ctx context.Context, txn *models.Transaction) error
	FindByPaymentID(ctx context.Context, paymentID string) (*models.Transaction, error)
	ListRecentByEmail(ctx context.Context, email string, limit int) ([]models.Transaction, error)
	UpdateFields(ctx context.Context, txn *models.Transaction, fields map[string]interface{}) error
	Count(ctx context.Context) (int64, error)
}

type gormTransactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &gormTransactionRepository{db: db}
}

func (r *gormTransactionRepository) Create(ctx context.Context, txn *models.Transaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *gormTransactionRepository) FindByPaymentID(ctx context.Context, paymentID string) (*models.Transaction, error) {
	var txn models.Transaction
	if err := r.db.WithContext(ctx).Where("payment_id = ?", paymentID).First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}

func (r *gormTransactionRepository) ListRecentByEmail(ctx context.Context, email string, limit int) ([]models.Transaction, error) {
	var txns []models.Transaction
	err := r.db.WithContext(ctx).
		Where("user_email = ?", email).
		Order("created_at DESC").
		Limit(limit).
		Find(&txns).Error
	return txns, err
}

// UpdateFields writes only the given columns. payment_id and amount are
// rejected so a correction can never rewrite the money itself.
func (r *gormTransactionRepository) UpdateFields(ctx context.Context, txn *models.Transaction, fields map[string]interface{}) error {
	for _, col := range []string{"payment_id", "amount", "id"} {
		if _, ok := fields[col]; ok {
			return ErrImmutableField
		}
	}
	return r.db.WithContext(ctx).Model(txn).Updates(fields).Error
}

func (r *gormTransactionRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Transaction{}).Count(&n).Error
	return n, err
}
