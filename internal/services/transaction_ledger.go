package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opendraft/billing-backend/internal/models"
	"github.com/opendraft/billing-backend/internal/plans"
	"github.com/opendraft/billing-backend/internal/razorpay"
	"github.com/opendraft/billing-backend/internal/repository"
	"gorm.io/datatypes"
)

// Owner used when a payment carries no identity at all.
const (
	AnonymousUserID = "anonymous"
	AnonymousEmail  = "anonymous@theopendraft.com"
	AnonymousName   = "Anonymous"
)

type LedgerOutcome int

const (
	LedgerUnchanged LedgerOutcome = iota
	LedgerCreated
	LedgerCorrected
)

func (o LedgerOutcome) String() string {
	switch o {
	case LedgerCreated:
		return "created"
	case LedgerCorrected:
		return "corrected"
	default:
		return "unchanged"
	}
}

type TransactionLedger struct {
	txns            repository.TransactionRepository
	defaultCurrency string
}

func NewTransactionLedger(txns repository.TransactionRepository, defaultCurrency string) *TransactionLedger {
	if defaultCurrency == "" {
		defaultCurrency = "INR"
	}
	return &TransactionLedger{txns: txns, defaultCurrency: defaultCurrency}
}

// RecordPayment books an unclassified payment as a one-time transaction.
// A payment id already in the ledger is left untouched.
func (l *TransactionLedger) RecordPayment(ctx context.Context, p *razorpay.PaymentEntity, status string) (*models.Transaction, LedgerOutcome, error) {
	existing, err := l.find(ctx, p.ID)
	if err != nil {
		return nil, LedgerUnchanged, err
	}
	if existing != nil {
		slog.Info("transaction already recorded", "payment_id", p.ID, "type", existing.Type)
		return existing, LedgerUnchanged, nil
	}

	txn := l.newTransaction(p, status)
	txn.Type = models.TransactionTypeOneTime
	txn.PlanType = plans.NormalizePlanType(p.Notes.Get(razorpay.NotePlanType))

	if err := l.txns.Create(ctx, txn); err != nil {
		if !repository.IsUniqueViolation(err) {
			return nil, LedgerUnchanged, fmt.Errorf("create transaction %s: %w", p.ID, err)
		}
		// Lost a race with a concurrent delivery of the same payment.
		existing, findErr := l.find(ctx, p.ID)
		if findErr != nil || existing == nil {
			return nil, LedgerUnchanged, fmt.Errorf("create transaction %s: %w", p.ID, err)
		}
		return existing, LedgerUnchanged, nil
	}

	slog.Info("transaction recorded", "payment_id", p.ID, "type", txn.Type, "status", txn.Status, "amount", txn.Amount)
	return txn, LedgerCreated, nil
}

// RecordSubscriptionCharge books the payment of a subscription.charged
// delivery. A row previously booked as one-time for the same payment is
// reclassified in place; its amount is never touched.
func (l *TransactionLedger) RecordSubscriptionCharge(ctx context.Context, p *razorpay.PaymentEntity, sub *models.Subscription) (*models.Transaction, LedgerOutcome, error) {
	existing, err := l.find(ctx, p.ID)
	if err != nil {
		return nil, LedgerUnchanged, err
	}
	if existing != nil {
		return l.correct(ctx, existing, sub)
	}

	txn := l.newTransaction(p, models.TransactionStatusSuccess)
	txn.Type = models.TransactionTypeSubscription
	txn.PlanType = sub.PlanType
	txn.BillingCycle = optional(sub.BillingCycle)
	txn.SubscriptionID = optional(sub.SubscriptionID)
	if p.Notes.Email() == "" && sub.UserEmail != "" {
		txn.UserID = sub.UserID
		txn.UserEmail = sub.UserEmail
		txn.UserName = sub.UserName
		if txn.UserID == "" {
			txn.UserID = AnonymousUserID
		}
	}

	if err := l.txns.Create(ctx, txn); err != nil {
		if !repository.IsUniqueViolation(err) {
			return nil, LedgerUnchanged, fmt.Errorf("create transaction %s: %w", p.ID, err)
		}
		existing, findErr := l.find(ctx, p.ID)
		if findErr != nil || existing == nil {
			return nil, LedgerUnchanged, fmt.Errorf("create transaction %s: %w", p.ID, err)
		}
		return l.correct(ctx, existing, sub)
	}

	slog.Info("subscription transaction recorded", "payment_id", p.ID, "subscription_id", sub.SubscriptionID, "amount", txn.Amount)
	return txn, LedgerCreated, nil
}

func (l *TransactionLedger) RecentByEmail(ctx context.Context, email string, limit int) ([]models.Transaction, error) {
	return l.txns.ListRecentByEmail(ctx, email, limit)
}

func (l *TransactionLedger) correct(ctx context.Context, txn *models.Transaction, sub *models.Subscription) (*models.Transaction, LedgerOutcome, error) {
	if txn.IsSubscription() {
		slog.Info("subscription transaction already recorded", "payment_id", txn.PaymentID, "subscription_id", sub.SubscriptionID)
		return txn, LedgerUnchanged, nil
	}

	fields := map[string]interface{}{
		"type":            models.TransactionTypeSubscription,
		"subscription_id": optional(sub.SubscriptionID),
		"billing_cycle":   optional(sub.BillingCycle),
	}
	if sub.PlanType != "" {
		fields["plan_type"] = sub.PlanType
	}
	if err := l.txns.UpdateFields(ctx, txn, fields); err != nil {
		return nil, LedgerUnchanged, fmt.Errorf("reclassify transaction %s: %w", txn.PaymentID, err)
	}

	txn.Type = models.TransactionTypeSubscription
	txn.SubscriptionID = optional(sub.SubscriptionID)
	txn.BillingCycle = optional(sub.BillingCycle)
	if sub.PlanType != "" {
		txn.PlanType = sub.PlanType
	}

	slog.Info("transaction reclassified as subscription", "payment_id", txn.PaymentID, "subscription_id", sub.SubscriptionID)
	return txn, LedgerCorrected, nil
}

func (l *TransactionLedger) find(ctx context.Context, paymentID string) (*models.Transaction, error) {
	txn, err := l.txns.FindByPaymentID(ctx, paymentID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup transaction %s: %w", paymentID, err)
	}
	return txn, nil
}

func (l *TransactionLedger) newTransaction(p *razorpay.PaymentEntity, status string) *models.Transaction {
	txn := &models.Transaction{
		PaymentID: p.ID,
		OrderID:   optional(p.OrderID),
		Amount:    p.AmountMajor(),
		Currency:  p.Currency,
		Status:    status,
		Method:    p.Method,
		Notes:     datatypes.JSON(p.Notes.JSON()),
	}
	if txn.Currency == "" {
		txn.Currency = l.defaultCurrency
	}
	txn.UserID, txn.UserEmail, txn.UserName = paymentOwner(p)
	return txn
}

// paymentOwner resolves owner identity from notes, then the payment email,
// then the anonymous placeholder.
func paymentOwner(p *razorpay.PaymentEntity) (id, email, name string) {
	id = p.Notes.Get(razorpay.NoteUserID)
	email = p.PayerEmail()
	name = p.Notes.Name()

	if email == "" {
		email = AnonymousEmail
	}
	if id == "" {
		id = AnonymousUserID
	}
	if name == "" {
		name = AnonymousName
	}
	return id, email, name
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
