package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opendraft/billing-backend/internal/database"
	"github.com/opendraft/billing-backend/internal/models"
	"github.com/opendraft/billing-backend/internal/plans"
	"github.com/opendraft/billing-backend/internal/razorpay"
	"github.com/opendraft/billing-backend/internal/repository"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type recordingSyncer struct {
	mu     sync.Mutex
	next   Syncer
	emails []string
}

func (r *recordingSyncer) Sync(ctx context.Context, email string) {
	r.mu.Lock()
	r.emails = append(r.emails, email)
	r.mu.Unlock()
	if r.next != nil {
		r.next.Sync(ctx, email)
	}
}

func (r *recordingSyncer) Emails() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.emails...)
}

type testEnv struct {
	db            *gorm.DB
	txns          repository.TransactionRepository
	subs          repository.SubscriptionRepository
	mirror        repository.MirrorRepository
	events        repository.WebhookEventRepository
	catalog       *plans.Catalog
	syncer        *recordingSyncer
	sync          *SyncService
	classifier    *PaymentClassifier
	ledger        *TransactionLedger
	subscriptions *SubscriptionService
	webhook       *WebhookService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	require.NoError(t, database.MigrateMirror(db))

	e := &testEnv{
		db:      db,
		txns:    repository.NewTransactionRepository(db),
		subs:    repository.NewSubscriptionRepository(db),
		mirror:  repository.NewMirrorRepository(db),
		events:  repository.NewWebhookEventRepository(db),
		catalog: plans.NewCatalog("INR"),
	}
	e.sync = NewSyncService(e.subs, e.mirror)
	e.syncer = &recordingSyncer{next: e.sync}
	e.classifier = NewPaymentClassifier(e.subs, e.catalog, 10*time.Minute)
	e.ledger = NewTransactionLedger(e.txns, "INR")
	e.subscriptions = NewSubscriptionService(e.subs, e.ledger, e.catalog, e.syncer)
	e.webhook = NewWebhookService(e.events, e.classifier, e.ledger, e.subscriptions, nil)
	return e
}

func (e *testEnv) countTransactions(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, e.db.Model(&models.Transaction{}).Count(&n).Error)
	return n
}

func (e *testEnv) seedSubscription(t *testing.T, sub *models.Subscription) *models.Subscription {
	t.Helper()
	require.NoError(t, e.subs.Create(context.Background(), sub))
	return sub
}

func (e *testEnv) dispatchRaw(t *testing.T, eventID, raw string) DispatchResult {
	t.Helper()
	ev, err := razorpay.Decode([]byte(raw))
	require.NoError(t, err)
	return e.webhook.Dispatch(context.Background(), Delivery{EventID: eventID, Body: []byte(raw), Event: ev})
}

func payment(id string, amountMinor int64, notes razorpay.Notes) *razorpay.PaymentEntity {
	if notes == nil {
		notes = razorpay.Notes{}
	}
	return &razorpay.PaymentEntity{ID: id, Amount: amountMinor, Currency: "INR", Notes: notes}
}
