package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opendraft/billing-backend/internal/models"
	"github.com/opendraft/billing-backend/internal/razorpay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const oneTimeScenario = `{
	"event": "payment.captured",
	"payload": {"payment": {"entity": {
		"id": "pay_1",
		"amount": 7900,
		"currency": "INR",
		"notes": {"userEmail": "x@y.com", "planType": "seedling"}
	}}}
}`

func TestDispatch_OneTimeScenario(t *testing.T) {
	env := newTestEnv(t)

	res := env.dispatchRaw(t, "evt_1", oneTimeScenario)
	require.NoError(t, res.Err)
	assert.False(t, res.Duplicate)

	txn, err := env.txns.FindByPaymentID(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, int64(79), txn.Amount)
	assert.Equal(t, models.TransactionTypeOneTime, txn.Type)
	assert.Equal(t, models.TransactionStatusSuccess, txn.Status)
	assert.Equal(t, "x@y.com", txn.UserEmail)
}

func TestDispatch_PaymentFailed(t *testing.T) {
	env := newTestEnv(t)
	raw := `{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_f","amount":19900,"notes":[]}}}}`

	require.NoError(t, env.dispatchRaw(t, "", raw).Err)

	txn, err := env.txns.FindByPaymentID(context.Background(), "pay_f")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusFailed, txn.Status)
	assert.Equal(t, AnonymousEmail, txn.UserEmail)
}

func TestDispatch_DuplicateDelivery(t *testing.T) {
	env := newTestEnv(t)

	first := env.dispatchRaw(t, "", oneTimeScenario)
	require.NoError(t, first.Err)
	second := env.dispatchRaw(t, "", oneTimeScenario)
	assert.True(t, second.Duplicate)

	// A redelivery under a new event id still dedups on the payment id.
	third := env.dispatchRaw(t, "evt_other", oneTimeScenario)
	require.NoError(t, third.Err)
	assert.False(t, third.Duplicate)

	assert.Equal(t, int64(1), env.countTransactions(t))
}

func TestDispatch_SubscriptionOnlyPriceCreatesNoOneTime(t *testing.T) {
	env := newTestEnv(t)
	raw := `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_29","amount":2900,"notes":{"userEmail":"z@y.com"}}}}}`

	require.NoError(t, env.dispatchRaw(t, "evt_29", raw).Err)

	var n int64
	require.NoError(t, env.db.Model(&models.Transaction{}).
		Where("payment_id = ? AND type = ?", "pay_29", models.TransactionTypeOneTime).Count(&n).Error)
	assert.Equal(t, int64(0), n)
}

func TestDispatch_ChargedAfterCapturedHealsClassification(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.dispatchRaw(t, "evt_1", oneTimeScenario).Err)

	charged := `{
		"event": "subscription.charged",
		"payload": {
			"subscription": {"entity": {"id": "sub_9", "plan_id": "plan_x", "current_start": 1700000000, "current_end": 1700604800,
				"notes": {"userEmail": "x@y.com", "planType": "seedling", "billingCycle": "weekly"}}},
			"payment": {"entity": {"id": "pay_1", "amount": 7900, "subscription_id": "sub_9"}}
		}
	}`
	require.NoError(t, env.dispatchRaw(t, "evt_2", charged).Err)

	txn, err := env.txns.FindByPaymentID(context.Background(), "pay_1")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionTypeSubscription, txn.Type)
	require.NotNil(t, txn.SubscriptionID)
	assert.Equal(t, "sub_9", *txn.SubscriptionID)
	assert.Equal(t, int64(79), txn.Amount)
	assert.Equal(t, int64(1), env.countTransactions(t))
}

func TestDispatch_CapturedAfterChargedIsSkipped(t *testing.T) {
	env := newTestEnv(t)
	charged := `{
		"event": "subscription.charged",
		"payload": {
			"subscription": {"entity": {"id": "sub_9", "notes": {"userEmail": "x@y.com", "planType": "sprout", "billingCycle": "monthly"}}},
			"payment": {"entity": {"id": "pay_5", "amount": 49900}}
		}
	}`
	require.NoError(t, env.dispatchRaw(t, "evt_c", charged).Err)

	captured := `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_5","amount":49900,"subscription_id":"sub_9"}}}}`
	require.NoError(t, env.dispatchRaw(t, "evt_p", captured).Err)

	txn, err := env.txns.FindByPaymentID(context.Background(), "pay_5")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionTypeSubscription, txn.Type)
	assert.Equal(t, int64(1), env.countTransactions(t))
}

func TestDispatch_HandlerErrorIsRecordedNotRaised(t *testing.T) {
	env := newTestEnv(t)
	raw := `{"event":"subscription.halted","payload":{"subscription":{"entity":{"id":"sub_missing"}}}}`

	res := env.dispatchRaw(t, "evt_h", raw)
	require.Error(t, res.Err)
	assert.True(t, errors.Is(res.Err, ErrSubscriptionNotFound))

	failed, err := env.events.ListFailed(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "evt_h", failed[0].ProviderEventID)
	assert.Equal(t, razorpay.EventSubscriptionHalted, failed[0].EventType)

	// A failed delivery is retried when redelivered.
	again := env.dispatchRaw(t, "evt_h", raw)
	assert.False(t, again.Duplicate)
}

func TestDispatch_CancelBeforeActivationIsReplayed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cancelled := `{"event":"subscription.cancelled","payload":{"subscription":{"entity":{"id":"sub_r"}}}}`
	res := env.dispatchRaw(t, "evt_cancel", cancelled)
	require.ErrorIs(t, res.Err, ErrSubscriptionNotFound)

	activated := `{
		"event": "subscription.activated",
		"payload": {"subscription": {"entity": {"id": "sub_r", "notes": {"userEmail": "r@s.com", "planType": "sprout", "billingCycle": "monthly"}}}}
	}`
	require.NoError(t, env.dispatchRaw(t, "evt_act", activated).Err)

	sub, err := env.subs.FindBySubscriptionID(ctx, "sub_r")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCancelled, sub.Status)

	failed, err := env.events.ListFailed(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, failed)

	m, err := env.mirror.FindByEmail(ctx, "r@s.com")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusCancelled, m.Status)

	// The replayed delivery now counts as processed.
	assert.True(t, env.dispatchRaw(t, "evt_cancel", cancelled).Duplicate)
}

func TestDispatch_DeferredEventsReplayInArrivalOrder(t *testing.T) {
	env := newTestEnv(t)

	require.Error(t, env.dispatchRaw(t, "evt_halt", `{"event":"subscription.halted","payload":{"subscription":{"entity":{"id":"sub_o"}}}}`).Err)
	require.Error(t, env.dispatchRaw(t, "evt_resume", `{"event":"subscription.resumed","payload":{"subscription":{"entity":{"id":"sub_o"}}}}`).Err)

	charged := `{
		"event": "subscription.charged",
		"payload": {
			"subscription": {"entity": {"id": "sub_o", "notes": {"userEmail": "o@p.com", "planType": "tree", "billingCycle": "weekly"}}},
			"payment": {"entity": {"id": "pay_o", "amount": 24900}}
		}
	}`
	require.NoError(t, env.dispatchRaw(t, "evt_charge", charged).Err)

	sub, err := env.subs.FindBySubscriptionID(context.Background(), "sub_o")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, int64(1), env.countTransactions(t))
}

func TestDispatch_HandlerPanicIsRecorded(t *testing.T) {
	env := newTestEnv(t)
	env.classifier.signals = []Signal{{
		Name: "broken",
		Eval: func(context.Context, *classifyInput) (Verdict, error) { panic("nil candidate") },
	}}

	var res DispatchResult
	require.NotPanics(t, func() { res = env.dispatchRaw(t, "evt_panic", oneTimeScenario) })
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "nil candidate")

	failed, err := env.events.ListFailed(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "evt_panic", failed[0].ProviderEventID)
}

func TestDispatch_DonationAtLiveSubscriptionPriceIsLeftToCharge(t *testing.T) {
	env := newTestEnv(t)
	env.seedSubscription(t, &models.Subscription{
		SubscriptionID: "sub_long", UserEmail: "d@e.com", Amount: 499,
		PlanType: "sprout", BillingCycle: "monthly",
		Status: models.SubscriptionStatusActive, CreatedAt: time.Now().AddDate(0, -6, 0),
	})

	// 499 is both the sprout monthly price and the tree donation; a live
	// subscription at that amount claims the payment.
	donation := `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_d","amount":49900,"notes":{"userEmail":"d@e.com","planType":"tree"}}}}}`
	require.NoError(t, env.dispatchRaw(t, "evt_d", donation).Err)
	assert.Equal(t, int64(0), env.countTransactions(t))

	other := `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_e","amount":19900,"notes":{"userEmail":"d@e.com","planType":"sprout"}}}}}`
	require.NoError(t, env.dispatchRaw(t, "evt_e", other).Err)
	txn, err := env.txns.FindByPaymentID(context.Background(), "pay_e")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionTypeOneTime, txn.Type)
}

func TestDispatch_UnknownEventIgnored(t *testing.T) {
	env := newTestEnv(t)
	res := env.dispatchRaw(t, "evt_r", `{"event":"refund.processed","payload":{}}`)
	require.NoError(t, res.Err)
	assert.Equal(t, int64(0), env.countTransactions(t))
}

func TestDelivery_ProviderEventID(t *testing.T) {
	d := Delivery{EventID: "evt_1", Body: []byte(`{}`)}
	assert.Equal(t, "evt_1", d.ProviderEventID())

	d = Delivery{Body: []byte(`{}`)}
	assert.Equal(t, "hash:44136fa355b3678a1146ad16f7e8649e94fb4fc21fe77e8310c060f61caaff8a", d.ProviderEventID())
}

func TestLockKey(t *testing.T) {
	assert.Equal(t, "payment:pay_1", lockKey(&razorpay.PaymentEvent{Payment: razorpay.PaymentEntity{ID: "pay_1"}}))
	assert.Equal(t, "payment:pay_2", lockKey(&razorpay.SubscriptionEvent{
		Subscription: razorpay.SubscriptionEntity{ID: "sub_1"},
		Payment:      &razorpay.PaymentEntity{ID: "pay_2"},
	}))
	assert.Equal(t, "subscription:sub_1", lockKey(&razorpay.SubscriptionEvent{Subscription: razorpay.SubscriptionEntity{ID: "sub_1"}}))
	assert.Equal(t, "", lockKey(&razorpay.UnknownEvent{Name: "refund.created"}))
}
