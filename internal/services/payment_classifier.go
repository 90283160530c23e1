package services

import (
	"context"
	"fmt"
	"time"

	"github.com/opendraft/billing-backend/internal/models"
	"github.com/opendraft/billing-backend/internal/plans"
	"github.com/opendraft/billing-backend/internal/razorpay"
	"github.com/opendraft/billing-backend/internal/repository"
)

type Verdict int

const (
	VerdictUnknown Verdict = iota
	VerdictYes
	VerdictNo
)

func (v Verdict) String() string {
	switch v {
	case VerdictYes:
		return "yes"
	case VerdictNo:
		return "no"
	default:
		return "unknown"
	}
}

// Signal is one named piece of evidence that a bare payment is really a
// subscription charge.
type Signal struct {
	Name string
	Eval func(ctx context.Context, in *classifyInput) (Verdict, error)
}

type SignalResult struct {
	Name    string
	Verdict Verdict
}

type Classification struct {
	Subscription bool
	// Signal is the name of the signal that fired, empty for one-time.
	Signal string
	Trace  []SignalResult
}

// classifyInput carries one payment through the signals. The candidate
// subscription is looked up at most once.
type classifyInput struct {
	payment *razorpay.PaymentEntity
	email   string

	subs      repository.SubscriptionRepository
	loaded    bool
	candidate *models.Subscription
}

func (in *classifyInput) latestSubscription(ctx context.Context) (*models.Subscription, error) {
	if in.loaded {
		return in.candidate, nil
	}
	in.loaded = true
	if in.email == "" {
		return nil, nil
	}
	sub, err := in.subs.FindLatestByEmail(ctx, in.email)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("lookup subscription for %s: %w", in.email, err)
	}
	in.candidate = sub
	return sub, nil
}

type PaymentClassifier struct {
	subs        repository.SubscriptionRepository
	catalog     *plans.Catalog
	graceWindow time.Duration
	now         func() time.Time
	signals     []Signal
}

func NewPaymentClassifier(subs repository.SubscriptionRepository, catalog *plans.Catalog, graceWindow time.Duration) *PaymentClassifier {
	if graceWindow <= 0 {
		graceWindow = 10 * time.Minute
	}
	c := &PaymentClassifier{
		subs:        subs,
		catalog:     catalog,
		graceWindow: graceWindow,
		now:         time.Now,
	}
	// Order matters: the first yes wins and price inference is the weakest.
	c.signals = []Signal{
		{Name: "explicit_subscription_link", Eval: c.explicitSubscriptionLink},
		{Name: "billing_cycle_note", Eval: c.billingCycleNote},
		{Name: "recent_subscription", Eval: c.recentSubscription},
		{Name: "matching_subscription_amount", Eval: c.matchingSubscriptionAmount},
		{Name: "subscription_only_price", Eval: c.subscriptionOnlyPrice},
	}
	return c
}

func (c *PaymentClassifier) Signals() []Signal {
	return c.signals
}

// Classify decides whether a payment.captured/payment.failed delivery is a
// subscription charge that subscription.charged will record.
func (c *PaymentClassifier) Classify(ctx context.Context, p *razorpay.PaymentEntity) (Classification, error) {
	in := &classifyInput{payment: p, email: p.PayerEmail(), subs: c.subs}

	var out Classification
	for _, sig := range c.signals {
		v, err := sig.Eval(ctx, in)
		if err != nil {
			return out, fmt.Errorf("signal %s: %w", sig.Name, err)
		}
		out.Trace = append(out.Trace, SignalResult{Name: sig.Name, Verdict: v})
		if v == VerdictYes {
			out.Subscription = true
			out.Signal = sig.Name
			return out, nil
		}
	}
	return out, nil
}

func (c *PaymentClassifier) explicitSubscriptionLink(_ context.Context, in *classifyInput) (Verdict, error) {
	if in.payment.SubscriptionID != "" {
		return VerdictYes, nil
	}
	return VerdictNo, nil
}

func (c *PaymentClassifier) billingCycleNote(_ context.Context, in *classifyInput) (Verdict, error) {
	if in.payment.Notes.Get(razorpay.NoteBillingCycle) != "" {
		return VerdictYes, nil
	}
	return VerdictUnknown, nil
}

func (c *PaymentClassifier) recentSubscription(ctx context.Context, in *classifyInput) (Verdict, error) {
	sub, err := in.latestSubscription(ctx)
	if err != nil || sub == nil {
		return VerdictUnknown, err
	}
	if c.now().Sub(sub.CreatedAt) > c.graceWindow {
		return VerdictNo, nil
	}
	switch sub.Status {
	case models.SubscriptionStatusActive, models.SubscriptionStatusPending, models.SubscriptionStatusAuthenticated:
		return VerdictYes, nil
	default:
		return VerdictNo, nil
	}
}

func (c *PaymentClassifier) matchingSubscriptionAmount(ctx context.Context, in *classifyInput) (Verdict, error) {
	sub, err := in.latestSubscription(ctx)
	if err != nil || sub == nil {
		return VerdictUnknown, err
	}
	if !sub.IsLive() || sub.Amount <= 0 {
		return VerdictNo, nil
	}
	if sub.Amount == in.payment.AmountMajor() {
		return VerdictYes, nil
	}
	return VerdictNo, nil
}

func (c *PaymentClassifier) subscriptionOnlyPrice(_ context.Context, in *classifyInput) (Verdict, error) {
	if c.catalog.IsSubscriptionOnlyAmount(in.payment.AmountMajor()) {
		return VerdictYes, nil
	}
	return VerdictNo, nil
}
