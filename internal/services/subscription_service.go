package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opendraft/billing-backend/internal/models"
	"github.com/opendraft/billing-backend/internal/plans"
	"github.com/opendraft/billing-backend/internal/razorpay"
	"github.com/opendraft/billing-backend/internal/repository"
	"gorm.io/datatypes"
)

// Syncer mirrors the current subscription of an email to the reporting
// store. Implementations must not fail the caller.
type Syncer interface {
	Sync(ctx context.Context, email string)
}

type SubscriptionService struct {
	subs    repository.SubscriptionRepository
	ledger  *TransactionLedger
	catalog *plans.Catalog
	syncer  Syncer
}

func NewSubscriptionService(subs repository.SubscriptionRepository, ledger *TransactionLedger, catalog *plans.Catalog, syncer Syncer) *SubscriptionService {
	return &SubscriptionService{
		subs:    subs,
		ledger:  ledger,
		catalog: catalog,
		syncer:  syncer,
	}
}

// HandleEvent applies one subscription lifecycle event.
func (s *SubscriptionService) HandleEvent(ctx context.Context, ev *razorpay.SubscriptionEvent) error {
	var (
		sub *models.Subscription
		err error
	)
	switch ev.Name {
	case razorpay.EventSubscriptionActivated:
		sub, err = s.Activate(ctx, ev)
	case razorpay.EventSubscriptionCharged:
		sub, err = s.Charge(ctx, ev)
	case razorpay.EventSubscriptionPending:
		sub, err = s.SetStatus(ctx, ev.Subscription.ID, models.SubscriptionStatusPending)
	case razorpay.EventSubscriptionHalted:
		sub, err = s.SetStatus(ctx, ev.Subscription.ID, models.SubscriptionStatusHalted)
	case razorpay.EventSubscriptionCancelled:
		sub, err = s.SetStatus(ctx, ev.Subscription.ID, models.SubscriptionStatusCancelled)
	case razorpay.EventSubscriptionPaused:
		sub, err = s.SetStatus(ctx, ev.Subscription.ID, models.SubscriptionStatusPaused)
	case razorpay.EventSubscriptionResumed:
		sub, err = s.SetStatus(ctx, ev.Subscription.ID, models.SubscriptionStatusActive)
	default:
		return fmt.Errorf("unsupported subscription event %q", ev.Name)
	}
	if err != nil {
		return err
	}

	if sub.UserEmail == "" {
		slog.Warn("subscription has no email, skipping mirror sync", "subscription_id", sub.SubscriptionID)
		return nil
	}
	s.syncer.Sync(ctx, sub.UserEmail)
	return nil
}

// Activate upserts the subscription as active. A stored non-zero amount is
// kept even when this event yields none.
func (s *SubscriptionService) Activate(ctx context.Context, ev *razorpay.SubscriptionEvent) (*models.Subscription, error) {
	return s.upsertActive(ctx, ev, 0)
}

// Charge moves the subscription to the new billing period and books the
// charged payment, creating the subscription if activation was missed.
func (s *SubscriptionService) Charge(ctx context.Context, ev *razorpay.SubscriptionEvent) (*models.Subscription, error) {
	var charged int64
	if ev.Payment != nil {
		charged = ev.Payment.AmountMajor()
	}

	sub, err := s.upsertActive(ctx, ev, charged)
	if err != nil {
		return nil, err
	}

	if ev.Payment == nil {
		slog.Warn("subscription.charged without payment entity", "subscription_id", sub.SubscriptionID)
		return sub, nil
	}
	if _, _, err := s.ledger.RecordSubscriptionCharge(ctx, ev.Payment, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// SetStatus applies a plain status transition. Repeating it is a no-op.
func (s *SubscriptionService) SetStatus(ctx context.Context, subscriptionID, status string) (*models.Subscription, error) {
	sub, err := s.subs.FindBySubscriptionID(ctx, subscriptionID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, subscriptionID)
		}
		return nil, fmt.Errorf("lookup subscription %s: %w", subscriptionID, err)
	}
	if sub.Status == status {
		slog.Info("subscription status unchanged", "subscription_id", subscriptionID, "status", status)
		return sub, nil
	}

	if err := s.subs.UpdateFields(ctx, sub, map[string]interface{}{"status": status}); err != nil {
		return nil, fmt.Errorf("update subscription %s: %w", subscriptionID, err)
	}
	slog.Info("subscription status updated", "subscription_id", subscriptionID, "from", sub.Status, "to", status)
	sub.Status = status
	return sub, nil
}

// ResolveAmount picks the authoritative plan price: the displayAmount note,
// then the plan catalog, then the built-in table. Zero means unknown.
func (s *SubscriptionService) ResolveAmount(notes razorpay.Notes, planType, cycle, currency string) int64 {
	if amount, ok := razorpay.ParseAmount(notes.Get(razorpay.NoteDisplayAmount)); ok {
		return amount
	}
	if amount, ok := s.catalog.Price(planType, cycle, currency); ok {
		return amount
	}
	if amount, ok := plans.FallbackPrice(planType, cycle); ok {
		return amount
	}
	return 0
}

func (s *SubscriptionService) upsertActive(ctx context.Context, ev *razorpay.SubscriptionEvent, charged int64) (*models.Subscription, error) {
	entity := &ev.Subscription
	planType, cycle := s.planOf(ev)
	currency := ""
	if ev.Payment != nil {
		currency = ev.Payment.Currency
	}
	amount := s.ResolveAmount(s.notesOf(ev), planType, cycle, currency)
	if amount == 0 {
		amount = charged
	}

	existing, err := s.subs.FindBySubscriptionID(ctx, entity.ID)
	if err != nil && !repository.IsNotFound(err) {
		return nil, fmt.Errorf("lookup subscription %s: %w", entity.ID, err)
	}

	if existing == nil {
		sub := &models.Subscription{
			SubscriptionID:     entity.ID,
			PlanID:             entity.PlanID,
			PlanType:           planType,
			BillingCycle:       cycle,
			Amount:             amount,
			Status:             models.SubscriptionStatusActive,
			CurrentPeriodStart: entity.PeriodStart(),
			CurrentPeriodEnd:   entity.PeriodEnd(),
			Notes:              datatypes.JSON(entity.Notes.JSON()),
		}
		sub.UserID, sub.UserEmail, sub.UserName = s.ownerOf(ev)

		err := s.subs.Create(ctx, sub)
		if err == nil {
			slog.Info("subscription created", "subscription_id", sub.SubscriptionID, "event", ev.Name, "amount", sub.Amount, "plan_type", planType)
			return sub, nil
		}
		if !repository.IsUniqueViolation(err) {
			return nil, fmt.Errorf("create subscription %s: %w", entity.ID, err)
		}
		// A concurrent delivery created it first; fall through to update.
		existing, err = s.subs.FindBySubscriptionID(ctx, entity.ID)
		if err != nil {
			return nil, fmt.Errorf("lookup subscription %s: %w", entity.ID, err)
		}
	}

	fields := map[string]interface{}{"status": models.SubscriptionStatusActive}
	if start := entity.PeriodStart(); start != nil {
		fields["current_period_start"] = start
	}
	if end := entity.PeriodEnd(); end != nil {
		fields["current_period_end"] = end
	}
	if existing.Amount == 0 && amount > 0 {
		fields["amount"] = amount
	}
	if existing.PlanType == "" && planType != "" {
		fields["plan_type"] = planType
	}
	if existing.BillingCycle == "" && cycle != "" {
		fields["billing_cycle"] = cycle
	}
	if existing.PlanID == "" && entity.PlanID != "" {
		fields["plan_id"] = entity.PlanID
	}
	if existing.UserEmail == "" {
		if id, email, name := s.ownerOf(ev); email != "" {
			fields["user_id"] = id
			fields["user_email"] = email
			fields["user_name"] = name
		}
	}

	if err := s.subs.UpdateFields(ctx, existing, fields); err != nil {
		return nil, fmt.Errorf("update subscription %s: %w", entity.ID, err)
	}
	applySubscriptionFields(existing, fields)

	slog.Info("subscription updated", "subscription_id", existing.SubscriptionID, "event", ev.Name, "amount", existing.Amount)
	return existing, nil
}

// notesOf merges subscription notes over the charged payment's notes.
func (s *SubscriptionService) notesOf(ev *razorpay.SubscriptionEvent) razorpay.Notes {
	merged := razorpay.Notes{}
	if ev.Payment != nil {
		for k, v := range ev.Payment.Notes {
			merged[k] = v
		}
	}
	for k, v := range ev.Subscription.Notes {
		if v != "" {
			merged[k] = v
		}
	}
	return merged
}

func (s *SubscriptionService) planOf(ev *razorpay.SubscriptionEvent) (planType, cycle string) {
	notes := s.notesOf(ev)
	planType = plans.NormalizePlanType(notes.Get(razorpay.NotePlanType))
	cycle = plans.NormalizeBillingCycle(notes.Get(razorpay.NoteBillingCycle))

	if p := s.catalog.ByProviderPlanID(ev.Subscription.PlanID); p != nil {
		if planType == "" {
			planType = p.PlanType
		}
		if cycle == "" {
			cycle = p.BillingCycle
		}
	}
	return planType, cycle
}

func (s *SubscriptionService) ownerOf(ev *razorpay.SubscriptionEvent) (id, email, name string) {
	notes := s.notesOf(ev)
	id = notes.Get(razorpay.NoteUserID)
	email = notes.Email()
	name = notes.Name()
	if email == "" && ev.Payment != nil {
		email = ev.Payment.PayerEmail()
	}
	return id, email, name
}

func applySubscriptionFields(sub *models.Subscription, fields map[string]interface{}) {
	for k, v := range fields {
		switch k {
		case "status":
			sub.Status = v.(string)
		case "current_period_start":
			sub.CurrentPeriodStart = v.(*time.Time)
		case "current_period_end":
			sub.CurrentPeriodEnd = v.(*time.Time)
		case "amount":
			sub.Amount = v.(int64)
		case "plan_type":
			sub.PlanType = v.(string)
		case "billing_cycle":
			sub.BillingCycle = v.(string)
		case "plan_id":
			sub.PlanID = v.(string)
		case "user_id":
			sub.UserID = v.(string)
		case "user_email":
			sub.UserEmail = v.(string)
		case "user_name":
			sub.UserName = v.(string)
		}
	}
}

// Find returns one subscription by Razorpay subscription id.
func (s *SubscriptionService) Find(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	sub, err := s.subs.FindBySubscriptionID(ctx, subscriptionID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, subscriptionID)
		}
		return nil, err
	}
	return sub, nil
}
