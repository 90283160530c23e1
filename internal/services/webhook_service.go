package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/opendraft/billing-backend/internal/locker"
	"github.com/opendraft/billing-backend/internal/models"
	"github.com/opendraft/billing-backend/internal/razorpay"
	"github.com/opendraft/billing-backend/internal/repository"
	"gorm.io/datatypes"
)

// Delivery is one authenticated webhook request.
type Delivery struct {
	EventID   string
	Body      []byte
	Event     razorpay.Event
	RequestID string
}

// ProviderEventID is the ledger key: the Razorpay event id header, or a
// hash of the body when the header is missing.
func (d Delivery) ProviderEventID() string {
	if d.EventID != "" {
		return d.EventID
	}
	sum := sha256.Sum256(d.Body)
	return "hash:" + hex.EncodeToString(sum[:])
}

type DispatchResult struct {
	// Duplicate is set when an earlier delivery of the same event already
	// completed.
	Duplicate bool
	Err       error
}

type WebhookService struct {
	events        repository.WebhookEventRepository
	classifier    *PaymentClassifier
	ledger        *TransactionLedger
	subscriptions *SubscriptionService
	locker        locker.Locker
}

func NewWebhookService(
	events repository.WebhookEventRepository,
	classifier *PaymentClassifier,
	ledger *TransactionLedger,
	subscriptions *SubscriptionService,
	lk locker.Locker,
) *WebhookService {
	if lk == nil {
		lk = locker.Noop{}
	}
	return &WebhookService{
		events:        events,
		classifier:    classifier,
		ledger:        ledger,
		subscriptions: subscriptions,
		locker:        lk,
	}
}

// Dispatch processes one delivery. Handler errors are logged, reported and
// stored on the ledger row; they are returned in the result but must never
// change the HTTP response.
func (s *WebhookService) Dispatch(ctx context.Context, d Delivery) DispatchResult {
	eventType := d.Event.Type()
	log := slog.With("event", eventType, "request_id", d.RequestID)
	for k, v := range eventIDs(d.Event) {
		log = log.With(k, v)
	}

	stored := s.recordDelivery(ctx, d, log)
	if stored != nil && stored.Processed() {
		log.Info("webhook event already processed, skipping", "provider_event_id", stored.ProviderEventID)
		return DispatchResult{Duplicate: true}
	}

	err := s.process(ctx, d.Event, log)

	errText := ""
	if err != nil {
		errText = err.Error()
		log.Error("webhook event processing failed", "error", err)
		tags := map[string]string{"event": eventType, "request_id": d.RequestID}
		for k, v := range eventIDs(d.Event) {
			tags[k] = v
		}
		captureError(ctx, err, tags)
	}

	if stored != nil {
		if markErr := s.events.MarkProcessed(ctx, stored.ID, errText); markErr != nil {
			log.Warn("failed to mark webhook event processed", "error", markErr)
		}
	}
	return DispatchResult{Err: err}
}

// process runs the handler under the reconciliation lock. A panic in a
// handler is turned into an error so the delivery is still acknowledged.
func (s *WebhookService) process(ctx context.Context, ev razorpay.Event, log *slog.Logger) (err error) {
	release := func() {}
	if key := lockKey(ev); key != "" {
		unlock, lockErr := s.locker.Acquire(ctx, key)
		if lockErr != nil {
			log.Warn("reconciliation lock unavailable, processing unlocked", "lock_key", key, "error", lockErr)
		} else {
			release = unlock
		}
	}
	defer release()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling %s: %v", ev.Type(), r)
		}
	}()

	if err = s.route(ctx, ev, log); err != nil {
		return err
	}
	s.replayDeferred(ctx, ev, log)
	return nil
}

func (s *WebhookService) route(ctx context.Context, ev razorpay.Event, log *slog.Logger) error {
	switch e := ev.(type) {
	case *razorpay.PaymentEvent:
		return s.handlePayment(ctx, e, log)
	case *razorpay.SubscriptionEvent:
		return s.subscriptions.HandleEvent(ctx, e)
	default:
		log.Info("ignoring unhandled webhook event")
		return nil
	}
}

func (s *WebhookService) handlePayment(ctx context.Context, ev *razorpay.PaymentEvent, log *slog.Logger) error {
	class, err := s.classifier.Classify(ctx, &ev.Payment)
	if err != nil {
		return fmt.Errorf("classify payment %s: %w", ev.Payment.ID, err)
	}
	if class.Subscription {
		log.Info("payment belongs to a subscription, left to subscription.charged", "signal", class.Signal)
		return nil
	}

	status := models.TransactionStatusSuccess
	if ev.Failed() {
		status = models.TransactionStatusFailed
	}
	if _, _, err := s.ledger.RecordPayment(ctx, &ev.Payment, status); err != nil {
		return err
	}
	return nil
}

// deferrableEvents are the status transitions that fail when they arrive
// before the subscription row exists.
var deferrableEvents = []string{
	razorpay.EventSubscriptionPending,
	razorpay.EventSubscriptionHalted,
	razorpay.EventSubscriptionCancelled,
	razorpay.EventSubscriptionPaused,
	razorpay.EventSubscriptionResumed,
}

// replayDeferred reapplies, oldest first, status events for a subscription
// that failed before activation or a charge created it.
func (s *WebhookService) replayDeferred(ctx context.Context, ev razorpay.Event, log *slog.Logger) {
	se, ok := ev.(*razorpay.SubscriptionEvent)
	if !ok || (se.Name != razorpay.EventSubscriptionActivated && se.Name != razorpay.EventSubscriptionCharged) {
		return
	}
	failed, err := s.events.ListFailedBySubscription(ctx, se.Subscription.ID, deferrableEvents)
	if err != nil {
		log.Warn("failed to list deferred subscription events", "error", err)
		return
	}

	for i := range failed {
		stored := &failed[i]
		err := s.replay(ctx, stored)
		errText := ""
		if err != nil {
			errText = err.Error()
			log.Warn("deferred subscription event still failing", "provider_event_id", stored.ProviderEventID, "deferred_event", stored.EventType, "error", err)
		} else {
			log.Info("replayed deferred subscription event", "provider_event_id", stored.ProviderEventID, "deferred_event", stored.EventType)
		}
		if markErr := s.events.MarkProcessed(ctx, stored.ID, errText); markErr != nil {
			log.Warn("failed to mark webhook event processed", "provider_event_id", stored.ProviderEventID, "error", markErr)
		}
	}
}

func (s *WebhookService) replay(ctx context.Context, stored *models.WebhookEvent) error {
	ev, err := razorpay.Decode(stored.Payload)
	if err != nil {
		return err
	}
	se, ok := ev.(*razorpay.SubscriptionEvent)
	if !ok {
		return fmt.Errorf("stored %s delivery is not a subscription event", stored.EventType)
	}
	return s.subscriptions.HandleEvent(ctx, se)
}

func (s *WebhookService) recordDelivery(ctx context.Context, d Delivery, log *slog.Logger) *models.WebhookEvent {
	payload := d.Body
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	_, stored, err := s.events.CreateIfNotExists(ctx, &models.WebhookEvent{
		Provider:        models.ProviderRazorpay,
		ProviderEventID: d.ProviderEventID(),
		EventType:       d.Event.Type(),
		SubscriptionID:  eventIDs(d.Event)["subscription_id"],
		Payload:         datatypes.JSON(payload),
	})
	if err != nil {
		log.Warn("failed to record webhook delivery", "error", err)
		return nil
	}
	return stored
}

// lockKey serialises work on the same payment, or the same subscription
// when no payment is involved.
func lockKey(ev razorpay.Event) string {
	switch e := ev.(type) {
	case *razorpay.PaymentEvent:
		return "payment:" + e.Payment.ID
	case *razorpay.SubscriptionEvent:
		if e.Payment != nil {
			return "payment:" + e.Payment.ID
		}
		return "subscription:" + e.Subscription.ID
	default:
		return ""
	}
}

func eventIDs(ev razorpay.Event) map[string]string {
	ids := map[string]string{}
	switch e := ev.(type) {
	case *razorpay.PaymentEvent:
		ids["payment_id"] = e.Payment.ID
		if e.Payment.SubscriptionID != "" {
			ids["subscription_id"] = e.Payment.SubscriptionID
		}
	case *razorpay.SubscriptionEvent:
		ids["subscription_id"] = e.Subscription.ID
		if e.Payment != nil {
			ids["payment_id"] = e.Payment.ID
		}
	}
	return ids
}

// FailedEvents lists deliveries whose processing ended in an error.
func (s *WebhookService) FailedEvents(ctx context.Context, limit int) ([]models.WebhookEvent, error) {
	return s.events.ListFailed(ctx, limit)
}
