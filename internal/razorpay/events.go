package razorpay

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	EventPaymentCaptured       = "payment.captured"
	EventPaymentFailed         = "payment.failed"
	EventSubscriptionActivated = "subscription.activated"
	EventSubscriptionCharged   = "subscription.charged"
	EventSubscriptionPending   = "subscription.pending"
	EventSubscriptionHalted    = "subscription.halted"
	EventSubscriptionCancelled = "subscription.cancelled"
	EventSubscriptionPaused    = "subscription.paused"
	EventSubscriptionResumed   = "subscription.resumed"
)

var ErrMalformedPayload = errors.New("malformed webhook payload")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Envelope is the outer JSON document of every webhook delivery.
type Envelope struct {
	Entity    string          `json:"entity"`
	AccountID string          `json:"account_id"`
	Event     string          `json:"event" validate:"required"`
	Contains  []string        `json:"contains"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt int64           `json:"created_at"`
}

type PaymentEntity struct {
	ID             string `json:"id" validate:"required"`
	Amount         int64  `json:"amount" validate:"gte=0"`
	Currency       string `json:"currency"`
	Status         string `json:"status"`
	OrderID        string `json:"order_id"`
	InvoiceID      string `json:"invoice_id"`
	SubscriptionID string `json:"subscription_id"`
	Method         string `json:"method"`
	Email          string `json:"email"`
	Contact        string `json:"contact"`
	Notes          Notes  `json:"notes"`
	CreatedAt      int64  `json:"created_at"`
}

// AmountMajor is the payment amount in whole currency units.
func (p *PaymentEntity) AmountMajor() int64 {
	return ToMajorUnits(p.Amount)
}

// PayerEmail resolves the payer email from notes, then the entity itself.
func (p *PaymentEntity) PayerEmail() string {
	if email := p.Notes.Email(); email != "" {
		return email
	}
	return strings.ToLower(strings.TrimSpace(p.Email))
}

type SubscriptionEntity struct {
	ID           string `json:"id" validate:"required"`
	PlanID       string `json:"plan_id"`
	CustomerID   string `json:"customer_id"`
	Status       string `json:"status"`
	CurrentStart *int64 `json:"current_start"`
	CurrentEnd   *int64 `json:"current_end"`
	ChargeAt     *int64 `json:"charge_at"`
	PaidCount    int    `json:"paid_count"`
	Notes        Notes  `json:"notes"`
	CreatedAt    int64  `json:"created_at"`
}

func (s *SubscriptionEntity) PeriodStart() *time.Time {
	return epochToTime(s.CurrentStart)
}

func (s *SubscriptionEntity) PeriodEnd() *time.Time {
	return epochToTime(s.CurrentEnd)
}

// Event is the decoded form of a delivery. The concrete type is one of
// *PaymentEvent, *SubscriptionEvent or *UnknownEvent.
type Event interface {
	Type() string
}

type PaymentEvent struct {
	Name    string
	Payment PaymentEntity `validate:"required"`
}

func (e *PaymentEvent) Type() string { return e.Name }

// Failed reports whether this is a payment.failed delivery.
func (e *PaymentEvent) Failed() bool { return e.Name == EventPaymentFailed }

type SubscriptionEvent struct {
	Name         string
	Subscription SubscriptionEntity `validate:"required"`
	// Payment is only present on subscription.charged (and sometimes on
	// subscription.activated).
	Payment *PaymentEntity
}

func (e *SubscriptionEvent) Type() string { return e.Name }

// UnknownEvent is any event type this service does not consume.
type UnknownEvent struct {
	Name string
}

func (e *UnknownEvent) Type() string { return e.Name }

type entityWrapper[T any] struct {
	Entity *T `json:"entity"`
}

type payload struct {
	Payment      *entityWrapper[PaymentEntity]      `json:"payment"`
	Subscription *entityWrapper[SubscriptionEntity] `json:"subscription"`
}

// Decode parses a raw delivery body into a typed Event. Recognised events
// must carry the entities their handlers need; anything missing fails with
// ErrMalformedPayload rather than reaching business logic half-populated.
func Decode(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if err := validate.Struct(&env); err != nil {
		return nil, fmt.Errorf("%w: missing event type", ErrMalformedPayload)
	}

	name := strings.TrimSpace(env.Event)
	if !IsKnownEvent(name) {
		return &UnknownEvent{Name: name}, nil
	}

	var p payload
	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("%w: %s without payload", ErrMalformedPayload, name)
	}
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	switch name {
	case EventPaymentCaptured, EventPaymentFailed:
		if p.Payment == nil || p.Payment.Entity == nil {
			return nil, fmt.Errorf("%w: %s without payment entity", ErrMalformedPayload, name)
		}
		ev := &PaymentEvent{Name: name, Payment: *p.Payment.Entity}
		if err := validate.Struct(ev); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, name, err)
		}
		return ev, nil
	default:
		if p.Subscription == nil || p.Subscription.Entity == nil {
			return nil, fmt.Errorf("%w: %s without subscription entity", ErrMalformedPayload, name)
		}
		ev := &SubscriptionEvent{Name: name, Subscription: *p.Subscription.Entity}
		if p.Payment != nil && p.Payment.Entity != nil {
			ev.Payment = p.Payment.Entity
			if err := validate.Struct(ev.Payment); err != nil {
				return nil, fmt.Errorf("%w: %s payment: %v", ErrMalformedPayload, name, err)
			}
		}
		if err := validate.Struct(ev); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, name, err)
		}
		return ev, nil
	}
}

func IsKnownEvent(name string) bool {
	switch name {
	case EventPaymentCaptured, EventPaymentFailed,
		EventSubscriptionActivated, EventSubscriptionCharged,
		EventSubscriptionPending, EventSubscriptionHalted,
		EventSubscriptionCancelled, EventSubscriptionPaused,
		EventSubscriptionResumed:
		return true
	default:
		return false
	}
}

func epochToTime(sec *int64) *time.Time {
	if sec == nil || *sec <= 0 {
		return nil
	}
	t := time.Unix(*sec, 0).UTC()
	return &t
}
