package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opendraft/billing-backend/internal/models"
	"github.com/opendraft/billing-backend/internal/repository"
)

// SyncService mirrors the authoritative subscription of a user into the
// reporting store. The mirror is best effort.
type SyncService struct {
	subs   repository.SubscriptionRepository
	mirror repository.MirrorRepository
	now    func() time.Time
}

func NewSyncService(subs repository.SubscriptionRepository, mirror repository.MirrorRepository) *SyncService {
	return &SyncService{subs: subs, mirror: mirror, now: time.Now}
}

// Sync never fails the caller; errors are logged and reported.
func (s *SyncService) Sync(ctx context.Context, email string) {
	if _, err := s.Resync(ctx, email); err != nil {
		slog.Error("subscription mirror sync failed", "email", email, "error", err)
		captureError(ctx, err, map[string]string{"component": "sync", "email": email})
	}
}

// Resync is Sync with the error returned, for manual re-sync.
func (s *SyncService) Resync(ctx context.Context, email string) (*models.SubscriptionMirror, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, fmt.Errorf("sync: empty email")
	}

	sub, err := s.subs.FindLatestByEmail(ctx, email)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, fmt.Errorf("sync %s: %w", email, ErrSubscriptionNotFound)
		}
		return nil, fmt.Errorf("sync %s: load subscription: %w", email, err)
	}

	m := &models.SubscriptionMirror{
		Email:              email,
		UserID:             sub.UserID,
		SubscriptionID:     sub.SubscriptionID,
		PlanID:             sub.PlanID,
		PlanType:           sub.PlanType,
		BillingCycle:       sub.BillingCycle,
		Amount:             sub.Amount,
		Status:             sub.Status,
		CurrentPeriodStart: sub.CurrentPeriodStart,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		SyncedAt:           s.now(),
	}
	if err := s.mirror.UpsertByEmail(ctx, m); err != nil {
		return nil, fmt.Errorf("sync %s: upsert mirror: %w", email, err)
	}

	slog.Info("subscription mirrored", "email", email, "subscription_id", sub.SubscriptionID, "status", sub.Status)
	return m, nil
}
