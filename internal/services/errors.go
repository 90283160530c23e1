package services

import (
	"context"
	"errors"

	"github.com/getsentry/sentry-go"
)

var ErrSubscriptionNotFound = errors.New("subscription not found")

// captureError reports a swallowed error to Sentry through the request hub
// when one is attached to ctx.
func captureError(ctx context.Context, err error, tags map[string]string) {
	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			if v != "" {
				scope.SetTag(k, v)
			}
		}
		hub.CaptureException(err)
	})
}
