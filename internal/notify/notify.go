// Package notify is the outbound-notification boundary. Delivery (email)
// is an external collaborator; a notification failure must never fail the
// reconciliation that triggered it.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Notifier tells a student their calendar authorization must be redone.
type Notifier interface {
	ReauthRequired(ctx context.Context, email, internshipID string) error
}

// LogNotifier records the notification instead of delivering it. It is
// the default when no mail transport is wired.
type LogNotifier struct {
	Log *zap.Logger
}

func (n *LogNotifier) ReauthRequired(_ context.Context, email, internshipID string) error {
	n.Log.Info("re-authorization required",
		zap.String("email", email),
		zap.String("internshipId", internshipID))
	return nil
}

var _ Notifier = (*LogNotifier)(nil)
