package api

import (
	"context"

	"go.uber.org/zap"
)

// Mailer delivers password recovery links.
type Mailer interface {
	SendRecovery(ctx context.Context, email, link string) error
}

// LogMailer writes recovery links to the log instead of sending mail.
type LogMailer struct {
	Log *zap.Logger
}

func (m LogMailer) SendRecovery(_ context.Context, email, link string) error {
	m.Log.Info("password recovery link", zap.String("email", email), zap.String("link", link))
	return nil
}
