package services

import (
	"context"
	"log/slog"
)

// Mailer delivers comment confirmation and deletion links. The actual
// transport is an external collaborator; the core only needs somewhere to
// hand the message.
type Mailer interface {
	SendCommentConfirmation(ctx context.Context, to, commentID, token string) error
	SendDeletionConfirmation(ctx context.Context, to, commentID, token string) error
}

// LogMailer records outgoing mail in the log instead of sending it. It is
// the default until an operator wires a real transport.
type LogMailer struct {
	Log *slog.Logger
}

func (m *LogMailer) logger() *slog.Logger {
	if m.Log != nil {
		return m.Log
	}
	return slog.Default()
}

func (m *LogMailer) SendCommentConfirmation(_ context.Context, to, commentID, token string) error {
	m.logger().Info("comment confirmation mail", "to", to, "commentID", commentID, "token", token)
	return nil
}

func (m *LogMailer) SendDeletionConfirmation(_ context.Context, to, commentID, token string) error {
	m.logger().Info("comment deletion mail", "to", to, "commentID", commentID, "token", token)
	return nil
}
