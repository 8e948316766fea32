// Package notify pages operators about escalated requests.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"dsrengine/internal/timeline/models"
	"dsrengine/pkg/email"
)

// Sender delivers a rendered mail.
type Sender interface {
	Send(ctx context.Context, m email.Message) error
}

// Mailer sends one mail per escalation to the operator mailbox.
type Mailer struct {
	sender Sender
	to     string
}

func NewMailer(sender Sender, to string) (*Mailer, error) {
	if sender == nil {
		return nil, errors.New("sender is required")
	}
	to, err := email.Normalize(to)
	if err != nil {
		return nil, err
	}
	return &Mailer{sender: sender, to: to}, nil
}

func (m *Mailer) NotifyEscalation(ctx context.Context, e *models.Escalation) error {
	if err := m.sender.Send(ctx, Message(m.to, e)); err != nil {
		return fmt.Errorf("send escalation mail: %w", err)
	}
	return nil
}

// Message renders the escalation mail. Subject identifiers are left out;
// the operator looks the request up by ID.
func Message(to string, e *models.Escalation) email.Message {
	body := fmt.Sprintf("Request %s needs operator attention.\r\n\r\nReason: %s\r\nDetail: %s\r\nEscalated at: %s\r\n",
		e.RequestID, e.Reason, e.Detail, e.CreatedAt.UTC().Format(time.RFC1123))
	return email.Message{
		To:      to,
		Subject: fmt.Sprintf("[DSR] escalation: %s", e.Reason),
		Body:    body,
	}
}

// Logger records escalations in the service log when no mailbox is configured.
type Logger struct {
	logger *slog.Logger
}

func NewLogger(logger *slog.Logger) *Logger {
	return &Logger{logger: logger}
}

func (l *Logger) NotifyEscalation(ctx context.Context, e *models.Escalation) error {
	l.logger.WarnContext(ctx, "dsr request escalated",
		"event", "dsr_escalated",
		"log_type", "audit",
		"dsr_id", e.RequestID.String(),
		"reason", string(e.Reason),
		"detail", e.Detail,
	)
	return nil
}
