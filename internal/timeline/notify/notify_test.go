package notify

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dsrengine/internal/timeline/models"
	"dsrengine/pkg/domain"
	"dsrengine/pkg/email"
)

type failingSender struct{}

func (failingSender) Send(context.Context, email.Message) error { return errors.New("relay down") }

func escalation() *models.Escalation {
	return &models.Escalation{
		ID:        uuid.New(),
		RequestID: domain.NewRequestID(),
		Reason:    models.ReasonDeadlineExceeded,
		Detail:    "deadline passed in DISCOVERING",
		CreatedAt: time.Date(2026, 9, 2, 9, 0, 0, 0, time.UTC),
	}
}

func TestMailer(t *testing.T) {
	outbox := email.NewOutbox()
	m, err := NewMailer(outbox, " Privacy-Ops@Example.com ")
	require.NoError(t, err)

	e := escalation()
	require.NoError(t, m.NotifyEscalation(context.Background(), e))

	msg, ok := outbox.Last("privacy-ops@example.com")
	require.True(t, ok)
	assert.Equal(t, "[DSR] escalation: deadline_exceeded", msg.Subject)
	assert.Contains(t, msg.Body, e.RequestID.String())
	assert.Contains(t, msg.Body, "deadline passed in DISCOVERING")

	_, err = NewMailer(outbox, "not-an-address")
	assert.Error(t, err)
	_, err = NewMailer(nil, "ops@example.com")
	assert.Error(t, err)

	broken, err := NewMailer(failingSender{}, "ops@example.com")
	require.NoError(t, err)
	assert.ErrorContains(t, broken.NotifyEscalation(context.Background(), e), "relay down")
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	e := escalation()
	require.NoError(t, l.NotifyEscalation(context.Background(), e))
	assert.Contains(t, buf.String(), `"reason":"deadline_exceeded"`)
	assert.Contains(t, buf.String(), e.RequestID.String())
}
