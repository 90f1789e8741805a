package mail

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/complaint-service/internal/config"
)

type captureTransport struct {
	msgs []Message
	err  error
	wait time.Duration
}

func (c *captureTransport) Deliver(ctx context.Context, msg Message) error {
	if c.wait > 0 {
		select {
		case <-time.After(c.wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.msgs = append(c.msgs, msg)
	return c.err
}

func TestRenderAssigned(t *testing.T) {
	msg, err := Render("olive@example.com", TemplateAssigned, map[string]any{
		"recipient_name": "Olive",
		"ticket_number":  "CMP-2026-000001",
		"title":          "Late parcel",
		"agent_name":     "Ada",
		"status":         "In Progress",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"olive@example.com"}, msg.To)
	assert.Equal(t, "[CMP-2026-000001] assigned to Ada", msg.Subject)
	assert.Contains(t, msg.Body, "Status: In Progress")
}

func TestRenderUnknownTemplate(t *testing.T) {
	_, err := Render("a@b", "nope", nil)
	assert.Error(t, err)
}

func TestMailerReturnsTransportError(t *testing.T) {
	transport := &captureTransport{err: errors.New("smtp down")}
	m := NewMailer(transport, time.Second, zap.NewNop())
	err := m.Send(context.Background(), "a@b.io", TemplateResolved, map[string]any{"ticket_number": "X"})
	assert.EqualError(t, err, "smtp down")
	require.Len(t, transport.msgs, 1)
}

func TestMailerTimesOut(t *testing.T) {
	m := NewMailer(&captureTransport{wait: time.Second}, 20*time.Millisecond, zap.NewNop())
	err := m.Send(context.Background(), "a@b.io", TemplateResolved, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewTransportFallsBackWithoutHost(t *testing.T) {
	fallback := NewLogTransport(zap.NewNop())
	assert.Same(t, fallback, NewTransport(config.NotificationConfig{}, fallback))
	_, ok := NewTransport(config.NotificationConfig{SMTPHost: "smtp.local"}, fallback).(*SMTPTransport)
	assert.True(t, ok)
}
