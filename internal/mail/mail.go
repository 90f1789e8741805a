// Package mail renders templated messages and hands them to a transport.
package mail

import (
	"context"
	"fmt"
	"time"

	"github.com/flosch/pongo2/v6"
	"go.uber.org/zap"
)

// Template identifiers.
const (
	TemplateAssigned  = "ticket_assigned"
	TemplateEscalated = "ticket_escalated"
	TemplateResolved  = "ticket_resolved"
	TemplateOverdue   = "ticket_overdue"
	TemplateWelcome   = "account_welcome"
)

// Message is a rendered email.
type Message struct {
	To      []string
	Subject string
	Body    string
}

// Transport delivers a rendered message.
type Transport interface {
	Deliver(ctx context.Context, msg Message) error
}

// Sender sends a templated message to one recipient.
type Sender interface {
	Send(ctx context.Context, to, templateID string, vars map[string]any) error
}

type template struct {
	subject *pongo2.Template
	body    *pongo2.Template
}

func mustTemplate(subject, body string) template {
	return template{
		subject: pongo2.Must(pongo2.FromString(subject)),
		body:    pongo2.Must(pongo2.FromString(body)),
	}
}

var templates = map[string]template{
	TemplateAssigned: mustTemplate(
		"[{{ ticket_number }}] assigned to {{ agent_name|default:\"an agent\" }}",
		"Hello {{ recipient_name }},\n\nTicket {{ ticket_number }} \"{{ title }}\" is now handled by {{ agent_name|default:\"an agent\" }}.\nStatus: {{ status }}\n",
	),
	TemplateEscalated: mustTemplate(
		"[{{ ticket_number }}] escalated",
		"Hello {{ recipient_name }},\n\nTicket {{ ticket_number }} \"{{ title }}\" was escalated.\nReason: {{ reason }}\nPriority: {{ priority }}\n",
	),
	TemplateResolved: mustTemplate(
		"[{{ ticket_number }}] resolved",
		"Hello {{ recipient_name }},\n\nTicket {{ ticket_number }} \"{{ title }}\" was resolved.\nYou can rate the resolution or reopen the ticket if the problem persists.\n",
	),
	TemplateOverdue: mustTemplate(
		"[{{ ticket_number }}] SLA target missed",
		"Ticket {{ ticket_number }} \"{{ title }}\" passed its SLA target at {{ sla_target_at }}.\n",
	),
	TemplateWelcome: mustTemplate(
		"Welcome, {{ recipient_name }}",
		"Hello {{ recipient_name }},\n\nYour account is ready.\n",
	),
}

// Render produces the message for templateID.
func Render(to, templateID string, vars map[string]any) (Message, error) {
	tpl, ok := templates[templateID]
	if !ok {
		return Message{}, fmt.Errorf("unknown mail template %q", templateID)
	}
	ctx := pongo2.Context(vars)
	subject, err := tpl.subject.Execute(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("render subject %s: %w", templateID, err)
	}
	body, err := tpl.body.Execute(ctx)
	if err != nil {
		return Message{}, fmt.Errorf("render body %s: %w", templateID, err)
	}
	return Message{To: []string{to}, Subject: subject, Body: body}, nil
}

// Mailer renders templates and delivers them within a timeout.
type Mailer struct {
	transport Transport
	timeout   time.Duration
	logger    *zap.Logger
}

// NewMailer builds a Sender over transport.
func NewMailer(transport Transport, timeout time.Duration, logger *zap.Logger) *Mailer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Mailer{transport: transport, timeout: timeout, logger: logger}
}

func (m *Mailer) Send(ctx context.Context, to, templateID string, vars map[string]any) error {
	if to == "" {
		return fmt.Errorf("recipient address required")
	}
	msg, err := Render(to, templateID, vars)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- m.transport.Deliver(ctx, msg) }()
	select {
	case err := <-errCh:
		if err != nil {
			m.logger.Warn("mail delivery failed", zap.String("template", templateID), zap.Error(err))
		}
		return err
	case <-ctx.Done():
		m.logger.Warn("mail delivery timed out", zap.String("template", templateID))
		return ctx.Err()
	}
}

// LogTransport writes messages to the logger instead of delivering them.
type LogTransport struct {
	logger *zap.Logger
}

// NewLogTransport builds a development transport.
func NewLogTransport(logger *zap.Logger) *LogTransport {
	return &LogTransport{logger: logger}
}

func (t *LogTransport) Deliver(_ context.Context, msg Message) error {
	t.logger.Info("mail",
		zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("body_bytes", len(msg.Body)))
	return nil
}
