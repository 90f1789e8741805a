package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/complaint-service/internal/domain"
	"github.com/spec-kit/complaint-service/internal/events"
	"github.com/spec-kit/complaint-service/internal/mail"
	"github.com/spec-kit/complaint-service/internal/observability"
	"github.com/spec-kit/complaint-service/internal/realtime"
	"github.com/spec-kit/complaint-service/internal/repository"
	apperrors "github.com/spec-kit/complaint-service/pkg/util/errorutil"
)

const defaultNotificationExpiry = 30 * 24 * time.Hour

// Pusher delivers live frames. realtime.Registry satisfies it.
type Pusher interface {
	EmitToIdentity(identityID, event string, payload any) (bool, error)
	EmitToRoom(room, event string, payload any) int
	RemoveFromRoom(identityID, room string) bool
}

// Delivery summarises fan-out to one recipient.
type Delivery struct {
	RecipientID    string
	NotificationID string
	// Duplicate is set when the event was already recorded for this recipient.
	Duplicate bool
	Pushed    bool
	Emailed   bool
	Errors    map[domain.Channel]string
}

// TicketFrame is the room payload describing a ticket change.
type TicketFrame struct {
	EventID        string                `json:"event_id"`
	Type           events.EventType      `json:"type"`
	TicketID       string                `json:"ticket_id"`
	TicketNumber   string                `json:"ticket_number"`
	Status         domain.TicketStatus   `json:"status"`
	PreviousStatus domain.TicketStatus   `json:"previous_status,omitempty"`
	Priority       domain.TicketPriority `json:"priority,omitempty"`
	AssignedAgent  *string               `json:"assigned_agent_id,omitempty"`
	ActorID        string                `json:"actor_id"`
	Message        string                `json:"message,omitempty"`
	Timestamp      time.Time             `json:"timestamp"`
}

// NotificationFrame is the push payload for one notification.
type NotificationFrame struct {
	ID           string                  `json:"id"`
	Type         domain.NotificationType `json:"type"`
	Title        string                  `json:"title"`
	Message      string                  `json:"message"`
	TicketID     *string                 `json:"ticket_id,omitempty"`
	TicketNumber *string                 `json:"ticket_number,omitempty"`
	Read         bool                    `json:"read"`
	CreatedAt    time.Time               `json:"created_at"`
}

// NewNotificationFrame renders n for the wire.
func NewNotificationFrame(n domain.Notification) NotificationFrame {
	return NotificationFrame{
		ID:           n.ID,
		Type:         n.Type,
		Title:        n.Title,
		Message:      n.Message,
		TicketID:     n.TicketID,
		TicketNumber: n.TicketNumber,
		Read:         n.Read,
		CreatedAt:    n.CreatedAt,
	}
}

// NotificationKey identifies the durable record behind the frame.
func (f NotificationFrame) NotificationKey() string { return f.ID }

var emailTemplates = map[events.EventType]string{
	events.EventAssigned:   mail.TemplateAssigned,
	events.EventEscalated:  mail.TemplateEscalated,
	events.EventResolved:   mail.TemplateResolved,
	events.EventSLAOverdue: mail.TemplateOverdue,
}

// NotificationService fans ticket events out to durable, live and email channels.
type NotificationService struct {
	notifications repository.NotificationRepository
	users         repository.UserRepository
	pusher        Pusher
	mailer        mail.Sender
	expiry        time.Duration
	logger        *zap.Logger
	metrics       *observability.Metrics
	now           func() time.Time
}

// NotificationDependencies bundles collaborators. Pusher and Mailer are optional.
type NotificationDependencies struct {
	NotificationRepo repository.NotificationRepository
	UserRepo         repository.UserRepository
	Pusher           Pusher
	Mailer           mail.Sender
	Expiry           time.Duration
	Logger           *zap.Logger
	Metrics          *observability.Metrics
	Now              func() time.Time
}

// NewNotificationService creates the service.
func NewNotificationService(deps NotificationDependencies) *NotificationService {
	expiry := deps.Expiry
	if expiry <= 0 {
		expiry = defaultNotificationExpiry
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &NotificationService{
		notifications: deps.NotificationRepo,
		users:         deps.UserRepo,
		pusher:        deps.Pusher,
		mailer:        deps.Mailer,
		expiry:        expiry,
		logger:        loggerOrNop(deps.Logger),
		metrics:       deps.Metrics,
		now:           now,
	}
}

// RegisterHandlers subscribes to every lifecycle event kind.
func (s *NotificationService) RegisterHandlers(dispatcher events.Dispatcher) {
	if dispatcher == nil {
		return
	}
	dispatcher.SubscribeAll(s.handle)
}

func (s *NotificationService) handle(ctx context.Context, event events.Event) error {
	s.Notify(ctx, event)
	return nil
}

// Notify delivers event to its audience. Failures are recorded per channel and
// never returned to the mutation that produced the event.
func (s *NotificationService) Notify(ctx context.Context, event events.Event) []Delivery {
	recipients := s.recipients(ctx, event)
	deliveries := make([]Delivery, 0, len(recipients))
	for _, recipientID := range recipients {
		deliveries = append(deliveries, s.deliver(ctx, event, recipientID))
	}
	s.broadcast(event)
	s.logger.Debug("event fanned out",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("ticket_id", event.TicketID),
		zap.Int("recipients", len(recipients)))
	return deliveries
}

// recipients expands role pools, removes duplicates and excludes the actor.
func (s *NotificationService) recipients(ctx context.Context, event events.Event) []string {
	seen := map[string]struct{}{
		"":                   {},
		event.Actor.ID:       {},
		domain.SystemActorID: {},
	}
	var out []string
	add := func(id string) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	for _, id := range event.Candidates {
		add(id)
	}
	for _, role := range event.Roles {
		role := role
		active := true
		members, err := s.users.List(ctx, repository.UserFilter{Role: &role, Active: &active, Limit: rosterLimit})
		if err != nil {
			s.logger.Warn("role pool lookup failed",
				zap.String("role", string(role)),
				zap.String("event_id", event.ID),
				zap.Error(err))
			continue
		}
		for _, m := range members {
			add(m.ID)
		}
	}
	return out
}

func (s *NotificationService) deliver(ctx context.Context, event events.Event, recipientID string) Delivery {
	result := Delivery{RecipientID: recipientID, Errors: map[domain.Channel]string{}}
	now := s.now()
	title, message := describe(event)
	n := &domain.Notification{
		ID:          uuid.NewString(),
		EventID:     event.ID,
		RecipientID: recipientID,
		Title:       title,
		Message:     message,
		Type:        event.Type,
		ExpiresAt:   now.Add(s.expiry),
		CreatedAt:   now,
	}
	if event.TicketID != "" {
		id, number := event.TicketID, event.TicketNumber
		n.TicketID = &id
		n.TicketNumber = &number
	}
	n.Channels.InApp = domain.DeliveryState{Sent: true, SentAt: &now}

	created, err := s.notifications.Create(ctx, n)
	if err != nil {
		result.Errors[domain.ChannelInApp] = err.Error()
		s.metrics.RecordDelivery(string(domain.ChannelInApp), false)
		s.logger.Error("notification persist failed",
			zap.String("event_id", event.ID),
			zap.String("recipient_id", recipientID),
			zap.Error(err))
		return result
	}
	if !created {
		result.Duplicate = true
		return result
	}
	result.NotificationID = n.ID
	s.metrics.RecordDelivery(string(domain.ChannelInApp), true)

	if s.pusher != nil {
		pushed, err := s.pusher.EmitToIdentity(recipientID, realtime.EventNotification, NewNotificationFrame(*n))
		switch {
		case err != nil:
			result.Errors[domain.ChannelPush] = err.Error()
			s.recordChannel(ctx, n.ID, domain.ChannelPush, domain.DeliveryState{Error: err.Error()})
		case pushed:
			result.Pushed = true
			at := s.now()
			s.recordChannel(ctx, n.ID, domain.ChannelPush, domain.DeliveryState{Sent: true, SentAt: &at})
		}
		// offline recipients pick the record up from their backlog on reconnect
	}

	if templateID, ok := emailTemplates[event.Type]; ok && s.mailer != nil {
		if err := s.email(ctx, event, recipientID, templateID); err != nil {
			result.Errors[domain.ChannelEmail] = err.Error()
			s.recordChannel(ctx, n.ID, domain.ChannelEmail, domain.DeliveryState{Error: err.Error()})
		} else {
			result.Emailed = true
			at := s.now()
			s.recordChannel(ctx, n.ID, domain.ChannelEmail, domain.DeliveryState{Sent: true, SentAt: &at})
		}
	}
	return result
}

func (s *NotificationService) email(ctx context.Context, event events.Event, recipientID, templateID string) error {
	recipient, err := s.users.GetByID(ctx, recipientID)
	if err != nil {
		return fmt.Errorf("resolve recipient: %w", err)
	}
	if recipient.Email == "" {
		return fmt.Errorf("recipient %s has no email", recipientID)
	}
	return s.mailer.Send(ctx, recipient.Email, templateID, s.emailVars(ctx, event, recipient))
}

func (s *NotificationService) emailVars(ctx context.Context, event events.Event, recipient *domain.User) map[string]any {
	vars := map[string]any{
		"recipient_name": recipient.Name,
		"ticket_number":  event.TicketNumber,
		"status":         string(event.Status),
	}
	if t := event.Ticket; t != nil {
		vars["title"] = t.Title
		vars["priority"] = string(t.Priority)
		vars["reason"] = t.EscalationReason
		vars["sla_target_at"] = t.SLATargetAt.Format(time.RFC3339)
		if t.AssignedAgentID != nil {
			if agent, err := s.users.GetByID(ctx, *t.AssignedAgentID); err == nil {
				vars["agent_name"] = agent.Name
			}
		}
	}
	return vars
}

func (s *NotificationService) recordChannel(ctx context.Context, id string, channel domain.Channel, state domain.DeliveryState) {
	s.metrics.RecordDelivery(string(channel), state.Sent)
	if err := s.notifications.UpdateDelivery(ctx, id, channel, state); err != nil {
		s.logger.Warn("delivery state update failed",
			zap.String("notification_id", id),
			zap.String("channel", string(channel)),
			zap.Error(err))
	}
}

// broadcast mirrors the change to ticket followers and the admin dashboard.
func (s *NotificationService) broadcast(event events.Event) {
	if s.pusher == nil || event.TicketID == "" {
		return
	}
	frame := TicketFrame{
		EventID:        event.ID,
		Type:           event.Type,
		TicketID:       event.TicketID,
		TicketNumber:   event.TicketNumber,
		Status:         event.Status,
		PreviousStatus: event.PreviousStatus,
		ActorID:        event.Actor.ID,
		Timestamp:      event.Timestamp,
	}
	if event.Ticket != nil {
		frame.Priority = event.Ticket.Priority
		frame.AssignedAgent = event.Ticket.AssignedAgentID
	}
	internal := event.Update != nil && event.Update.Internal
	if event.Update != nil && !internal {
		frame.Message = event.Update.Message
	}
	room := realtime.TicketRoom(event.TicketID)
	if event.Type == events.EventUnassigned {
		// the previous agent no longer follows the ticket
		for _, agentID := range event.Candidates {
			if event.Ticket != nil && event.Ticket.AssignedAgentID != nil && *event.Ticket.AssignedAgentID == agentID {
				continue
			}
			s.pusher.RemoveFromRoom(agentID, room)
		}
	}
	// the ticket room includes the owner, so internal notes stay off it
	if !internal && event.Type != events.EventUnassigned {
		s.pusher.EmitToRoom(room, realtime.EventTicketUpdated, frame)
	}
	s.pusher.EmitToRoom(realtime.RoleRoom(domain.RoleAdmin), realtime.EventDashboardTicket, frame)
}

// List returns the caller's inbox.
func (s *NotificationService) List(ctx context.Context, actor domain.Actor, unreadOnly bool, limit, offset int) ([]domain.Notification, error) {
	items, err := s.notifications.ListByRecipient(ctx, actor.ID, repository.NotificationFilter{
		UnreadOnly: unreadOnly,
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return items, nil
}

// MarkRead marks one notification of the caller as read.
func (s *NotificationService) MarkRead(ctx context.Context, actor domain.Actor, id string) error {
	err := s.notifications.MarkRead(ctx, actor.ID, id, s.now())
	return mapRepoError(err, "notification", map[string]any{"notification_id": id})
}

// MarkAllRead marks the caller's whole inbox as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, actor domain.Actor) (int64, error) {
	n, err := s.notifications.MarkAllRead(ctx, actor.ID, s.now())
	if err != nil {
		return 0, apperrors.MapError(err)
	}
	return n, nil
}

// Backlog returns unread notifications most recent first, used on connect.
func (s *NotificationService) Backlog(ctx context.Context, recipientID string, limit int) ([]domain.Notification, error) {
	return s.notifications.ListByRecipient(ctx, recipientID, repository.NotificationFilter{UnreadOnly: true, Limit: limit})
}

// CollectGarbage deletes notifications that are both read and expired.
func (s *NotificationService) CollectGarbage(ctx context.Context) (int64, error) {
	removed, err := s.notifications.DeleteCollectable(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.logger.Info("notifications collected", zap.Int64("removed", removed))
	}
	return removed, nil
}

func describe(event events.Event) (string, string) {
	number := event.TicketNumber
	actor := event.Actor.DisplayName()
	switch event.Type {
	case events.EventTicketCreated:
		return "New complaint " + number, fmt.Sprintf("%s filed %s", actor, number)
	case events.EventAssigned:
		return "Ticket assigned", fmt.Sprintf("%s was assigned by %s", number, actor)
	case events.EventUnassigned:
		return "Ticket reassigned", fmt.Sprintf("%s was reassigned to another agent", number)
	case events.EventCommentAdded:
		msg := fmt.Sprintf("%s commented on %s", actor, number)
		if event.Update != nil {
			msg = fmt.Sprintf("%s: %s", msg, preview(event.Update.Message, 120))
		}
		return "New comment", msg
	case events.EventEscalated:
		return "Ticket escalated", fmt.Sprintf("%s was escalated by %s", number, actor)
	case events.EventResolved:
		return "Ticket resolved", fmt.Sprintf("%s was resolved", number)
	case events.EventFeedback:
		msg := "Feedback received for " + number
		if event.Ticket != nil && event.Ticket.Feedback != nil {
			msg = fmt.Sprintf("%s: %d/5", msg, event.Ticket.Feedback.Rating)
		}
		return "Feedback received", msg
	case events.EventSLAOverdue:
		return "SLA target missed", fmt.Sprintf("%s is past its SLA target", number)
	default:
		return "Ticket updated", fmt.Sprintf("%s moved from %s to %s", number, event.PreviousStatus, event.Status)
	}
}

func preview(body string, max int) string {
	runes := []rune(body)
	if len(runes) <= max {
		return body
	}
	return string(runes[:max]) + "..."
}
