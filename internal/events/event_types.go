package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/complaint-service/internal/domain"
)

// EventType enumerates lifecycle event kinds. It shares its values with the
// notification types so a record always mirrors the event that produced it.
type EventType = domain.NotificationType

const (
	EventTicketCreated = domain.NotificationTicketCreated
	EventStatusChanged = domain.NotificationStatusChanged
	EventAssigned      = domain.NotificationAssigned
	EventUnassigned    = domain.NotificationUnassigned
	EventCommentAdded  = domain.NotificationComment
	EventEscalated     = domain.NotificationEscalated
	EventResolved      = domain.NotificationResolved
	EventFeedback      = domain.NotificationFeedback
	EventSLAOverdue    = domain.NotificationSLAOverdue
)

// AllTypes lists every lifecycle event kind.
var AllTypes = []EventType{
	EventTicketCreated,
	EventStatusChanged,
	EventAssigned,
	EventUnassigned,
	EventCommentAdded,
	EventEscalated,
	EventResolved,
	EventFeedback,
	EventSLAOverdue,
}

// Event is the descriptor produced after a committed ticket mutation.
type Event struct {
	ID              string              `json:"id"`
	Type            EventType           `json:"type"`
	Ticket          *domain.Ticket      `json:"-"`
	TicketID        string              `json:"ticket_id"`
	TicketNumber    string              `json:"ticket_number"`
	Actor           domain.Actor        `json:"actor"`
	PreviousStatus  domain.TicketStatus `json:"previous_status,omitempty"`
	Status          domain.TicketStatus `json:"status"`
	PreviousAgentID *string             `json:"previous_agent_id,omitempty"`
	Update          *domain.Update      `json:"update,omitempty"`
	// Candidates are the recipient identities before actor exclusion.
	Candidates []string `json:"candidates"`
	// Roles are role pools expanded to every active member at fan-out time.
	Roles     []domain.Role `json:"roles,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewTicketEvent snapshots ticket and derives the default audience for kind.
func NewTicketEvent(kind EventType, ticket *domain.Ticket, actor domain.Actor, at time.Time) Event {
	snapshot := ticket.Clone()
	snapshot.Updates = nil
	e := Event{
		ID:           uuid.NewString(),
		Type:         kind,
		Ticket:       snapshot,
		TicketID:     ticket.ID,
		TicketNumber: ticket.TicketNumber,
		Actor:        actor,
		Status:       ticket.Status,
		Timestamp:    at,
	}
	e.Candidates, e.Roles = audience(kind, ticket)
	return e
}

// WithPrevious records the status and agent the ticket had before the change.
func (e Event) WithPrevious(status domain.TicketStatus, agentID *string) Event {
	e.PreviousStatus = status
	if agentID != nil {
		id := *agentID
		e.PreviousAgentID = &id
	}
	return e
}

// WithUpdate attaches the audit entry and narrows the audience of internal notes.
func (e Event) WithUpdate(u *domain.Update) Event {
	if u == nil {
		return e
	}
	copied := *u
	e.Update = &copied
	if copied.Internal {
		e.Candidates = nil
		if e.Ticket != nil && e.Ticket.AssignedAgentID != nil {
			e.Candidates = []string{*e.Ticket.AssignedAgentID}
		}
		e.Roles = nil
	}
	return e
}

// Unassigned derives the event delivered to the agent that lost a ticket.
func (e Event) Unassigned(previousAgentID string) Event {
	out := e
	out.ID = uuid.NewString()
	out.Type = EventUnassigned
	out.Candidates = []string{previousAgentID}
	out.Roles = nil
	return out
}

func audience(kind EventType, t *domain.Ticket) ([]string, []domain.Role) {
	var ids []string
	agent := func() {
		if t.AssignedAgentID != nil {
			ids = append(ids, *t.AssignedAgentID)
		}
	}
	switch kind {
	case EventTicketCreated:
		ids = append(ids, t.OwnerID)
		agent()
		return ids, []domain.Role{domain.RoleAdmin}
	case EventAssigned:
		agent()
		ids = append(ids, t.OwnerID)
		return ids, nil
	case EventUnassigned:
		return nil, nil
	case EventEscalated:
		ids = append(ids, t.OwnerID)
		agent()
		return ids, []domain.Role{domain.RoleAdmin}
	case EventFeedback, EventSLAOverdue:
		agent()
		return ids, []domain.Role{domain.RoleAdmin}
	default:
		ids = append(ids, t.OwnerID)
		agent()
		return ids, nil
	}
}
