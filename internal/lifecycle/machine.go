// Package lifecycle holds the complaint state machine. Every method validates
// first and mutates the ticket only when the whole operation is legal.
package lifecycle

import (
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/complaint-service/internal/domain"
	apperrors "github.com/spec-kit/complaint-service/pkg/util/errorutil"
)

// Clock returns the current time.
type Clock func() time.Time

// Change describes a committed-in-memory mutation so callers can persist it
// and fan it out.
type Change struct {
	Kind            domain.NotificationType
	PreviousStatus  domain.TicketStatus
	Status          domain.TicketStatus
	PreviousAgentID *string
	Update          *domain.Update
}

// TransitionRequest asks for a status change.
type TransitionRequest struct {
	To          domain.TicketStatus
	Reason      string
	Note        string
	EscalatedTo *string
}

// Machine applies lifecycle rules using an injected SLA table.
type Machine struct {
	sla SLATable
	now Clock
}

// NewMachine builds a machine. A nil clock uses time.Now.
func NewMachine(table SLATable, now Clock) *Machine {
	if table == nil {
		table = DefaultSLATable()
	}
	if now == nil {
		now = time.Now
	}
	return &Machine{sla: table, now: now}
}

// SLA exposes the configured table.
func (m *Machine) SLA() SLATable {
	return m.sla
}

// Now returns the machine clock reading.
func (m *Machine) Now() time.Time {
	return m.now()
}

// Open initialises a freshly submitted ticket.
func (m *Machine) Open(t *domain.Ticket) {
	now := m.now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = t.CreatedAt
	if t.Priority == "" {
		t.Priority = domain.TicketPriorityMedium
	}
	t.Status = domain.TicketStatusOpen
	m.applyTargets(t, t.CreatedAt)
}

// Transition moves t to req.To.
func (m *Machine) Transition(t *domain.Ticket, actor domain.Actor, req TransitionRequest) (Change, error) {
	from := t.Status
	if !CanTransition(from, req.To) {
		return Change{}, apperrors.NewInvalidTransition(string(from), string(req.To))
	}
	reason := strings.TrimSpace(req.Reason)
	if req.To == domain.TicketStatusEscalated && reason == "" {
		return Change{}, apperrors.NewValidationError("escalation reason required", map[string]any{"field": "reason"})
	}

	now := m.now()
	kind := domain.NotificationStatusChanged
	updateKind := domain.UpdateKindStatusChange
	message := strings.TrimSpace(req.Note)
	if message == "" {
		message = fmt.Sprintf("Status changed from %s to %s", from, req.To)
	}

	if from == domain.TicketStatusResolved && !req.To.IsTerminal() {
		t.ReopenCount++
	}

	switch req.To {
	case domain.TicketStatusResolved:
		kind = domain.NotificationResolved
		updateKind = domain.UpdateKindResolution
		t.ResolvedAt = &now
		if t.ResolutionTimeHours == nil {
			hours := roundHours(now.Sub(t.CreatedAt))
			met := hours <= m.sla.For(t.Priority).Resolution.Hours()
			t.ResolutionTimeHours = &hours
			t.SLAMet = &met
		}
	case domain.TicketStatusClosed:
		t.ClosedAt = &now
	case domain.TicketStatusEscalated:
		kind = domain.NotificationEscalated
		updateKind = domain.UpdateKindEscalation
		if strings.TrimSpace(req.Note) == "" {
			message = "Escalated: " + reason
		}
		t.IsEscalated = true
		t.EscalationReason = reason
		t.EscalatedAt = &now
		if req.EscalatedTo != nil {
			to := *req.EscalatedTo
			t.EscalatedTo = &to
		}
		if t.Priority != domain.HighestPriority {
			t.Priority = domain.HighestPriority
			m.applyTargets(t, now)
		}
	}

	t.Status = req.To
	t.UpdatedAt = now
	update := m.appendUpdate(t, actor, updateKind, message, string(from), string(req.To), false)
	return Change{Kind: kind, PreviousStatus: from, Status: t.Status, Update: update}, nil
}

// Escalate is Transition to Escalated with a mandatory reason.
func (m *Machine) Escalate(t *domain.Ticket, actor domain.Actor, reason string, escalatedTo *string) (Change, error) {
	return m.Transition(t, actor, TransitionRequest{To: domain.TicketStatusEscalated, Reason: reason, EscalatedTo: escalatedTo})
}

// Assign sets the agent and moves an Open ticket to In Progress.
func (m *Machine) Assign(t *domain.Ticket, actor domain.Actor, agent *domain.User, team *string) (Change, error) {
	if agent == nil {
		return Change{}, apperrors.NewInvalidAgent("agent required", nil)
	}
	if t.Status.IsTerminal() {
		return Change{}, apperrors.NewDomainError(apperrors.KindInvalidTransition,
			fmt.Sprintf("cannot assign a %s ticket", t.Status), http.StatusUnprocessableEntity,
			map[string]any{"status": t.Status})
	}

	now := m.now()
	from := t.Status
	var previous *string
	prevValue := ""
	if t.AssignedAgentID != nil {
		p := *t.AssignedAgentID
		previous = &p
		prevValue = p
	}
	if team == nil {
		team = agent.Department
	}
	agentID := agent.ID
	t.AssignedAgentID = &agentID
	if team != nil {
		tm := *team
		t.AssignedTeam = &tm
	} else {
		t.AssignedTeam = nil
	}
	if t.Status == domain.TicketStatusOpen {
		t.Status = domain.TicketStatusInProgress
	}
	t.UpdatedAt = now

	message := fmt.Sprintf("Assigned to %s", displayName(agent))
	update := m.appendUpdate(t, actor, domain.UpdateKindAssignment, message, prevValue, agentID, false)
	return Change{
		Kind:            domain.NotificationAssigned,
		PreviousStatus:  from,
		Status:          t.Status,
		PreviousAgentID: previous,
		Update:          update,
	}, nil
}

// Comment appends a comment entry. Closed tickets accept no further entries.
func (m *Machine) Comment(t *domain.Ticket, actor domain.Actor, message string, internal bool) (Change, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Change{}, apperrors.NewValidationError("message required", map[string]any{"field": "message"})
	}
	if t.Status == domain.TicketStatusClosed {
		return Change{}, apperrors.NewDomainError(apperrors.KindInvalidTransition,
			"ticket is closed", http.StatusUnprocessableEntity, map[string]any{"status": t.Status})
	}
	t.UpdatedAt = m.now()
	update := m.appendUpdate(t, actor, domain.UpdateKindComment, message, "", "", internal)
	return Change{Kind: domain.NotificationComment, PreviousStatus: t.Status, Status: t.Status, Update: update}, nil
}

// SubmitFeedback records the one-time owner rating.
func (m *Machine) SubmitFeedback(t *domain.Ticket, actor domain.Actor, rating int, comment string) (Change, error) {
	if actor.ID != t.OwnerID {
		return Change{}, apperrors.NewForbidden("only the ticket owner may submit feedback")
	}
	if !t.Status.IsTerminal() {
		return Change{}, apperrors.NewDomainError(apperrors.KindInvalidTransition,
			"feedback requires a resolved or closed ticket", http.StatusUnprocessableEntity,
			map[string]any{"status": t.Status})
	}
	if t.Feedback != nil {
		return Change{}, apperrors.NewDomainError(apperrors.KindConflict,
			"feedback already submitted", http.StatusConflict, map[string]any{"ticket_id": t.ID})
	}
	if rating < 1 || rating > 5 {
		return Change{}, apperrors.NewValidationError("rating must be between 1 and 5", map[string]any{"field": "rating"})
	}
	now := m.now()
	t.Feedback = &domain.Feedback{Rating: rating, Comment: strings.TrimSpace(comment), SubmittedAt: now}
	t.UpdatedAt = now
	return Change{Kind: domain.NotificationFeedback, PreviousStatus: t.Status, Status: t.Status}, nil
}

func (m *Machine) applyTargets(t *domain.Ticket, from time.Time) {
	targets := m.sla.For(t.Priority)
	t.ResponseTargetHours = targets.Response.Hours()
	t.ResolutionTargetHours = targets.Resolution.Hours()
	t.SLATargetAt = from.Add(targets.Resolution)
}

func (m *Machine) appendUpdate(t *domain.Ticket, actor domain.Actor, kind domain.UpdateKind, message, prev, next string, internal bool) *domain.Update {
	update := domain.Update{
		ID:            uuid.NewString(),
		TicketID:      t.ID,
		Kind:          kind,
		Message:       message,
		AuthorID:      actor.ID,
		AuthorName:    actor.DisplayName(),
		PreviousValue: prev,
		NewValue:      next,
		Internal:      internal,
		CreatedAt:     t.UpdatedAt,
	}
	t.Updates = append(t.Updates, update)
	return &update
}

func displayName(u *domain.User) string {
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}

func roundHours(d time.Duration) float64 {
	return math.Round(d.Hours()*100) / 100
}
