package service

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/complaint-service/internal/domain"
	"github.com/spec-kit/complaint-service/internal/events"
	"github.com/spec-kit/complaint-service/internal/repository"
	apperrors "github.com/spec-kit/complaint-service/pkg/util/errorutil"
)

const ticketNumberPrefix = "CMP-"

// BulkResult reports the outcome of one ticket within a bulk operation.
type BulkResult struct {
	TicketID string
	Ticket   *domain.Ticket
	Err      error
}

func mapRepoError(err error, resource string, details map[string]any) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound):
		return apperrors.NewNotFound(resource, details)
	case errors.Is(err, repository.ErrConflict):
		return apperrors.NewConflict(resource+" was modified concurrently", details)
	case errors.Is(err, repository.ErrDuplicate):
		return apperrors.NewDomainError(apperrors.KindConflict, resource+" already exists", http.StatusConflict, details)
	}
	return apperrors.MapError(err)
}

// loadTicket resolves a ticket by its CMP number or its ID.
func loadTicket(ctx context.Context, tickets repository.TicketRepository, ref string) (*domain.Ticket, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, apperrors.NewValidationError("ticket id required", map[string]any{"field": "ticket_id"})
	}
	var (
		ticket *domain.Ticket
		err    error
	)
	if strings.HasPrefix(strings.ToUpper(ref), ticketNumberPrefix) {
		ticket, err = tickets.GetByNumber(ctx, strings.ToUpper(ref))
	} else {
		ticket, err = tickets.GetByID(ctx, ref)
	}
	if err != nil {
		return nil, mapRepoError(err, "ticket", map[string]any{"ticket_id": ref})
	}
	return ticket, nil
}

// commitTicket persists the mutation made to ticket since it was loaded with
// version and status, writing only the audit entries appended after updatesBefore.
func commitTicket(ctx context.Context, tickets repository.TicketRepository, ticket *domain.Ticket, version int, status domain.TicketStatus, updatesBefore int) error {
	var added []domain.Update
	if len(ticket.Updates) > updatesBefore {
		added = append(added, ticket.Updates[updatesBefore:]...)
	}
	err := tickets.Apply(ctx, repository.Mutation{
		Ticket:          ticket,
		ExpectedVersion: version,
		ExpectedStatus:  status,
		NewUpdates:      added,
	})
	return mapRepoError(err, "ticket", map[string]any{"ticket_id": ticket.ID})
}

func publish(ctx context.Context, dispatcher events.Dispatcher, logger *zap.Logger, event events.Event) {
	if dispatcher == nil {
		return
	}
	if err := dispatcher.Publish(ctx, event); err != nil {
		logger.Warn("event publish failed",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.String("ticket_id", event.TicketID),
			zap.Error(err))
	}
}

func canViewTicket(actor domain.Actor, t *domain.Ticket) bool {
	switch actor.Role {
	case domain.RoleAdmin:
		return true
	case domain.RoleAgent:
		return t.IsAssignedTo(actor.ID) || t.AssignedAgentID == nil
	default:
		return t.OwnerID == actor.ID
	}
}

// isTicketStaff reports whether actor handles t: the assigned agent or any admin.
func isTicketStaff(actor domain.Actor, t *domain.Ticket) bool {
	return actor.Role == domain.RoleAdmin || (actor.Role == domain.RoleAgent && t.IsAssignedTo(actor.ID))
}

// visibleTo hides internal notes from non-staff callers.
func visibleTo(actor domain.Actor, t *domain.Ticket) *domain.Ticket {
	if actor.Role.IsStaff() {
		return t
	}
	out := t.Clone()
	out.Updates = out.Updates[:0]
	for _, u := range t.Updates {
		if !u.Internal {
			out.Updates = append(out.Updates, u)
		}
	}
	return out
}

func loggerOrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
