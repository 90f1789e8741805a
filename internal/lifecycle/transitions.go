package lifecycle

import "github.com/spec-kit/complaint-service/internal/domain"

var allowedTransitions = map[domain.TicketStatus][]domain.TicketStatus{
	domain.TicketStatusOpen:        {domain.TicketStatusInProgress, domain.TicketStatusEscalated, domain.TicketStatusClosed},
	domain.TicketStatusInProgress:  {domain.TicketStatusUnderReview, domain.TicketStatusResolved, domain.TicketStatusEscalated, domain.TicketStatusClosed},
	domain.TicketStatusUnderReview: {domain.TicketStatusInProgress, domain.TicketStatusResolved, domain.TicketStatusEscalated},
	domain.TicketStatusResolved:    {domain.TicketStatusClosed, domain.TicketStatusInProgress},
	domain.TicketStatusEscalated:   {domain.TicketStatusInProgress, domain.TicketStatusResolved, domain.TicketStatusClosed},
	domain.TicketStatusClosed:      {},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to domain.TicketStatus) bool {
	for _, candidate := range allowedTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// AllowedTransitions returns the statuses reachable from from.
func AllowedTransitions(from domain.TicketStatus) []domain.TicketStatus {
	return append([]domain.TicketStatus(nil), allowedTransitions[from]...)
}
