package lifecycle

import (
	"time"

	"github.com/spec-kit/complaint-service/internal/domain"
)

// Targets holds the response and resolution budgets for a priority.
type Targets struct {
	Response   time.Duration
	Resolution time.Duration
}

// SLATable maps priorities to their budgets. It is injected from configuration.
type SLATable map[domain.TicketPriority]Targets

// DefaultSLATable returns the stock budgets.
func DefaultSLATable() SLATable {
	return SLATable{
		domain.TicketPriorityUrgent: {Response: time.Hour, Resolution: 4 * time.Hour},
		domain.TicketPriorityHigh:   {Response: 4 * time.Hour, Resolution: 24 * time.Hour},
		domain.TicketPriorityMedium: {Response: 8 * time.Hour, Resolution: 72 * time.Hour},
		domain.TicketPriorityLow:    {Response: 24 * time.Hour, Resolution: 168 * time.Hour},
	}
}

// For returns the targets for p, falling back to the default table entry.
func (t SLATable) For(p domain.TicketPriority) Targets {
	if targets, ok := t[p]; ok && targets.Resolution > 0 {
		return targets
	}
	if targets, ok := DefaultSLATable()[p]; ok {
		return targets
	}
	return DefaultSLATable()[domain.TicketPriorityMedium]
}

// IsOverdue reports whether a non-terminal ticket is past its SLA target.
func IsOverdue(t *domain.Ticket, now time.Time) bool {
	if t == nil || t.Status.IsTerminal() || t.SLATargetAt.IsZero() {
		return false
	}
	return now.After(t.SLATargetAt)
}
