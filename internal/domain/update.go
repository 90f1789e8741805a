package domain

import "time"

// UpdateKind captures what an audit entry records.
type UpdateKind string

const (
	UpdateKindStatusChange UpdateKind = "status_change"
	UpdateKindComment      UpdateKind = "comment"
	UpdateKindAssignment   UpdateKind = "assignment"
	UpdateKindEscalation   UpdateKind = "escalation"
	UpdateKindResolution   UpdateKind = "resolution"
)

// Update is an immutable audit trail entry embedded in a ticket.
type Update struct {
	ID            string
	TicketID      string
	Kind          UpdateKind
	Message       string
	AuthorID      string
	AuthorName    string
	PreviousValue string
	NewValue      string
	Internal      bool
	CreatedAt     time.Time
}
