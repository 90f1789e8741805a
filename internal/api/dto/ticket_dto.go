package dto

import (
	"time"

	"github.com/spec-kit/complaint-service/internal/domain"
)

// CreateTicketRequest payload. Category and priority are optional and
// override the classifier when present.
type CreateTicketRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Priority    string   `json:"priority"`
	Tags        []string `json:"tags"`
}

// TransitionRequest moves a ticket to another status.
type TransitionRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
	Note   string `json:"note"`
}

// EscalateRequest payload.
type EscalateRequest struct {
	Reason      string  `json:"reason"`
	EscalatedTo *string `json:"escalated_to"`
}

// CommentRequest payload.
type CommentRequest struct {
	Message  string `json:"message"`
	Internal bool   `json:"internal"`
}

// FeedbackRequest payload.
type FeedbackRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// BulkCloseRequest payload.
type BulkCloseRequest struct {
	TicketIDs []string `json:"ticket_ids"`
	Note      string   `json:"note"`
}

// TicketResponse is the full ticket view.
type TicketResponse struct {
	ID                    string                 `json:"id"`
	TicketNumber          string                 `json:"ticket_number"`
	Title                 string                 `json:"title"`
	Description           string                 `json:"description"`
	Category              domain.TicketCategory  `json:"category"`
	Priority              domain.TicketPriority  `json:"priority"`
	Sentiment             domain.TicketSentiment `json:"sentiment"`
	Confidence            float64                `json:"confidence"`
	Keywords              []string               `json:"keywords"`
	Tags                  []string               `json:"tags"`
	OwnerID               string                 `json:"owner_id"`
	AssignedAgentID       *string                `json:"assigned_agent_id"`
	AssignedTeam          *string                `json:"assigned_team"`
	Status                domain.TicketStatus    `json:"status"`
	SLATargetAt           time.Time              `json:"sla_target_at"`
	ResponseTargetHours   float64                `json:"response_target_hours"`
	ResolutionTargetHours float64                `json:"resolution_target_hours"`
	IsEscalated           bool                   `json:"is_escalated"`
	EscalationReason      string                 `json:"escalation_reason,omitempty"`
	EscalatedAt           *time.Time             `json:"escalated_at"`
	EscalatedTo           *string                `json:"escalated_to"`
	ReopenCount           int                    `json:"reopen_count"`
	ResolutionTimeHours   *float64               `json:"resolution_time_hours"`
	SLAMet                *bool                  `json:"sla_met"`
	ResolvedAt            *time.Time             `json:"resolved_at"`
	ClosedAt              *time.Time             `json:"closed_at"`
	Feedback              *FeedbackResponse      `json:"feedback"`
	Version               int                    `json:"version"`
	CreatedAt             time.Time              `json:"created_at"`
	UpdatedAt             time.Time              `json:"updated_at"`
	Updates               []UpdateResponse       `json:"updates,omitempty"`
}

// FeedbackResponse is the owner's rating of a resolution.
type FeedbackResponse struct {
	Rating      int       `json:"rating"`
	Comment     string    `json:"comment,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// UpdateResponse is one history entry.
type UpdateResponse struct {
	ID            string            `json:"id"`
	Kind          domain.UpdateKind `json:"kind"`
	Message       string            `json:"message"`
	AuthorID      string            `json:"author_id"`
	AuthorName    string            `json:"author_name"`
	PreviousValue string            `json:"previous_value,omitempty"`
	NewValue      string            `json:"new_value,omitempty"`
	Internal      bool              `json:"internal"`
	CreatedAt     time.Time         `json:"created_at"`
}

// ErrorBody mirrors the error envelope used by the HTTP error middleware.
type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// BulkItemResponse is one entry of a bulk operation result.
type BulkItemResponse struct {
	TicketID string          `json:"ticket_id"`
	OK       bool            `json:"ok"`
	Ticket   *TicketResponse `json:"ticket,omitempty"`
	Error    *ErrorBody      `json:"error,omitempty"`
}
