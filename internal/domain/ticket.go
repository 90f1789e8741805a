package domain

import (
	"strings"
	"time"
)

// TicketStatus enumerates lifecycle states for complaints.
type TicketStatus string

const (
	TicketStatusOpen        TicketStatus = "Open"
	TicketStatusInProgress  TicketStatus = "In Progress"
	TicketStatusUnderReview TicketStatus = "Under Review"
	TicketStatusResolved    TicketStatus = "Resolved"
	TicketStatusClosed      TicketStatus = "Closed"
	TicketStatusEscalated   TicketStatus = "Escalated"
)

// TicketStatuses lists every status in declaration order.
var TicketStatuses = []TicketStatus{
	TicketStatusOpen,
	TicketStatusInProgress,
	TicketStatusUnderReview,
	TicketStatusResolved,
	TicketStatusClosed,
	TicketStatusEscalated,
}

// IsTerminal reports whether feedback may be submitted in this status.
func (s TicketStatus) IsTerminal() bool {
	return s == TicketStatusResolved || s == TicketStatusClosed
}

// ParseTicketStatus accepts display names and snake/kebab variants.
func ParseTicketStatus(raw string) (TicketStatus, bool) {
	norm := normalizeEnum(raw)
	for _, s := range TicketStatuses {
		if normalizeEnum(string(s)) == norm {
			return s, true
		}
	}
	return "", false
}

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "Low"
	TicketPriorityMedium TicketPriority = "Medium"
	TicketPriorityHigh   TicketPriority = "High"
	TicketPriorityUrgent TicketPriority = "Urgent"
)

// HighestPriority is the tier escalation forces a ticket into.
const HighestPriority = TicketPriorityUrgent

// ParsePriority accepts Critical as an alias of Urgent.
func ParsePriority(raw string) (TicketPriority, bool) {
	switch normalizeEnum(raw) {
	case "low":
		return TicketPriorityLow, true
	case "medium":
		return TicketPriorityMedium, true
	case "high":
		return TicketPriorityHigh, true
	case "urgent", "critical":
		return TicketPriorityUrgent, true
	}
	return "", false
}

// TicketSentiment is the tone the classifier detected.
type TicketSentiment string

const (
	SentimentPositive TicketSentiment = "Positive"
	SentimentNeutral  TicketSentiment = "Neutral"
	SentimentNegative TicketSentiment = "Negative"
)

// TicketCategory is a classifier label.
type TicketCategory string

const (
	CategoryGeneral   TicketCategory = "General"
	CategoryBilling   TicketCategory = "Billing"
	CategoryTechnical TicketCategory = "Technical"
	CategoryDelivery  TicketCategory = "Delivery"
	CategoryAccount   TicketCategory = "Account"
	CategoryProduct   TicketCategory = "Product"
)

// Categories lists the supported classifier labels.
var Categories = []TicketCategory{
	CategoryGeneral,
	CategoryBilling,
	CategoryTechnical,
	CategoryDelivery,
	CategoryAccount,
	CategoryProduct,
}

// ParseCategory matches a category name case-insensitively.
func ParseCategory(raw string) (TicketCategory, bool) {
	norm := normalizeEnum(raw)
	for _, c := range Categories {
		if normalizeEnum(string(c)) == norm {
			return c, true
		}
	}
	return "", false
}

// Feedback is the one-time owner rating of a finished ticket.
type Feedback struct {
	Rating      int
	Comment     string
	SubmittedAt time.Time
}

// Ticket is the complaint aggregate.
type Ticket struct {
	ID              string
	TicketNumber    string
	Title           string
	Description     string
	Category        TicketCategory
	Priority        TicketPriority
	Sentiment       TicketSentiment
	Confidence      float64
	Keywords        []string
	Tags            []string
	OwnerID         string
	AssignedAgentID *string
	AssignedTeam    *string
	Status          TicketStatus

	SLATargetAt           time.Time
	ResponseTargetHours   float64
	ResolutionTargetHours float64

	IsEscalated      bool
	EscalationReason string
	EscalatedAt      *time.Time
	EscalatedTo      *string

	ReopenCount         int
	ResolutionTimeHours *float64
	SLAMet              *bool
	ResolvedAt          *time.Time
	ClosedAt            *time.Time
	Feedback            *Feedback

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time

	Updates []Update
}

// IsAssignedTo reports whether the given identity is the assigned agent.
func (t *Ticket) IsAssignedTo(id string) bool {
	return t.AssignedAgentID != nil && *t.AssignedAgentID == id
}

// Clone returns a deep copy safe to mutate.
func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	c := *t
	c.Keywords = append([]string(nil), t.Keywords...)
	c.Tags = append([]string(nil), t.Tags...)
	c.Updates = append([]Update(nil), t.Updates...)
	c.AssignedAgentID = cloneString(t.AssignedAgentID)
	c.AssignedTeam = cloneString(t.AssignedTeam)
	c.EscalatedTo = cloneString(t.EscalatedTo)
	c.EscalatedAt = cloneTime(t.EscalatedAt)
	c.ResolvedAt = cloneTime(t.ResolvedAt)
	c.ClosedAt = cloneTime(t.ClosedAt)
	if t.ResolutionTimeHours != nil {
		v := *t.ResolutionTimeHours
		c.ResolutionTimeHours = &v
	}
	if t.SLAMet != nil {
		v := *t.SLAMet
		c.SLAMet = &v
	}
	if t.Feedback != nil {
		fb := *t.Feedback
		c.Feedback = &fb
	}
	return &c
}

func cloneString(v *string) *string {
	if v == nil {
		return nil
	}
	s := *v
	return &s
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	t := *v
	return &t
}

func normalizeEnum(raw string) string {
	r := strings.NewReplacer("_", " ", "-", " ")
	return strings.Join(strings.Fields(strings.ToLower(r.Replace(raw))), " ")
}
