package domain

import "time"

// NotificationType mirrors the lifecycle event kinds.
type NotificationType string

const (
	NotificationTicketCreated NotificationType = "ticket_created"
	NotificationStatusChanged NotificationType = "status_changed"
	NotificationAssigned      NotificationType = "assigned"
	NotificationUnassigned    NotificationType = "unassigned"
	NotificationComment       NotificationType = "comment"
	NotificationEscalated     NotificationType = "escalated"
	NotificationResolved      NotificationType = "resolved"
	NotificationFeedback      NotificationType = "feedback"
	NotificationSLAOverdue    NotificationType = "sla_overdue"
)

// Channel names a delivery channel.
type Channel string

const (
	ChannelInApp Channel = "in_app"
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
)

// DeliveryState tracks one channel of a notification.
type DeliveryState struct {
	Sent   bool
	SentAt *time.Time
	Error  string
}

// NotificationChannels holds the per-channel delivery state.
type NotificationChannels struct {
	InApp DeliveryState
	Email DeliveryState
	Push  DeliveryState
}

// Notification is a durable fan-out record for one recipient.
type Notification struct {
	ID           string
	EventID      string
	RecipientID  string
	Title        string
	Message      string
	Type         NotificationType
	TicketID     *string
	TicketNumber *string
	Channels     NotificationChannels
	Read         bool
	ReadAt       *time.Time
	ExpiresAt    time.Time
	CreatedAt    time.Time
}

// Collectable reports whether n may be garbage collected at now.
func (n *Notification) Collectable(now time.Time) bool {
	return n.Read && !n.ExpiresAt.IsZero() && now.After(n.ExpiresAt)
}

// State returns a pointer to the delivery state of ch.
func (c *NotificationChannels) State(ch Channel) *DeliveryState {
	switch ch {
	case ChannelEmail:
		return &c.Email
	case ChannelPush:
		return &c.Push
	default:
		return &c.InApp
	}
}
