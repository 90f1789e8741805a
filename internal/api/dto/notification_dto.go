package dto

import (
	"time"

	"github.com/spec-kit/complaint-service/internal/domain"
)

// DeliveryStateResponse reports one channel.
type DeliveryStateResponse struct {
	Sent   bool       `json:"sent"`
	SentAt *time.Time `json:"sent_at"`
	Error  string     `json:"error,omitempty"`
}

// NotificationResponse is the inbox view of a notification.
type NotificationResponse struct {
	ID           string                                   `json:"id"`
	Title        string                                   `json:"title"`
	Message      string                                   `json:"message"`
	Type         domain.NotificationType                  `json:"type"`
	TicketID     *string                                  `json:"ticket_id"`
	TicketNumber *string                                  `json:"ticket_number"`
	Channels     map[domain.Channel]DeliveryStateResponse `json:"channels"`
	Read         bool                                     `json:"read"`
	ReadAt       *time.Time                               `json:"read_at"`
	ExpiresAt    time.Time                                `json:"expires_at"`
	CreatedAt    time.Time                                `json:"created_at"`
}
