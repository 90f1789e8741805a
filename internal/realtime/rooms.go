package realtime

import "github.com/spec-kit/complaint-service/internal/domain"

// UserRoom is the direct push room of one identity.
func UserRoom(id string) string { return "user:" + id }

// RoleRoom is the broadcast room of a role.
func RoleRoom(role domain.Role) string { return "role:" + string(role) }

// TicketRoom is the room of watchers of one ticket.
func TicketRoom(ticketID string) string { return "ticket:" + ticketID }
