package domain

import "time"

// Role enumerates directory roles.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAgent || r == RoleAdmin
}

// IsStaff reports whether the role handles tickets.
func (r Role) IsStaff() bool {
	return r == RoleAgent || r == RoleAdmin
}

// Availability is the agent presence shown on dashboards.
type Availability string

const (
	AvailabilityAvailable Availability = "available"
	AvailabilityBusy      Availability = "busy"
	AvailabilityOffline   Availability = "offline"
)

// Valid reports whether a is a known availability value.
func (a Availability) Valid() bool {
	return a == AvailabilityAvailable || a == AvailabilityBusy || a == AvailabilityOffline
}

// DeriveAvailability computes presence from connection state and active load.
func DeriveAvailability(online bool, load, capacity int) Availability {
	if !online {
		return AvailabilityOffline
	}
	if capacity > 0 && load >= capacity {
		return AvailabilityBusy
	}
	return AvailabilityAvailable
}

// User is a directory record for customers, agents and admins.
type User struct {
	ID                   string
	Name                 string
	Email                string
	PasswordHash         string
	Role                 Role
	Department           *string
	IsActive             bool
	AvailabilityOverride *Availability
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Actor returns the acting identity view of u.
func (u *User) Actor() Actor {
	return Actor{ID: u.ID, Name: u.Name, Role: u.Role}
}
