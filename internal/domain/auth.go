package domain

// SystemActorID authors automated transitions.
const SystemActorID = "system"

// Actor is the identity performing an operation.
type Actor struct {
	ID   string
	Name string
	Role Role
}

// SystemActor is used for scheduler and auto-assign driven changes.
var SystemActor = Actor{ID: SystemActorID, Name: "System", Role: RoleAdmin}

// IsSystem reports whether a is the automated actor.
func (a Actor) IsSystem() bool {
	return a.ID == SystemActorID
}

// DisplayName falls back to the ID when no name is known.
func (a Actor) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}
