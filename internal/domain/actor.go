package domain

// Role is the closed set of actor roles.
type Role string

const (
	RoleStaff      Role = "staff"
	RoleUnitHead   Role = "hod"
	RoleManagement Role = "management"
	RoleAdmin      Role = "admin"
)

// ParseRole maps a wire value onto a known role.
func ParseRole(raw string) (Role, bool) {
	switch r := Role(raw); r {
	case RoleStaff, RoleUnitHead, RoleManagement, RoleAdmin:
		return r, true
	}
	return "", false
}

// Supervisory reports whether the role may change case status and
// respond to system-directed cases.
func (r Role) Supervisory() bool {
	return r == RoleManagement || r == RoleAdmin
}

// Actor is the resolved identity behind a request.
type Actor struct {
	ID   string
	Name string
	Role Role
	Unit string
	// Phone is the contact asserted by the identity provider, if any.
	Phone string
}

// SystemActorID identifies the actor that raises auto-generated cases.
const SystemActorID = "system"

// SystemActor returns the identity used for auto-generated cases.
func SystemActor(unit string) Actor {
	return Actor{ID: SystemActorID, Name: "System", Role: RoleAdmin, Unit: unit}
}
