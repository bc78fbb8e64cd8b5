package domain

const (
	RoleAdmin = "Admin"
	RoleUser  = "User"
)

// SystemRoles are seeded at bootstrap and can never be renamed or deleted.
var SystemRoles = []Role{
	{Name: RoleAdmin, Description: "Administrator role with full access"},
	{Name: RoleUser, Description: "Standard user role"},
}

// Role is a named group of users. Members are derived from the membership
// relation and are not part of the aggregate.
type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// IsSystemRole is derived from the name, never stored.
func (r *Role) IsSystemRole() bool {
	return r != nil && IsSystemRoleName(r.Name)
}

func IsSystemRoleName(name string) bool {
	return name == RoleAdmin || name == RoleUser
}
