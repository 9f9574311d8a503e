package auth

// UserRole is the account role
type UserRole string

const (
	// RoleUser is the default role for self registered accounts
	RoleUser UserRole = "USER"
	// RoleAdmin can manage catalog content
	RoleAdmin UserRole = "ADMIN"
)

// IsValid checks if the role is one of the predefined valid roles
func (r UserRole) IsValid() bool {
	switch r {
	case RoleUser, RoleAdmin:
		return true
	default:
		return false
	}
}

// IsAtLeast checks if this role is at least the minimum role
func (r UserRole) IsAtLeast(minRole UserRole) bool {
	return r.level() >= minRole.level() && r.IsValid()
}

func (r UserRole) level() int {
	switch r {
	case RoleAdmin:
		return 2
	case RoleUser:
		return 1
	default:
		return 0
	}
}

func (r UserRole) String() string {
	return string(r)
}
