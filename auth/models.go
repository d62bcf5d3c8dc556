package auth

import "strings"

// Role is the role a caller acts under, as asserted by the external auth layer.
type Role string

const (
	RoleBrand      Role = "brand"
	RoleInfluencer Role = "influencer"
	RoleAdmin      Role = "admin"
)

// Identity is the verified caller behind a request.
type Identity struct {
	UserID string
	Role   Role
}

// ParseRole normalises a role string and reports whether it is known.
func ParseRole(raw string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	return role, isValidRole(role)
}

func isValidRole(role Role) bool {
	switch role {
	case RoleBrand, RoleInfluencer, RoleAdmin:
		return true
	default:
		return false
	}
}
