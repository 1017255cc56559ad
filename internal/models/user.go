package models

import "github.com/golang-jwt/jwt/v5"

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleSuperAdmin UserRole = "SUPERADMIN"
	RoleAdmin      UserRole = "ADMIN"
	RoleSecretary  UserRole = "SECRETARY"
	RoleTeacher    UserRole = "TEACHER"
)

// Valid reports whether r is a known role.
func (r UserRole) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleSecretary, RoleTeacher:
		return true
	}
	return false
}

// JWTClaims is the payload of access tokens issued by the school identity service. Tokens are only
// verified here; issuing them belongs to the identity service.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}

// HasAnyRole reports whether the caller holds one of roles. SUPERADMIN holds every role.
func (c *JWTClaims) HasAnyRole(roles ...UserRole) bool {
	if c == nil {
		return false
	}
	if c.Role == RoleSuperAdmin {
		return true
	}
	for _, r := range roles {
		if c.Role == r {
			return true
		}
	}
	return false
}

// Administers reports whether the caller may approve, publish, reopen, lock or schedule
// gradebooks. Teachers may only edit and submit.
func (c *JWTClaims) Administers() bool {
	return c.HasAnyRole(RoleAdmin, RoleSecretary)
}
