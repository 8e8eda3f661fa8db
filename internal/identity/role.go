// Package identity holds the session-side domain values: roles, sessions as
// the hosted auth backend issues them, persisted profiles, and the resolved
// user the console works with.
package identity

import "strings"

// Role describes what part of the console a user may reach.
type Role string

const (
	RoleSuperadmin Role = "superadmin"
	RoleAdmin      Role = "admin"
	RoleClient     Role = "client"
)

// Roles lists every supported role, most privileged first.
var Roles = []Role{RoleSuperadmin, RoleAdmin, RoleClient}

// ParseRole accepts the canonical lower-case spelling (surrounding
// whitespace is ignored) and rejects everything else.
func ParseRole(s string) (Role, bool) {
	r := Role(strings.TrimSpace(s))
	if r.Valid() {
		return r, true
	}
	return "", false
}

// Valid reports whether r is one of the supported roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSuperadmin, RoleAdmin, RoleClient:
		return true
	default:
		return false
	}
}

// IsAdmin is true for admin and superadmin.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperadmin
}

func (r Role) String() string { return string(r) }
