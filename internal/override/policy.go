// Package override implements the superuser override: a single operator
// identity that may be granted a fixed role, evaluated inside role resolution
// and recorded by an Auditor every time it takes effect.
package override

import "github.com/dmitrijs2005/consentdesk/internal/identity"

// Policy names the one identity the override applies to. The zero value is
// disabled.
type Policy struct {
	Email string
	Role  identity.Role
}

// NewPolicy returns a policy for email. An invalid or empty role becomes
// superadmin.
func NewPolicy(email string, role identity.Role) Policy {
	if !role.Valid() {
		role = identity.RoleSuperadmin
	}
	return Policy{Email: email, Role: role}
}

func (p Policy) Enabled() bool { return p.Email != "" }

// Matches is an exact, case-sensitive comparison against the policy email.
func (p Policy) Matches(email string) bool {
	return p.Enabled() && email == p.Email
}

// Grant returns the override role for email, if the policy applies and the
// override was armed for that same email.
func (p Policy) Grant(email, armedFor string) (identity.Role, bool) {
	if !p.Matches(email) || armedFor != email {
		return "", false
	}
	role := p.Role
	if !role.Valid() {
		role = identity.RoleSuperadmin
	}
	return role, true
}
