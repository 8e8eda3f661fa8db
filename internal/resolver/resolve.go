// Package resolver turns a raw session into the console's ResolvedUser.
// It is the only place that knows the role precedence; the Session Context
// and every route guard go through it.
package resolver

import (
	"github.com/dmitrijs2005/consentdesk/internal/identity"
	"github.com/dmitrijs2005/consentdesk/internal/override"
)

// Role sources, also used as metric labels.
const (
	SourceOverride = "override"
	SourceClaim    = "claim"
	SourceProfile  = "profile"
	SourceDefault  = "default"
)

// Inputs is everything a resolution depends on.
type Inputs struct {
	Session *identity.Session
	// Profile is nil when there is no row or the lookup failed.
	Profile  *identity.Profile
	Override override.Policy
	// ArmedFor is the email the override was armed for, empty if not armed.
	ArmedFor string
}

// Resolve computes the ResolvedUser for in. A nil session resolves to nil.
//
// Role precedence: an armed override matching the session's own email, then
// a valid role claim, then a valid profile role, then client.
func Resolve(in Inputs) *identity.ResolvedUser {
	u, _ := resolve(in)
	return u
}

func resolve(in Inputs) (*identity.ResolvedUser, string) {
	if in.Session == nil {
		return nil, ""
	}

	claims := in.Session.Claims()
	u := &identity.ResolvedUser{
		ID:    claims.Subject,
		Email: claims.Email,
	}
	if u.ID == "" {
		u.ID = in.Session.User.ID
	}
	if u.Email == "" {
		u.Email = in.Session.User.Email
	}

	var source string
	if role, ok := in.Override.Grant(u.Email, in.ArmedFor); ok {
		u.Role, u.Override, source = role, true, SourceOverride
	} else if role, ok := identity.ParseRole(claims.Role); ok {
		u.Role, source = role, SourceClaim
	} else if in.Profile != nil && in.Profile.Role.Valid() {
		u.Role, source = in.Profile.Role, SourceProfile
	} else {
		u.Role, source = identity.RoleClient, SourceDefault
	}

	if in.Profile != nil {
		u.Name = in.Profile.Name
		u.Organization = in.Profile.Organization
	}
	if u.Name == "" {
		u.Name = identity.LocalPart(u.Email)
	}

	return u, source
}
