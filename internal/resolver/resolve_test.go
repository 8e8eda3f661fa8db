package resolver

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/consentdesk/internal/identity"
	"github.com/dmitrijs2005/consentdesk/internal/override"
)

func sessionWithRole(t *testing.T, email, role string) *identity.Session {
	t.Helper()
	claims := jwt.MapClaims{"sub": "u-1", "email": email}
	if role != "" {
		claims["user_metadata"] = map[string]any{"role": role}
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("k"))
	require.NoError(t, err)
	return &identity.Session{AccessToken: tok, User: identity.User{ID: "u-1", Email: email}}
}

func TestResolve_NilSession(t *testing.T) {
	assert.Nil(t, Resolve(Inputs{}))
	assert.Nil(t, Resolve(Inputs{Profile: &identity.Profile{Role: identity.RoleSuperadmin}}))
}

func TestResolve_ClaimWinsOverProfile(t *testing.T) {
	for _, claim := range []identity.Role{identity.RoleSuperadmin, identity.RoleAdmin} {
		for _, profileRole := range []identity.Role{"", identity.RoleClient, identity.RoleAdmin, identity.RoleSuperadmin, "bogus"} {
			var p *identity.Profile
			if profileRole != "" {
				p = &identity.Profile{ID: "u-1", Name: "P", Role: profileRole}
			}
			u := Resolve(Inputs{Session: sessionWithRole(t, "a@x.io", string(claim)), Profile: p})
			require.NotNil(t, u)
			assert.Equal(t, claim, u.Role, "claim %s profile %s", claim, profileRole)
		}
	}
}

func TestResolve_NoClaimUsesProfileElseClient(t *testing.T) {
	s := sessionWithRole(t, "a@x.io", "")

	for _, r := range identity.Roles {
		u := Resolve(Inputs{Session: s, Profile: &identity.Profile{Role: r}})
		assert.Equal(t, r, u.Role)
	}
	assert.Equal(t, identity.RoleClient, Resolve(Inputs{Session: s}).Role)
	assert.Equal(t, identity.RoleClient, Resolve(Inputs{Session: s, Profile: &identity.Profile{Role: "owner"}}).Role)
}

func TestResolve_InvalidClaimFallsThrough(t *testing.T) {
	s := sessionWithRole(t, "a@x.io", "root")
	u := Resolve(Inputs{Session: s, Profile: &identity.Profile{Role: identity.RoleAdmin}})
	assert.Equal(t, identity.RoleAdmin, u.Role)
}

func TestResolve_AdminClaimWithoutProfile(t *testing.T) {
	u := Resolve(Inputs{Session: sessionWithRole(t, "jane.doe@x.io", "admin")})

	assert.Equal(t, &identity.ResolvedUser{
		ID:    "u-1",
		Email: "jane.doe@x.io",
		Name:  "jane.doe",
		Role:  identity.RoleAdmin,
	}, u)
}

func TestResolve_ProfileSuperadminWithoutClaim(t *testing.T) {
	u := Resolve(Inputs{
		Session: sessionWithRole(t, "a@x.io", ""),
		Profile: &identity.Profile{ID: "u-1", Name: "Ada", Organization: "Acme", Role: identity.RoleSuperadmin},
	})

	assert.Equal(t, identity.RoleSuperadmin, u.Role)
	assert.Equal(t, "Ada", u.Name)
	assert.Equal(t, "Acme", u.Organization)
}

func TestResolve_Idempotent(t *testing.T) {
	in := Inputs{
		Session: sessionWithRole(t, "a@x.io", ""),
		Profile: &identity.Profile{Name: "Ada", Role: identity.RoleAdmin},
	}
	assert.Equal(t, *Resolve(in), *Resolve(in))
}

func TestResolve_Override(t *testing.T) {
	policy := override.NewPolicy("ops@x.io", "")

	t.Run("armed and matching", func(t *testing.T) {
		u := Resolve(Inputs{Session: sessionWithRole(t, "ops@x.io", "client"), Override: policy, ArmedFor: "ops@x.io"})
		assert.Equal(t, identity.RoleSuperadmin, u.Role)
		assert.True(t, u.Override)
	})

	t.Run("not armed", func(t *testing.T) {
		u := Resolve(Inputs{Session: sessionWithRole(t, "ops@x.io", "client"), Override: policy})
		assert.Equal(t, identity.RoleClient, u.Role)
		assert.False(t, u.Override)
	})

	t.Run("armed flag never elevates another identity", func(t *testing.T) {
		u := Resolve(Inputs{Session: sessionWithRole(t, "eve@x.io", ""), Override: policy, ArmedFor: "ops@x.io"})
		assert.Equal(t, identity.RoleClient, u.Role)
		assert.False(t, u.Override)
	})

	t.Run("case differs", func(t *testing.T) {
		u := Resolve(Inputs{Session: sessionWithRole(t, "Ops@x.io", ""), Override: policy, ArmedFor: "Ops@x.io"})
		assert.False(t, u.Override)
	})
}
