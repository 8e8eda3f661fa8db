// Package guard gates console routes by resolved role. Guards never resolve
// roles themselves; they read the Session Context and, when it has no
// suitable user yet, ask the same context to re-verify.
package guard

import (
	"context"
	"net/url"
	"strings"

	"github.com/dmitrijs2005/consentdesk/internal/common"
	"github.com/dmitrijs2005/consentdesk/internal/identity"
	"github.com/dmitrijs2005/consentdesk/internal/metrics"
)

type Outcome int

const (
	Unknown Outcome = iota
	Granted
	Denied
)

func (o Outcome) String() string {
	switch o {
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	default:
		return "unknown"
	}
}

// Guard accepts a fixed set of roles.
type Guard struct {
	name  string
	roles []identity.Role
}

var (
	Authenticated  = Guard{name: "authenticated", roles: identity.Roles}
	AdminOrAbove   = Guard{name: "admin_or_above", roles: []identity.Role{identity.RoleSuperadmin, identity.RoleAdmin}}
	SuperadminOnly = Guard{name: "superadmin_only", roles: []identity.Role{identity.RoleSuperadmin}}
)

func (g Guard) Name() string { return g.name }

// Allows reports whether role is in the accepted set.
func (g Guard) Allows(role identity.Role) bool {
	for _, r := range g.roles {
		if r == role {
			return true
		}
	}
	return false
}

// ForPath returns the guard protecting path. Public routes have none.
func ForPath(path string) (Guard, bool) {
	switch {
	case under(path, common.PathSuperadmin):
		return SuperadminOnly, true
	case under(path, common.PathAdmin):
		return AdminOrAbove, true
	case under(path, common.PathClient):
		return Authenticated, true
	default:
		return Guard{}, false
	}
}

func under(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}

// Source is the part of the Session Context a guard reads.
type Source interface {
	User() *identity.ResolvedUser
	Reverify(ctx context.Context) *identity.ResolvedUser
	RememberRedirect(path string)
}

// Decision is the result of a check. Redirect is set when Denied.
type Decision struct {
	Outcome  Outcome
	User     *identity.ResolvedUser
	Redirect string
}

// Check decides whether the current user may reach path. A user already
// held by the context is granted without any backend call; otherwise the
// context re-verifies the session once. Check stays Unknown only when ctx
// ends before a decision is made.
func (g Guard) Check(ctx context.Context, src Source, path string) Decision {
	if u := src.User(); u != nil && g.Allows(u.Role) {
		return g.record(Decision{Outcome: Granted, User: u})
	}

	u := src.Reverify(ctx)
	if ctx.Err() != nil {
		return Decision{Outcome: Unknown}
	}
	if u != nil && g.Allows(u.Role) {
		return g.record(Decision{Outcome: Granted, User: u})
	}

	src.RememberRedirect(path)
	return g.record(Decision{Outcome: Denied, User: u, Redirect: LoginRedirect(path)})
}

func (g Guard) record(d Decision) Decision {
	metrics.RecordGuardDecision(g.name, d.Outcome.String())
	return d
}

// LoginRedirect is the login URL carrying from as the post-login target.
func LoginRedirect(from string) string {
	if from == "" {
		return common.PathLogin
	}
	return common.PathLogin + "?" + url.Values{"from": {from}}.Encode()
}

// HomeFor is the landing page for role after login.
func HomeFor(role identity.Role) string {
	switch role {
	case identity.RoleSuperadmin:
		return common.PathSuperadmin
	case identity.RoleAdmin:
		return common.PathAdmin
	default:
		return common.PathClient
	}
}

// AfterLogin returns where a freshly signed-in user with role should land.
// A remembered target is kept only if that role may open it; otherwise the
// role's home page is used, so a denied target cannot bounce back to /login.
func AfterLogin(target string, role identity.Role) string {
	if target == "" {
		return HomeFor(role)
	}
	path, _, _ := strings.Cut(target, "?")
	path, _, _ = strings.Cut(path, "#")
	if g, ok := ForPath(path); ok && !g.Allows(role) {
		return HomeFor(role)
	}
	return target
}

// Section is what the dashboard shell renders for a user.
type Section struct {
	Name string                 `json:"section"`
	Home string                 `json:"home"`
	User *identity.ResolvedUser `json:"user"`
}

// Shell returns the dashboard section for the context's user, or the login
// path when there is none.
func Shell(src Source) (Section, string) {
	u := src.User()
	if u == nil {
		return Section{}, common.PathLogin
	}
	return Section{Name: string(u.Role), Home: HomeFor(u.Role), User: u}, ""
}
