package common

import "fmt"

// AuthTokenKeyFormat is the layout of the Credential Store key the hosted
// backend SDK persists its session under.
const AuthTokenKeyFormat = "sb-%s-auth-token"

// Session-scoped flag names.
const (
	FlagRedirectTo    = "redirect_to"
	FlagOverrideArmed = "override_armed"
)

// Console routes.
const (
	PathRoot           = "/"
	PathLogin          = "/login"
	PathLogout         = "/logout"
	PathSignup         = "/signup"
	PathForgotPassword = "/forgot-password"
	PathResetPassword  = "/reset-password"
	PathAdmin          = "/admin"
	PathSuperadmin     = "/superadmin"
	PathClient         = "/client"
)

// ConsoleSessionCookie carries the opaque id of a server-side console session.
const ConsoleSessionCookie = "console_session"

// AuthTokenKey returns the Credential Store key for the given project ref.
func AuthTokenKey(projectRef string) string {
	return fmt.Sprintf(AuthTokenKeyFormat, projectRef)
}
