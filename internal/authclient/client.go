// Package authclient is the console's view of the auth backend: it owns the
// current session, persists it to the Credential Store, refreshes it when it
// is about to expire and notifies subscribers about every change.
package authclient

import (
	"context"

	"github.com/dmitrijs2005/consentdesk/internal/identity"
)

// Event names the kind of session change delivered to listeners.
type Event string

const (
	EventInitialSession   Event = "INITIAL_SESSION"
	EventSignedIn         Event = "SIGNED_IN"
	EventSignedOut        Event = "SIGNED_OUT"
	EventTokenRefreshed   Event = "TOKEN_REFRESHED"
	EventUserUpdated      Event = "USER_UPDATED"
	EventPasswordRecovery Event = "PASSWORD_RECOVERY"
)

// Listener receives session changes. The session is a copy and is nil after
// sign-out.
type Listener func(ctx context.Context, ev Event, s *identity.Session)

// Subscription cancels a listener registration.
type Subscription interface {
	Unsubscribe()
}

// UserPatch describes the fields UpdateUser changes; nil leaves a field as is.
type UserPatch struct {
	Password *string
	Data     map[string]any
}

// SignUpResult is what a sign-up produced. Session is nil when the backend
// requires confirmation first.
type SignUpResult struct {
	User    identity.User
	Session *identity.Session
}

// Client is the Backend Auth Client used by the Session Context and guards.
// Expected failures come back as errors, never as panics.
type Client interface {
	GetSession(ctx context.Context) (*identity.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error)
	SignOut(ctx context.Context) error
	// SignUp creates an account. It never replaces the current session.
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*SignUpResult, error)
	ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error
	// VerifyRecovery adopts the session carried by a password recovery link.
	VerifyRecovery(ctx context.Context, accessToken, refreshToken string) error
	UpdateUser(ctx context.Context, patch UserPatch) (*identity.User, error)
	SetSession(ctx context.Context, s *identity.Session) error
	OnAuthStateChange(fn Listener) Subscription
}

// Backend performs the stateless calls against an auth provider. Session
// bookkeeping is done by Keeper.
type Backend interface {
	SignIn(ctx context.Context, email, password string) (*identity.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*identity.Session, error)
	SignUp(ctx context.Context, email, password string, data map[string]any) (*SignUpResult, error)
	SignOut(ctx context.Context, s *identity.Session) error
	Recover(ctx context.Context, email, redirectTo string) error
	RecoverSession(ctx context.Context, accessToken, refreshToken string) (*identity.Session, error)
	UpdateUser(ctx context.Context, accessToken string, patch UserPatch) (*identity.User, error)
}
