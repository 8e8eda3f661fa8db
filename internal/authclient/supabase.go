package authclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	gotrue "github.com/supabase-community/gotrue-go"
	"github.com/supabase-community/gotrue-go/types"
	"github.com/supabase-community/supabase-go"

	"github.com/dmitrijs2005/consentdesk/internal/common"
	"github.com/dmitrijs2005/consentdesk/internal/credstore"
	"github.com/dmitrijs2005/consentdesk/internal/identity"
	"github.com/dmitrijs2005/consentdesk/internal/logging"
)

// GoTrueBackend talks to the hosted auth API. The GoTrue client has no
// context support, so every call runs in its own goroutine and is abandoned
// when ctx ends.
type GoTrueBackend struct {
	api gotrue.Client
	now func() time.Time
}

func NewGoTrueBackend(api gotrue.Client) *GoTrueBackend {
	return &GoTrueBackend{api: api, now: time.Now}
}

// NewSupabase returns a Keeper backed by the hosted project's auth API. The
// session is stored under sb-<projectRef>-auth-token.
func NewSupabase(client *supabase.Client, projectRef string, store credstore.Store, log logging.Logger, opts ...Option) *Keeper {
	return NewKeeper(NewGoTrueBackend(client.Auth), store, common.AuthTokenKey(projectRef), log, opts...)
}

func (b *GoTrueBackend) SignIn(ctx context.Context, email, password string) (*identity.Session, error) {
	resp, err := call(ctx, func() (*types.TokenResponse, error) {
		return b.api.SignInWithEmailPassword(email, password)
	})
	if err != nil {
		return nil, mapGoTrueError("sign in", err)
	}
	return b.session(resp.Session), nil
}

func (b *GoTrueBackend) Refresh(ctx context.Context, refreshToken string) (*identity.Session, error) {
	resp, err := call(ctx, func() (*types.TokenResponse, error) {
		return b.api.RefreshToken(refreshToken)
	})
	if err != nil {
		err = mapGoTrueError("refresh", err)
		if errors.Is(err, common.ErrUnauthorized) {
			return nil, fmt.Errorf("%w: %w", common.ErrRefreshTokenExpired, err)
		}
		return nil, err
	}
	return b.session(resp.Session), nil
}

func (b *GoTrueBackend) SignUp(ctx context.Context, email, password string, data map[string]any) (*SignUpResult, error) {
	resp, err := call(ctx, func() (*types.SignupResponse, error) {
		return b.api.Signup(types.SignupRequest{Email: email, Password: password, Data: data})
	})
	if err != nil {
		return nil, mapGoTrueError("sign up", err)
	}

	res := &SignUpResult{User: user(resp.User)}
	if resp.Session.AccessToken != "" {
		res.Session = b.session(resp.Session)
		if res.User.ID == "" {
			res.User = res.Session.User
		}
	}
	return res, nil
}

func (b *GoTrueBackend) SignOut(ctx context.Context, s *identity.Session) error {
	_, err := call(ctx, func() (struct{}, error) {
		return struct{}{}, b.api.WithToken(s.AccessToken).Logout()
	})
	if err != nil {
		return mapGoTrueError("sign out", err)
	}
	return nil
}

// Recover asks the project to mail a recovery link. The hosted API sends the
// link to the project's configured site URL; redirectTo is not forwarded.
func (b *GoTrueBackend) Recover(ctx context.Context, email, _ string) error {
	_, err := call(ctx, func() (struct{}, error) {
		return struct{}{}, b.api.Recover(types.RecoverRequest{Email: email})
	})
	if err != nil {
		return mapGoTrueError("recover", err)
	}
	return nil
}

// RecoverSession validates the token pair from a recovery redirect by loading
// the user it belongs to.
func (b *GoTrueBackend) RecoverSession(ctx context.Context, accessToken, refreshToken string) (*identity.Session, error) {
	resp, err := call(ctx, func() (*types.UserResponse, error) {
		return b.api.WithToken(accessToken).GetUser()
	})
	if err != nil {
		return nil, mapGoTrueError("verify recovery", err)
	}

	raw, _ := json.Marshal([]string{accessToken, refreshToken})
	s, err := identity.ParseStoredSession(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	}
	s.User = user(resp.User)
	return s, nil
}

func (b *GoTrueBackend) UpdateUser(ctx context.Context, accessToken string, patch UserPatch) (*identity.User, error) {
	resp, err := call(ctx, func() (*types.UpdateUserResponse, error) {
		return b.api.WithToken(accessToken).UpdateUser(types.UpdateUserRequest{
			Password: patch.Password,
			Data:     patch.Data,
		})
	})
	if err != nil {
		return nil, mapGoTrueError("update user", err)
	}
	u := user(resp.User)
	return &u, nil
}

func (b *GoTrueBackend) session(ts types.Session) *identity.Session {
	s := &identity.Session{
		AccessToken:  ts.AccessToken,
		RefreshToken: ts.RefreshToken,
		TokenType:    ts.TokenType,
		ExpiresAt:    int64(ts.ExpiresAt),
		User:         user(ts.User),
	}
	if s.ExpiresAt == 0 && ts.ExpiresIn > 0 {
		s.ExpiresAt = b.now().Add(time.Duration(ts.ExpiresIn) * time.Second).Unix()
	}
	return s
}

func user(u types.User) identity.User {
	return identity.User{
		ID:           u.ID.String(),
		Email:        u.Email,
		UserMetadata: u.UserMetadata,
		AppMetadata:  u.AppMetadata,
	}
}

// call runs fn without blocking past ctx.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v: v, err: err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("%w: %w", common.ErrUnavailable, ctx.Err())
	case r := <-ch:
		return r.v, r.err
	}
}

// mapGoTrueError turns the client's "response status code NNN: body" errors
// into the shared sentinels.
func mapGoTrueError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, common.ErrUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	msg := err.Error()
	var sentinel error
	switch {
	case strings.Contains(msg, "already registered"), strings.Contains(msg, "user_already_exists"):
		sentinel = common.ErrAlreadyExists
	case strings.Contains(msg, "status code 400"),
		strings.Contains(msg, "status code 401"),
		strings.Contains(msg, "status code 403"),
		strings.Contains(msg, "status code 404"):
		sentinel = common.ErrUnauthorized
	case strings.Contains(msg, "status code 422"):
		sentinel = common.ErrValidation
	default:
		sentinel = common.ErrUnavailable
	}
	return fmt.Errorf("%s: %w: %v", op, sentinel, err)
}

// ProjectRefFromURL takes the project ref from a hosted project URL,
// https://<ref>.supabase.co. Hosts without a subdomain give "local".
func ProjectRefFromURL(rawURL string) string {
	host := strings.TrimPrefix(strings.TrimPrefix(rawURL, "https://"), "http://")
	if i := strings.IndexByte(host, '.'); i > 0 {
		return host[:i]
	}
	return "local"
}
