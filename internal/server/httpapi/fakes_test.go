package httpapi

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/consentdesk/internal/authclient"
	"github.com/dmitrijs2005/consentdesk/internal/common"
	"github.com/dmitrijs2005/consentdesk/internal/credstore"
	"github.com/dmitrijs2005/consentdesk/internal/identity"
	"github.com/dmitrijs2005/consentdesk/internal/logging"
	"github.com/dmitrijs2005/consentdesk/internal/override"
	"github.com/dmitrijs2005/consentdesk/internal/profiles"
	"github.com/dmitrijs2005/consentdesk/internal/resolver"
	"github.com/dmitrijs2005/consentdesk/internal/sessionctx"
)

type account struct {
	id       string
	password string
	role     identity.Role
}

// fakeBackend is an in-memory auth provider. Access tokens are opaque, so
// roles come from the user metadata.
type fakeBackend struct {
	mu        sync.Mutex
	accounts  map[string]*account
	recovered []string
	next      int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{accounts: make(map[string]*account)}
}

func (f *fakeBackend) add(email, password string, role identity.Role) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.accounts[email] = &account{id: fmt.Sprintf("u-%d", f.next), password: password, role: role}
}

func (f *fakeBackend) session(email string, a *account) *identity.Session {
	return &identity.Session{
		AccessToken:  "at-" + a.id,
		RefreshToken: "rt-" + a.id,
		TokenType:    "bearer",
		User: identity.User{
			ID:           a.id,
			Email:        email,
			UserMetadata: map[string]any{"role": string(a.role)},
		},
	}
}

func (f *fakeBackend) SignIn(_ context.Context, email, password string) (*identity.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[email]
	if !ok || a.password != password {
		return nil, common.ErrUnauthorized
	}
	return f.session(email, a), nil
}

func (f *fakeBackend) Refresh(context.Context, string) (*identity.Session, error) {
	return nil, common.ErrRefreshTokenExpired
}

func (f *fakeBackend) SignUp(_ context.Context, email, password string, data map[string]any) (*authclient.SignUpResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.accounts[email]; ok {
		return nil, common.ErrAlreadyExists
	}
	role, _ := data["role"].(string)
	f.next++
	a := &account{id: fmt.Sprintf("u-%d", f.next), password: password, role: identity.Role(role)}
	f.accounts[email] = a
	s := f.session(email, a)
	return &authclient.SignUpResult{User: s.User, Session: s}, nil
}

func (f *fakeBackend) SignOut(context.Context, *identity.Session) error { return nil }

func (f *fakeBackend) Recover(_ context.Context, email, redirectTo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recovered = append(f.recovered, email+" "+redirectTo)
	return nil
}

func (f *fakeBackend) RecoverSession(context.Context, string, string) (*identity.Session, error) {
	return nil, common.ErrRecoveryExpired
}

func (f *fakeBackend) UpdateUser(context.Context, string, authclient.UserPatch) (*identity.User, error) {
	return &identity.User{}, nil
}

func testBuilder(backend authclient.Backend, store profiles.Store) Builder {
	return func(ctx context.Context, id string) (*Bundle, error) {
		creds := credstore.NewMemoryStore()
		flags := credstore.NewFlags()
		auth := authclient.NewLocal(backend, creds, logging.Nop{})
		res := resolver.NewService(store, override.Policy{}, override.NewLogAuditor(logging.Nop{}), logging.Nop{}, time.Second)
		sess := sessionctx.New(auth, res, store, flags, logging.Nop{}, sessionctx.Config{
			SiteURL:   "https://console.example.com",
			OpTimeout: time.Second,
		})
		sess.Init(ctx)
		return &Bundle{Store: creds, Flags: flags, Auth: auth, Session: sess}, nil
	}
}
