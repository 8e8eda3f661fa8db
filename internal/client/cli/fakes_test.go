package cli

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
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

// fakeBackend is an in-memory auth provider with opaque tokens.
type fakeBackend struct {
	mu        sync.Mutex
	accounts  map[string]*account
	recovered []string
	next      int
}

func newFakeBackend() *fakeBackend {
	f := &fakeBackend{accounts: make(map[string]*account)}
	f.add("admin@x.io", "secret1", identity.RoleAdmin)
	f.add("client@x.io", "secret2", identity.RoleClient)
	return f
}

func (f *fakeBackend) add(email, password string, role identity.Role) *account {
	f.next++
	a := &account{id: fmt.Sprintf("u-%d", f.next), password: password, role: role}
	f.accounts[email] = a
	return a
}

func session(email string, a *account) *identity.Session {
	return &identity.Session{
		AccessToken:  "at-" + a.id,
		RefreshToken: "rt-" + a.id,
		User:         identity.User{ID: a.id, Email: email, UserMetadata: map[string]any{"role": string(a.role)}},
	}
}

func (f *fakeBackend) SignIn(_ context.Context, email, password string) (*identity.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.accounts[email]
	if !ok || a.password != password {
		return nil, common.ErrUnauthorized
	}
	return session(email, a), nil
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
	s := session(email, f.add(email, password, identity.Role(role)))
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

type harness struct {
	app     *App
	out     *bytes.Buffer
	backend *fakeBackend
	store   *profiles.MemoryStore
	pws     []string
}

// newHarness builds an App over a real Session Context. Line prompts read
// from feed, password prompts from passwords, both in order.
func newHarness(t *testing.T) *harness {
	t.Helper()

	backend := newFakeBackend()
	store := profiles.NewMemoryStore()
	auth := authclient.NewLocal(backend, credstore.NewMemoryStore(), logging.Nop{})
	rs := resolver.NewService(store, override.Policy{}, override.NewLogAuditor(logging.Nop{}), logging.Nop{}, time.Second)
	sess := sessionctx.New(auth, rs, store, credstore.NewFlags(), logging.Nop{}, sessionctx.Config{
		SiteURL:   "http://localhost:8080",
		OpTimeout: time.Second,
	})
	sess.Init(context.Background())
	t.Cleanup(sess.Close)

	out := &bytes.Buffer{}
	app := &App{
		logger:  logging.Nop{},
		session: sess,
		reader:  bufio.NewReader(strings.NewReader("")),
		out:     out,
		path:    common.PathRoot,
	}
	h := &harness{app: app, out: out, backend: backend, store: store}

	old := readPassword
	t.Cleanup(func() { readPassword = old })
	readPassword = func(int) ([]byte, error) {
		if len(h.pws) == 0 {
			return nil, fmt.Errorf("no password queued")
		}
		pw := h.pws[0]
		h.pws = h.pws[1:]
		return []byte(pw), nil
	}
	return h
}

// feed replaces the pending line input.
func (h *harness) feed(lines ...string) {
	h.app.reader = bufio.NewReader(strings.NewReader(strings.Join(lines, "\n") + "\n"))
}

func (h *harness) passwords(pws ...string) {
	h.pws = append(h.pws, pws...)
}

func (h *harness) login(email, password string) {
	h.feed(email)
	h.passwords(password)
	_ = h.app.Login(context.Background())
	h.out.Reset()
}
