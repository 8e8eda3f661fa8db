package sessionctx

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/consentdesk/internal/authclient"
	"github.com/dmitrijs2005/consentdesk/internal/identity"
	"github.com/dmitrijs2005/consentdesk/internal/override"
	"github.com/dmitrijs2005/consentdesk/internal/resolver"
)

type fakeAuth struct {
	mu sync.Mutex

	session    *identity.Session
	getErr     error
	signIn     *identity.Session
	signInErr  error
	signOutErr error
	signUp     *authclient.SignUpResult
	signUpErr  error
	recoverErr error
	updateErr  error

	signUpMeta    map[string]any
	setSessions   int
	signOuts      int
	resetEmail    string
	resetRedirect string
	updatePatch   *authclient.UserPatch

	listeners map[int]authclient.Listener
	nextID    int

	// getGate, when set, holds the next GetSession after it has read the
	// session; getRead is closed at that point.
	getGate chan struct{}
	getRead chan struct{}
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{listeners: map[int]authclient.Listener{}}
}

func (f *fakeAuth) GetSession(ctx context.Context) (*identity.Session, error) {
	f.mu.Lock()
	s, err := f.session, f.getErr
	gate, read := f.getGate, f.getRead
	f.getGate, f.getRead = nil, nil
	f.mu.Unlock()

	if gate != nil {
		close(read)
		select {
		case <-gate:
		case <-ctx.Done():
		}
	}
	return s, err
}

// holdNextRead makes the next GetSession block after reading. It returns a
// channel closed once the read happened and one that releases it.
func (f *fakeAuth) holdNextRead() (read <-chan struct{}, release chan<- struct{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getGate = make(chan struct{})
	f.getRead = make(chan struct{})
	return f.getRead, f.getGate
}

func (f *fakeAuth) SignInWithPassword(ctx context.Context, _, _ string) (*identity.Session, error) {
	f.mu.Lock()
	if f.signInErr != nil {
		f.mu.Unlock()
		return nil, f.signInErr
	}
	f.session = f.signIn
	s := f.signIn
	f.mu.Unlock()

	f.emit(ctx, authclient.EventSignedIn, s)
	return s, nil
}

func (f *fakeAuth) SignOut(ctx context.Context) error {
	f.mu.Lock()
	f.session = nil
	f.signOuts++
	err := f.signOutErr
	f.mu.Unlock()

	f.emit(ctx, authclient.EventSignedOut, nil)
	return err
}

func (f *fakeAuth) SignUp(_ context.Context, _, _ string, meta map[string]any) (*authclient.SignUpResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signUpMeta = meta
	return f.signUp, f.signUpErr
}

func (f *fakeAuth) ResetPasswordForEmail(_ context.Context, email, redirectTo string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetEmail, f.resetRedirect = email, redirectTo
	return f.recoverErr
}

func (f *fakeAuth) VerifyRecovery(ctx context.Context, accessToken, _ string) error {
	if f.recoverErr != nil {
		return f.recoverErr
	}
	s := &identity.Session{AccessToken: accessToken, User: identity.User{ID: "u-r", Email: "r@x.io"}}
	f.mu.Lock()
	f.session = s
	f.mu.Unlock()
	f.emit(ctx, authclient.EventPasswordRecovery, s)
	return nil
}

func (f *fakeAuth) UpdateUser(_ context.Context, patch authclient.UserPatch) (*identity.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updatePatch = &patch
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	return &identity.User{}, nil
}

func (f *fakeAuth) SetSession(ctx context.Context, s *identity.Session) error {
	f.mu.Lock()
	f.session = s
	f.setSessions++
	f.mu.Unlock()

	f.emit(ctx, authclient.EventSignedIn, s)
	return nil
}

func (f *fakeAuth) OnAuthStateChange(fn authclient.Listener) authclient.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := f.nextID
	f.listeners[id] = fn
	return unsubscribeFunc(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	})
}

func (f *fakeAuth) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *fakeAuth) emit(ctx context.Context, ev authclient.Event, s *identity.Session) {
	f.mu.Lock()
	ls := make([]authclient.Listener, 0, len(f.listeners))
	for _, l := range f.listeners {
		ls = append(ls, l)
	}
	f.mu.Unlock()
	for _, l := range ls {
		l(ctx, ev, s)
	}
}

type unsubscribeFunc func()

func (u unsubscribeFunc) Unsubscribe() { u() }

// fakeResolver applies the real precedence rules over a fixed profile table.
// Sessions whose access token has a gate block until the gate closes.
type fakeResolver struct {
	mu       sync.Mutex
	profiles map[string]*identity.Profile
	policy   override.Policy
	gates    map[string]chan struct{}
	armed    []string
	noted    []string
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{profiles: map[string]*identity.Profile{}, gates: map[string]chan struct{}{}}
}

func (r *fakeResolver) gate(token string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan struct{})
	r.gates[token] = ch
	return ch
}

func (r *fakeResolver) Resolve(ctx context.Context, s *identity.Session, armedFor string) *identity.ResolvedUser {
	r.mu.Lock()
	r.armed = append(r.armed, armedFor)
	gate := r.gates[s.AccessToken]
	p := r.profiles[s.User.ID]
	r.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil
		}
	}
	return resolver.Resolve(resolver.Inputs{Session: s, Profile: p, Override: r.policy, ArmedFor: armedFor})
}

func (r *fakeResolver) NoteArmed(_ context.Context, email, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.noted = append(r.noted, email)
}

func sess(token, id, email string, role identity.Role) *identity.Session {
	u := identity.User{ID: id, Email: email}
	if role != "" {
		u.UserMetadata = map[string]any{"role": string(role)}
	}
	return &identity.Session{AccessToken: token, RefreshToken: "r-" + token, User: u}
}
