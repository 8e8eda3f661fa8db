package authclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/consentdesk/internal/common"
	"github.com/dmitrijs2005/consentdesk/internal/credstore"
	"github.com/dmitrijs2005/consentdesk/internal/identity"
	"github.com/dmitrijs2005/consentdesk/internal/logging"
)

// DefaultRefreshMargin is how long before expiry GetSession refreshes.
const DefaultRefreshMargin = 60 * time.Second

// Keeper implements Client on top of a Backend. All session writes go
// through its mutex. Events are queued under that same mutex and delivered
// one batch at a time, so listeners observe them in the order the writes
// happened. Listeners run outside the mutex and may call back into the
// Keeper; events they cause are delivered after the current batch.
type Keeper struct {
	backend Backend
	store   credstore.Store
	key     string
	log     logging.Logger
	margin  time.Duration
	now     func() time.Time

	mu          sync.Mutex
	loaded      bool
	session     *identity.Session
	pending     []eventBatch
	dispatching bool

	lmu       sync.Mutex
	nextID    int
	listeners []listenerEntry
}

type eventBatch struct {
	ctx    context.Context
	events []Event
	s      *identity.Session
}

type listenerEntry struct {
	id int
	fn Listener
}

type Option func(*Keeper)

func WithRefreshMargin(d time.Duration) Option {
	return func(k *Keeper) { k.margin = d }
}

func WithClock(now func() time.Time) Option {
	return func(k *Keeper) { k.now = now }
}

// NewKeeper persists the session in store under key.
func NewKeeper(backend Backend, store credstore.Store, key string, log logging.Logger, opts ...Option) *Keeper {
	k := &Keeper{
		backend: backend,
		store:   store,
		key:     key,
		log:     log.With("module", "authclient"),
		margin:  DefaultRefreshMargin,
		now:     time.Now,
	}
	for _, o := range opts {
		o(k)
	}
	return k
}

// StorageKey is the Credential Store key the session is persisted under.
func (k *Keeper) StorageKey() string { return k.key }

func (k *Keeper) GetSession(ctx context.Context) (*identity.Session, error) {
	k.mu.Lock()
	events, s, err := k.currentLocked(ctx)
	k.queueLocked(ctx, events, s)
	k.mu.Unlock()

	k.dispatch()
	return s, err
}

func (k *Keeper) currentLocked(ctx context.Context) ([]Event, *identity.Session, error) {
	var events []Event
	if !k.loaded {
		k.loaded = true
		k.session = k.loadLocked(ctx)
		events = append(events, EventInitialSession)
	}

	cur := k.session
	if cur == nil {
		return events, nil, nil
	}
	if !cur.Expired(k.now(), k.margin) {
		return events, clone(cur), nil
	}

	if cur.RefreshToken == "" {
		if cur.Expired(k.now(), 0) {
			k.clearLocked(ctx)
			return append(events, EventSignedOut), nil, nil
		}
		return events, clone(cur), nil
	}

	fresh, err := k.backend.Refresh(ctx, cur.RefreshToken)
	if err != nil {
		if isRejected(err) {
			k.log.Info(ctx, "refresh rejected, dropping session", "error", err)
			k.clearLocked(ctx)
			return append(events, EventSignedOut), nil, nil
		}
		if !cur.Expired(k.now(), 0) {
			k.log.Warn(ctx, "refresh failed, keeping current token", "error", err)
			return events, clone(cur), nil
		}
		return events, nil, fmt.Errorf("refresh session: %w", err)
	}

	k.setLocked(ctx, fresh)
	return append(events, EventTokenRefreshed), clone(fresh), nil
}

func isRejected(err error) bool {
	return errors.Is(err, common.ErrRefreshTokenExpired) ||
		errors.Is(err, common.ErrInvalidToken) ||
		errors.Is(err, common.ErrUnauthorized)
}

func (k *Keeper) SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error) {
	s, err := k.backend.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}

	k.mu.Lock()
	k.loaded = true
	k.setLocked(ctx, s)
	k.queueLocked(ctx, []Event{EventSignedIn}, s)
	k.mu.Unlock()

	k.dispatch()
	return clone(s), nil
}

// SignOut drops the local session and announces it before revoking the
// tokens on the backend, so a sign-in that completes during the backend
// call is announced after SIGNED_OUT. The backend error, if any, is returned.
func (k *Keeper) SignOut(ctx context.Context) error {
	k.mu.Lock()
	cur := k.session
	k.loaded = true
	k.clearLocked(ctx)
	k.queueLocked(ctx, []Event{EventSignedOut}, nil)
	k.mu.Unlock()

	k.dispatch()

	if cur == nil {
		return nil
	}
	return k.backend.SignOut(ctx, cur)
}

func (k *Keeper) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*SignUpResult, error) {
	return k.backend.SignUp(ctx, email, password, metadata)
}

func (k *Keeper) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	return k.backend.Recover(ctx, email, redirectTo)
}

func (k *Keeper) VerifyRecovery(ctx context.Context, accessToken, refreshToken string) error {
	s, err := k.backend.RecoverSession(ctx, accessToken, refreshToken)
	if err != nil {
		return err
	}

	k.mu.Lock()
	k.loaded = true
	k.setLocked(ctx, s)
	k.queueLocked(ctx, []Event{EventPasswordRecovery}, s)
	k.mu.Unlock()

	k.dispatch()
	return nil
}

func (k *Keeper) UpdateUser(ctx context.Context, patch UserPatch) (*identity.User, error) {
	cur, err := k.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, common.ErrNoSession
	}

	u, err := k.backend.UpdateUser(ctx, cur.AccessToken, patch)
	if err != nil {
		return nil, err
	}

	k.mu.Lock()
	if k.session != nil && k.session.AccessToken == cur.AccessToken {
		next := clone(k.session)
		next.User = *u
		k.setLocked(ctx, next)
		k.queueLocked(ctx, []Event{EventUserUpdated}, next)
	}
	k.mu.Unlock()

	k.dispatch()
	return u, nil
}

func (k *Keeper) SetSession(ctx context.Context, s *identity.Session) error {
	if s == nil || s.AccessToken == "" {
		return common.ErrInvalidToken
	}

	k.mu.Lock()
	k.loaded = true
	k.setLocked(ctx, s)
	k.queueLocked(ctx, []Event{EventSignedIn}, s)
	k.mu.Unlock()

	k.dispatch()
	return nil
}

func (k *Keeper) OnAuthStateChange(fn Listener) Subscription {
	k.lmu.Lock()
	defer k.lmu.Unlock()
	k.nextID++
	id := k.nextID
	k.listeners = append(k.listeners, listenerEntry{id: id, fn: fn})
	return &subscription{keeper: k, id: id}
}

type subscription struct {
	keeper *Keeper
	id     int
	once   sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		k := s.keeper
		k.lmu.Lock()
		defer k.lmu.Unlock()
		for i, l := range k.listeners {
			if l.id == s.id {
				k.listeners = append(k.listeners[:i:i], k.listeners[i+1:]...)
				return
			}
		}
	})
}

func (k *Keeper) queueLocked(ctx context.Context, events []Event, s *identity.Session) {
	if len(events) == 0 {
		return
	}
	k.pending = append(k.pending, eventBatch{ctx: ctx, events: events, s: clone(s)})
}

// dispatch delivers queued batches in order. Only one goroutine delivers at
// a time; a caller that finds delivery in progress leaves its batch to it.
func (k *Keeper) dispatch() {
	k.mu.Lock()
	if k.dispatching {
		k.mu.Unlock()
		return
	}
	k.dispatching = true
	for len(k.pending) > 0 {
		b := k.pending[0]
		k.pending = k.pending[1:]
		k.mu.Unlock()
		k.emit(b.ctx, b.events, b.s)
		k.mu.Lock()
	}
	k.dispatching = false
	k.mu.Unlock()
}

func (k *Keeper) emit(ctx context.Context, events []Event, s *identity.Session) {
	k.lmu.Lock()
	ls := make([]Listener, 0, len(k.listeners))
	for _, l := range k.listeners {
		ls = append(ls, l.fn)
	}
	k.lmu.Unlock()

	for _, ev := range events {
		k.log.Debug(ctx, "auth state change", "event", string(ev))
		for _, fn := range ls {
			fn(ctx, ev, clone(s))
		}
	}
}

func (k *Keeper) loadLocked(ctx context.Context) *identity.Session {
	raw, err := k.store.Get(ctx, k.key)
	if err != nil {
		k.log.Warn(ctx, "cannot read stored session", "key", k.key, "error", err)
		return nil
	}
	if raw == nil {
		return nil
	}
	s, err := identity.ParseStoredSession(raw)
	if err != nil {
		k.log.Warn(ctx, "ignoring malformed stored session", "key", k.key, "error", err)
		return nil
	}
	return s
}

func (k *Keeper) setLocked(ctx context.Context, s *identity.Session) {
	k.session = clone(s)
	raw, err := s.Marshal()
	if err == nil {
		err = k.store.Set(ctx, k.key, raw)
	}
	if err != nil {
		k.log.Error(ctx, "cannot persist session", "key", k.key, "error", err)
	}
}

func (k *Keeper) clearLocked(ctx context.Context) {
	k.session = nil
	if err := k.store.Delete(ctx, k.key); err != nil {
		k.log.Error(ctx, "cannot remove stored session", "key", k.key, "error", err)
	}
}

func clone(s *identity.Session) *identity.Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
