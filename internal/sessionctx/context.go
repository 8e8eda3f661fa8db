// Package sessionctx holds the console's session state: the resolved user,
// a loading flag and an error slot. It subscribes to auth events and
// re-resolves the user on every change. Every read of the session takes a
// sequence number before it starts, and a result is applied only if no
// later-started read has been applied already, so a slow, older resolution
// can never overwrite a newer one.
package sessionctx

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/consentdesk/internal/authclient"
	"github.com/dmitrijs2005/consentdesk/internal/bootstrap"
	"github.com/dmitrijs2005/consentdesk/internal/common"
	"github.com/dmitrijs2005/consentdesk/internal/credstore"
	"github.com/dmitrijs2005/consentdesk/internal/identity"
	"github.com/dmitrijs2005/consentdesk/internal/logging"
	"github.com/dmitrijs2005/consentdesk/internal/metrics"
	"github.com/dmitrijs2005/consentdesk/internal/profiles"
)

// DefaultOpTimeout bounds every operation and background resolution.
const DefaultOpTimeout = 15 * time.Second

type State int

const (
	StateInitializing State = iota
	StateReady
)

func (s State) String() string {
	if s == StateReady {
		return "ready"
	}
	return "initializing"
}

// Snapshot is a consistent copy of the context state.
type Snapshot struct {
	State   State                  `json:"-"`
	Loading bool                   `json:"loading"`
	User    *identity.ResolvedUser `json:"user"`
	Error   string                 `json:"error,omitempty"`
}

// Resolver is the role resolution service.
type Resolver interface {
	Resolve(ctx context.Context, s *identity.Session, armedFor string) *identity.ResolvedUser
	NoteArmed(ctx context.Context, email, storeKey string)
}

// Bootstrapper re-inspects the Credential Store; see package bootstrap.
type Bootstrapper interface {
	Run(ctx context.Context) bootstrap.Result
}

type Config struct {
	// SiteURL is the public console origin used in recovery links.
	SiteURL   string
	OpTimeout time.Duration
	// Bootstrap, if set, runs again on every Navigate before the session is
	// read, the way the pre-hydration check runs on every page load.
	Bootstrap Bootstrapper
}

type Context struct {
	auth     authclient.Client
	resolver Resolver
	profiles profiles.Store
	flags    *credstore.Flags
	log      logging.Logger
	siteURL  string
	timeout  time.Duration
	boot     Bootstrapper

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	state    State
	user     *identity.ResolvedUser
	errMsg   string
	inflight int
	seq      uint64
	applied  uint64
	closed   bool
	sub      authclient.Subscription
	// notedArmed is the email whose arming was last recorded.
	notedArmed string
}

func New(auth authclient.Client, res Resolver, store profiles.Store, flags *credstore.Flags, log logging.Logger, cfg Config) *Context {
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = DefaultOpTimeout
	}
	base, cancel := context.WithCancel(context.Background())
	return &Context{
		auth:     auth,
		resolver: res,
		profiles: store,
		flags:    flags,
		log:      log.With("module", "sessionctx"),
		siteURL:  cfg.SiteURL,
		timeout:  cfg.OpTimeout,
		boot:     cfg.Bootstrap,
		base:     base,
		cancel:   cancel,
	}
}

// Bootstrapped takes the bootstrapper's findings. The flag itself was set by
// the bootstrapper; the context only records the transition, once per email.
func (c *Context) Bootstrapped(ctx context.Context, res bootstrap.Result) {
	if !res.Armed {
		return
	}
	c.mu.Lock()
	seen := c.notedArmed == res.Email
	c.notedArmed = res.Email
	c.mu.Unlock()
	if seen {
		return
	}
	c.log.Warn(ctx, "superuser override armed for this session", "email", res.Email, "key", res.Key)
	c.resolver.NoteArmed(ctx, res.Email, res.Key)
}

// Init subscribes to auth events and resolves the current session.
func (c *Context) Init(ctx context.Context) Snapshot {
	return c.reload(ctx, "init")
}

// Navigate re-initialises the context for a navigation to path. The
// bootstrapper, if configured, runs first so that a session stored since the
// last page load can arm the override.
func (c *Context) Navigate(ctx context.Context, path string) Snapshot {
	if c.boot != nil {
		c.Bootstrapped(ctx, c.boot.Run(ctx))
	}
	return c.reload(ctx, "navigate", "path", path)
}

// Reverify re-reads the session and returns the freshly resolved user.
func (c *Context) Reverify(ctx context.Context) *identity.ResolvedUser {
	return c.reload(ctx, "reverify").User
}

func (c *Context) reload(ctx context.Context, reason string, args ...any) Snapshot {
	c.subscribe()
	c.log.Debug(ctx, "reloading session", append([]any{"reason", reason}, args...)...)

	c.enter()
	defer c.leave()

	opCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	seq := c.nextSeq()
	s, err := c.auth.GetSession(opCtx)
	if err != nil {
		c.log.Warn(ctx, "cannot read session", "error", err)
		c.setError(humanize(err))
		c.apply(seq, nil)
		return c.Snapshot()
	}

	c.apply(seq, c.resolve(opCtx, s))
	return c.Snapshot()
}

func (c *Context) subscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sub != nil || c.closed {
		return
	}
	c.sub = c.auth.OnAuthStateChange(c.onAuthEvent)
}

// onAuthEvent runs in the goroutine that caused the event. The sequence
// number is taken here, synchronously, so event order decides which result
// is newest; the resolution itself runs in the background.
func (c *Context) onAuthEvent(ctx context.Context, ev authclient.Event, s *identity.Session) {
	if ev == authclient.EventInitialSession {
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.seq++
	seq := c.seq
	c.inflight++
	c.wg.Add(1)
	c.mu.Unlock()

	c.log.Debug(ctx, "auth event", "event", string(ev), "seq", seq)

	go func() {
		defer c.wg.Done()
		defer c.leave()

		rctx, cancel := context.WithTimeout(c.base, c.timeout)
		defer cancel()
		c.apply(seq, c.resolve(rctx, s))
	}()
}

func (c *Context) resolve(ctx context.Context, s *identity.Session) *identity.ResolvedUser {
	if s == nil {
		return nil
	}
	armedFor, _ := c.flags.Get(common.FlagOverrideArmed)
	return c.resolver.Resolve(ctx, s, armedFor)
}

func (c *Context) enter() {
	c.mu.Lock()
	c.inflight++
	c.mu.Unlock()
}

func (c *Context) leave() {
	c.mu.Lock()
	c.inflight--
	c.mu.Unlock()
}

func (c *Context) nextSeq() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// apply stores u unless the context is closed or a result with a later
// sequence number has already been applied.
func (c *Context) apply(seq uint64, u *identity.ResolvedUser) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || seq <= c.applied {
		metrics.StaleResultsTotal.Inc()
		return false
	}
	c.applied = seq
	c.user = u
	c.state = StateReady
	return true
}

func (c *Context) setError(msg string) {
	c.mu.Lock()
	c.errMsg = msg
	c.mu.Unlock()
}

// Close unsubscribes and discards every result still in flight.
func (c *Context) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
	c.cancel()
	c.wg.Wait()
}

func (c *Context) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:   c.state,
		Loading: c.inflight > 0,
		User:    copyUser(c.user),
		Error:   c.errMsg,
	}
}

// User returns a copy of the current user, nil when signed out.
func (c *Context) User() *identity.ResolvedUser {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyUser(c.user)
}

func (c *Context) Error() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errMsg
}

func (c *Context) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight > 0
}

// RememberRedirect stores where to go after the next login.
func (c *Context) RememberRedirect(path string) {
	c.flags.Set(common.FlagRedirectTo, path)
}

// TakeRedirect returns and clears the remembered target.
func (c *Context) TakeRedirect() (string, bool) {
	return c.flags.Take(common.FlagRedirectTo)
}

func copyUser(u *identity.ResolvedUser) *identity.ResolvedUser {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}
