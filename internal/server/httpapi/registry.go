package httpapi

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/consentdesk/internal/authclient"
	"github.com/dmitrijs2005/consentdesk/internal/credstore"
	"github.com/dmitrijs2005/consentdesk/internal/logging"
	"github.com/dmitrijs2005/consentdesk/internal/metrics"
	"github.com/dmitrijs2005/consentdesk/internal/sessionctx"
)

// Bundle is everything one console session owns: its credential namespace,
// session flags, auth client and Session Context.
type Bundle struct {
	ID      string
	Store   credstore.Store
	Flags   *credstore.Flags
	Auth    authclient.Client
	Session *sessionctx.Context

	lastSeen time.Time
	inUse    int
}

// Builder assembles and initialises the bundle for a new console session.
type Builder func(ctx context.Context, id string) (*Bundle, error)

// Registry maps console session ids to bundles and evicts idle ones.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Bundle
	build    Builder
	ttl      time.Duration
	now      func() time.Time
	logger   logging.Logger
}

func NewRegistry(build Builder, ttl time.Duration, l logging.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Bundle),
		build:    build,
		ttl:      ttl,
		now:      time.Now,
		logger:   l.With("module", "registry"),
	}
}

// Get returns the bundle for id and marks it as used.
func (r *Registry) Get(id string) (*Bundle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.sessions[id]
	if ok {
		b.lastSeen = r.now()
	}
	return b, ok
}

// Acquire is Get for the length of a request: the bundle is not evicted
// until Release is called for it.
func (r *Registry) Acquire(id string) (*Bundle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.sessions[id]
	if ok {
		b.lastSeen = r.now()
		b.inUse++
	}
	return b, ok
}

// Release ends one Acquire or AcquireNew hold on b.
func (r *Registry) Release(b *Bundle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b.inUse > 0 {
		b.inUse--
	}
	b.lastSeen = r.now()
}

// Create builds a bundle under a fresh random id.
func (r *Registry) Create(ctx context.Context) (*Bundle, error) {
	return r.create(ctx, false)
}

// AcquireNew is Create with the new bundle already held, as by Acquire.
func (r *Registry) AcquireNew(ctx context.Context) (*Bundle, error) {
	return r.create(ctx, true)
}

func (r *Registry) create(ctx context.Context, held bool) (*Bundle, error) {
	id := uuid.NewString()
	b, err := r.build(ctx, id)
	if err != nil {
		return nil, err
	}
	b.ID = id

	r.mu.Lock()
	b.lastSeen = r.now()
	if held {
		b.inUse = 1
	}
	r.sessions[id] = b
	n := len(r.sessions)
	r.mu.Unlock()

	metrics.ConsoleSessions.Set(float64(n))
	r.logger.Debug(ctx, "console session created", "sessions", n)
	return b, nil
}

// Remove drops and closes the bundle for id.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	b, ok := r.sessions[id]
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()

	if ok {
		b.Session.Close()
		metrics.ConsoleSessions.Set(float64(n))
	}
}

// Sweep evicts bundles idle for longer than the TTL and returns how many
// were evicted. Bundles held by a request are never idle.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	var idle []*Bundle
	for id, b := range r.sessions {
		if b.inUse == 0 && b.lastSeen.Before(cutoff) {
			idle = append(idle, b)
			delete(r.sessions, id)
		}
	}
	n := len(r.sessions)
	r.mu.Unlock()

	for _, b := range idle {
		b.Session.Close()
	}
	metrics.ConsoleSessions.Set(float64(n))
	return len(idle)
}

// Len is the number of live console sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Run sweeps periodically until ctx ends, then closes every bundle.
func (r *Registry) Run(ctx context.Context) error {
	interval := r.ttl / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.closeAll()
			return nil
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				r.logger.Info(ctx, "evicted idle console sessions", "count", n)
			}
		}
	}
}

func (r *Registry) closeAll() {
	r.mu.Lock()
	all := r.sessions
	r.sessions = make(map[string]*Bundle)
	r.mu.Unlock()

	for _, b := range all {
		b.Session.Close()
	}
	metrics.ConsoleSessions.Set(0)
}
