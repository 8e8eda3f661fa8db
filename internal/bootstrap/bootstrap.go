// Package bootstrap inspects the Credential Store once at startup, before
// the Session Context initialises, and arms the superuser override when the
// stored session belongs to the override identity.
package bootstrap

import (
	"context"
	"regexp"

	"github.com/dmitrijs2005/consentdesk/internal/common"
	"github.com/dmitrijs2005/consentdesk/internal/credstore"
	"github.com/dmitrijs2005/consentdesk/internal/identity"
	"github.com/dmitrijs2005/consentdesk/internal/logging"
	"github.com/dmitrijs2005/consentdesk/internal/override"
)

var authTokenKey = regexp.MustCompile(`^sb-[a-z0-9]+-auth-token$`)

// Result reports what the bootstrapper found. The zero value means nothing
// was stored.
type Result struct {
	// Key is the store key that was inspected.
	Key   string
	Email string
	Armed bool
}

type Bootstrapper struct {
	store       credstore.Store
	flags       *credstore.Flags
	policy      override.Policy
	fallbackKey string
	log         logging.Logger
}

// New returns a Bootstrapper. fallbackKey is used when no stored key matches
// the sb-<ref>-auth-token pattern.
func New(store credstore.Store, flags *credstore.Flags, policy override.Policy, fallbackKey string, log logging.Logger) *Bootstrapper {
	return &Bootstrapper{
		store:       store,
		flags:       flags,
		policy:      policy,
		fallbackKey: fallbackKey,
		log:         log.With("module", "bootstrap"),
	}
}

// Run never fails. Read and parse errors are logged and reported as an
// empty Result.
func (b *Bootstrapper) Run(ctx context.Context) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			b.log.Error(ctx, "bootstrap panicked", "panic", p)
			res = Result{}
		}
	}()

	key := b.findKey(ctx)
	if key == "" {
		return Result{}
	}
	res.Key = key

	raw, err := b.store.Get(ctx, key)
	if err != nil {
		b.log.Warn(ctx, "cannot read stored session", "key", key, "error", err)
		return res
	}
	if raw == nil {
		return res
	}

	s, err := identity.ParseStoredSession(raw)
	if err != nil {
		b.log.Warn(ctx, "ignoring malformed stored session", "key", key, "error", err)
		return res
	}

	res.Email = s.Claims().Email
	if res.Email == "" {
		res.Email = s.User.Email
	}

	if b.policy.Matches(res.Email) {
		b.flags.Set(common.FlagOverrideArmed, res.Email)
		res.Armed = true
		b.log.Info(ctx, "superuser override armed", "key", key, "email", res.Email)
	}
	return res
}

// findKey returns the first pattern-matching key in sorted order, or the
// fallback key.
func (b *Bootstrapper) findKey(ctx context.Context) string {
	keys, err := b.store.Keys(ctx)
	if err != nil {
		b.log.Warn(ctx, "cannot list credential store", "error", err)
		return b.fallbackKey
	}
	for _, k := range keys {
		if authTokenKey.MatchString(k) {
			return k
		}
	}
	return b.fallbackKey
}
