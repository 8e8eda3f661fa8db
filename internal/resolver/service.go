package resolver

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dmitrijs2005/consentdesk/internal/common"
	"github.com/dmitrijs2005/consentdesk/internal/identity"
	"github.com/dmitrijs2005/consentdesk/internal/logging"
	"github.com/dmitrijs2005/consentdesk/internal/metrics"
	"github.com/dmitrijs2005/consentdesk/internal/override"
	"github.com/dmitrijs2005/consentdesk/internal/profiles"
)

// DefaultLookupTimeout bounds the single profile lookup of a resolution.
const DefaultLookupTimeout = 5 * time.Second

// Service resolves sessions against the profile store. It never fails: a
// lookup error is logged and treated as a missing profile.
type Service struct {
	profiles profiles.Store
	policy   override.Policy
	auditor  override.Auditor
	log      logging.Logger
	timeout  time.Duration
	now      func() time.Time

	group singleflight.Group
}

func NewService(store profiles.Store, policy override.Policy, auditor override.Auditor, log logging.Logger, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = DefaultLookupTimeout
	}
	if auditor == nil {
		auditor = override.NewLogAuditor(log)
	}
	return &Service{
		profiles: store,
		policy:   policy,
		auditor:  auditor,
		log:      log.With("module", "resolver"),
		timeout:  timeout,
		now:      time.Now,
	}
}

// Policy returns the override policy the service applies.
func (s *Service) Policy() override.Policy { return s.policy }

// Resolve looks the profile up once and applies the precedence rules.
// armedFor is the email the override flag was armed for in the caller's
// session, or empty.
func (s *Service) Resolve(ctx context.Context, session *identity.Session, armedFor string) *identity.ResolvedUser {
	if session == nil {
		return nil
	}
	start := s.now()

	subject := session.Claims().Subject
	if subject == "" {
		subject = session.User.ID
	}

	var profile *identity.Profile
	if subject != "" {
		profile = s.lookup(ctx, subject)
	}

	u, source := resolve(Inputs{
		Session:  session,
		Profile:  profile,
		Override: s.policy,
		ArmedFor: armedFor,
	})
	metrics.RecordResolution(source, s.now().Sub(start))

	if u.Override {
		s.audit(ctx, override.Event{
			Kind:    override.EventGranted,
			Subject: u.ID,
			Email:   u.Email,
			Role:    u.Role,
		})
	}

	s.log.Debug(ctx, "session resolved", "user_id", u.ID, "role", string(u.Role), "source", source)
	return u
}

// NoteArmed audits the bootstrapper arming the override.
func (s *Service) NoteArmed(ctx context.Context, email, storeKey string) {
	s.audit(ctx, override.Event{
		Kind:     override.EventArmed,
		Email:    email,
		StoreKey: storeKey,
		Role:     s.policy.Role,
	})
}

func (s *Service) audit(ctx context.Context, ev override.Event) {
	metrics.RecordOverride(ev.Kind)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.now()
	}
	if err := s.auditor.Record(ctx, ev); err != nil {
		s.log.Error(ctx, "override audit failed", "kind", ev.Kind, "email", ev.Email, "error", err)
	}
}

// lookup fetches the profile once per subject at a time; concurrent callers
// share the in-flight call. The shared call is bounded by the service
// timeout, each caller additionally by its own ctx.
func (s *Service) lookup(ctx context.Context, subject string) *identity.Profile {
	ch := s.group.DoChan(subject, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		return s.profiles.Get(lctx, subject)
	})

	select {
	case <-ctx.Done():
		metrics.RecordProfileLookup("error")
		s.log.Warn(ctx, "profile lookup abandoned", "user_id", subject, "error", ctx.Err())
		return nil
	case res := <-ch:
		if res.Err != nil {
			if errors.Is(res.Err, common.ErrNotFound) {
				metrics.RecordProfileLookup("missing")
				return nil
			}
			metrics.RecordProfileLookup("error")
			s.log.Warn(ctx, "profile lookup failed", "user_id", subject, "error", res.Err)
			return nil
		}
		p, _ := res.Val.(*identity.Profile)
		if p == nil {
			metrics.RecordProfileLookup("missing")
			return nil
		}
		metrics.RecordProfileLookup("found")
		c := *p
		return &c
	}
}
