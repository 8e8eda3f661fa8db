package override

import (
	"context"
	"time"

	"github.com/dmitrijs2005/consentdesk/internal/identity"
	"github.com/dmitrijs2005/consentdesk/internal/logging"
)

// Event kinds.
const (
	EventArmed   = "armed"
	EventGranted = "granted"
)

// Event is one audited override transition.
type Event struct {
	Kind      string        `json:"kind"`
	Subject   string        `json:"subject,omitempty"`
	Email     string        `json:"email"`
	Role      identity.Role `json:"role,omitempty"`
	StoreKey  string        `json:"store_key,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Auditor records override events. Record errors are reported to the caller,
// who logs them; an audit failure never blocks resolution.
type Auditor interface {
	Record(ctx context.Context, ev Event) error
}

// LogAuditor writes events to the structured log.
type LogAuditor struct {
	log logging.Logger
}

func NewLogAuditor(log logging.Logger) *LogAuditor {
	return &LogAuditor{log: log.With("module", "override")}
}

func (a *LogAuditor) Record(ctx context.Context, ev Event) error {
	a.log.Warn(ctx, "superuser override "+ev.Kind,
		"email", ev.Email, "subject", ev.Subject, "role", string(ev.Role), "store_key", ev.StoreKey)
	return nil
}

// MultiAuditor fans an event out to several auditors and returns the first
// error after trying all of them.
type MultiAuditor []Auditor

func (m MultiAuditor) Record(ctx context.Context, ev Event) error {
	var first error
	for _, a := range m {
		if err := a.Record(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
