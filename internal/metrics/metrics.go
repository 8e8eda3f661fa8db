// Package metrics defines the Prometheus metrics of the console.
//
// All metrics are registered with the default registry and served on
// /metrics by the server. Names carry the consentdesk_ prefix; counters end
// in _total and duration histograms in _seconds.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// ResolutionsTotal counts role resolutions by the source the role came from.
	ResolutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consentdesk_resolutions_total",
			Help: "Role resolutions by role source (override, claim, profile, default).",
		},
		[]string{"source"},
	)

	// ResolutionDurationSeconds observes how long a resolution took, profile lookup included.
	ResolutionDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "consentdesk_resolution_duration_seconds",
			Help:    "Duration of role resolutions in seconds.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// ProfileLookupsTotal counts profile lookups by outcome.
	ProfileLookupsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consentdesk_profile_lookups_total",
			Help: "Profile lookups by outcome (found, missing, error).",
		},
		[]string{"outcome"},
	)

	// OverridesTotal counts superuser override transitions.
	OverridesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consentdesk_overrides_total",
			Help: "Superuser override events by kind (armed, granted).",
		},
		[]string{"kind"},
	)

	// GuardDecisionsTotal counts route guard outcomes.
	GuardDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consentdesk_guard_decisions_total",
			Help: "Route guard decisions by guard and outcome.",
		},
		[]string{"guard", "outcome"},
	)

	// LoginAttemptsTotal counts console login attempts.
	LoginAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consentdesk_login_attempts_total",
			Help: "Login attempts by outcome (success, failure, rate_limited).",
		},
		[]string{"outcome"},
	)

	// StaleResultsTotal counts results discarded because a later-started read was
	// applied first.
	StaleResultsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "consentdesk_stale_results_total",
			Help: "Session resolutions dropped as stale.",
		},
	)

	// ConsoleSessions is the number of live server-side console sessions.
	ConsoleSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "consentdesk_console_sessions",
			Help: "Live console sessions held by the server.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ResolutionsTotal,
		ResolutionDurationSeconds,
		ProfileLookupsTotal,
		OverridesTotal,
		GuardDecisionsTotal,
		LoginAttemptsTotal,
		StaleResultsTotal,
		ConsoleSessions,
	)
}

func RecordResolution(source string, d time.Duration) {
	ResolutionsTotal.WithLabelValues(source).Inc()
	ResolutionDurationSeconds.Observe(d.Seconds())
}

func RecordProfileLookup(outcome string) {
	ProfileLookupsTotal.WithLabelValues(outcome).Inc()
}

func RecordOverride(kind string) {
	OverridesTotal.WithLabelValues(kind).Inc()
}

func RecordGuardDecision(guard, outcome string) {
	GuardDecisionsTotal.WithLabelValues(guard, outcome).Inc()
}

func RecordLoginAttempt(outcome string) {
	LoginAttemptsTotal.WithLabelValues(outcome).Inc()
}
