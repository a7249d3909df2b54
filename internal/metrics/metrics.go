// Package metrics exposes engine activity as prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder groups the engine collectors. A nil *Recorder records nothing.
type Recorder struct {
	contributions   *prometheus.CounterVec
	roundsFunded    prometheus.Counter
	roundsClosed    *prometheus.CounterVec
	closureFailures *prometheus.CounterVec
	events          *prometheus.CounterVec
	invitesAccepted prometheus.Counter
	inconsistencies prometheus.Counter
}

// NewRecorder creates the collectors and registers them on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		contributions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tontine",
			Name:      "contributions_recorded_total",
			Help:      "Contributions recorded, by resulting status.",
		}, []string{"status"}),
		roundsFunded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tontine",
			Name:      "rounds_funded_total",
			Help:      "Rounds that reached full per-member funding.",
		}),
		roundsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tontine",
			Name:      "rounds_closed_total",
			Help:      "Rounds closed, by outcome (scheduled, assigned, skipped).",
		}, []string{"outcome"}),
		closureFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tontine",
			Name:      "round_closure_failures_total",
			Help:      "Round closures rejected, by error code.",
		}, []string{"code"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tontine",
			Name:      "events_published_total",
			Help:      "Outbound events, by type and result.",
		}, []string{"type", "result"}),
		invitesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tontine",
			Name:      "invites_accepted_total",
			Help:      "Invitations turned into memberships.",
		}),
		inconsistencies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tontine",
			Name:      "ledger_inconsistencies_total",
			Help:      "Reconciliations that found an inconsistent ledger.",
		}),
	}
	reg.MustRegister(r.contributions, r.roundsFunded, r.roundsClosed, r.closureFailures,
		r.events, r.invitesAccepted, r.inconsistencies)
	return r
}

func (r *Recorder) ContributionRecorded(status string) {
	if r == nil {
		return
	}
	r.contributions.WithLabelValues(status).Inc()
}

func (r *Recorder) RoundFunded() {
	if r == nil {
		return
	}
	r.roundsFunded.Inc()
}

func (r *Recorder) RoundClosed(outcome string) {
	if r == nil {
		return
	}
	r.roundsClosed.WithLabelValues(outcome).Inc()
}

func (r *Recorder) ClosureFailed(code string) {
	if r == nil {
		return
	}
	r.closureFailures.WithLabelValues(code).Inc()
}

func (r *Recorder) EventPublished(eventType string, err error) {
	if r == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.events.WithLabelValues(eventType, result).Inc()
}

func (r *Recorder) InviteAccepted() {
	if r == nil {
		return
	}
	r.invitesAccepted.Inc()
}

func (r *Recorder) LedgerInconsistent() {
	if r == nil {
		return
	}
	r.inconsistencies.Inc()
}
