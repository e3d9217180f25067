package incident

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the governance engine.
type Metrics struct {
	IncidentsCreated   prometheus.Counter
	TriageRuns         *prometheus.CounterVec
	TriageDuration     prometheus.Histogram
	ClassifierCalls    *prometheus.CounterVec
	ClassifierDuration prometheus.Histogram
	ReviewFlagged      prometheus.Counter
	Decisions          *prometheus.CounterVec
	RejectedActions    *prometheus.CounterVec
	SequenceConflicts  prometheus.Counter
	PIRGenerated       *prometheus.CounterVec
}

// NewMetrics registers and returns engine metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		IncidentsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_incidents_created_total",
			Help: "Total incidents created.",
		}),
		TriageRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_triage_runs_total",
			Help: "Total triage runs by outcome.",
		}, []string{"outcome"}),
		TriageDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_triage_duration_seconds",
			Help:    "Duration of triage runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s .. ~51s
		}),
		ClassifierCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_classifier_calls_total",
			Help: "Total classifier calls by outcome.",
		}, []string{"outcome"}),
		ClassifierDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "warden_classifier_call_duration_seconds",
			Help:    "Duration of classifier calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		ReviewFlagged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_review_flagged_total",
			Help: "Triage runs that flagged the incident for human review.",
		}),
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_decisions_total",
			Help: "Human decisions recorded by kind.",
		}, []string{"kind"}),
		RejectedActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_rejected_actions_total",
			Help: "Actions rejected before any state change, by reason.",
		}, []string{"reason"}),
		SequenceConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_sequence_conflicts_total",
			Help: "Transitions lost to optimistic-concurrency conflicts.",
		}),
		PIRGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_pir_generated_total",
			Help: "PIR documents served, by cache outcome.",
		}, []string{"cache"}),
	}

	reg.MustRegister(
		m.IncidentsCreated,
		m.TriageRuns,
		m.TriageDuration,
		m.ClassifierCalls,
		m.ClassifierDuration,
		m.ReviewFlagged,
		m.Decisions,
		m.RejectedActions,
		m.SequenceConflicts,
		m.PIRGenerated,
	)

	return m
}

// nopMetrics backs services constructed without a registry (tests).
func nopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
