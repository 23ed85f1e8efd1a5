package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "blast_api_requests_total", Help: "API requests"},
		[]string{"endpoint", "status"},
	)
	SessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "blast_session_transitions_total", Help: "Session state transitions"},
		[]string{"state"},
	)
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "blast_active_sessions", Help: "Live transport handles"},
	)
	JobsSubmitted = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "blast_jobs_submitted_total", Help: "Dispatch jobs accepted"},
	)
	JobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "blast_jobs_processed_total", Help: "Dispatch job outcomes"},
		[]string{"status"},
	)
	JobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "blast_job_duration_seconds", Help: "Per-job drain duration"},
	)
	Sends = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "blast_sends_total", Help: "Per-recipient send outcomes"},
		[]string{"result"},
	)
	TokenMutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "blast_token_mutations_total", Help: "Ledger mutations"},
		[]string{"kind"},
	)
	RelaySubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "blast_relay_subscribers", Help: "Active event stream subscribers"},
	)
	RelayDropped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "blast_relay_dropped_total", Help: "Events dropped on slow subscribers"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, SessionTransitions, ActiveSessions, JobsSubmitted,
		JobsProcessed, JobDuration, Sends, TokenMutations, RelaySubscribers, RelayDropped)
}
