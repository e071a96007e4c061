package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "team_registration"

type Wizard struct {
	Submissions   *prometheus.CounterVec
	GateBlocks    *prometheus.CounterVec
	PhotoUploads  *prometheus.CounterVec
	Completions   prometheus.Counter
	RequestTiming *prometheus.HistogramVec
}

func NewWizard(reg prometheus.Registerer) *Wizard {
	w := &Wizard{
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_submissions_total",
			Help:      "Wizard step submissions by step and outcome.",
		}, []string{"step", "outcome"}),
		GateBlocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "final_check_blocks_total",
			Help:      "Final check redirects by the step that was incomplete.",
		}, []string{"step"}),
		PhotoUploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "photo_uploads_total",
			Help:      "Photo uploads by outcome.",
		}, []string{"outcome"}),
		Completions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completions_total",
			Help:      "Registrations committed at the final check.",
		}),
		RequestTiming: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	reg.MustRegister(w.Submissions, w.GateBlocks, w.PhotoUploads, w.Completions, w.RequestTiming)
	return w
}
