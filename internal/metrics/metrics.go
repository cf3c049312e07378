package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "quickpoll"

// Metrics is safe to use through a nil pointer; every method is then a no-op.
type Metrics struct {
	admissions         *prometheus.CounterVec
	admissionDuration  prometheus.Histogram
	admissionRetries   prometheus.Counter
	verificationErrors *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admissions_total",
			Help:      "Vote admission decisions by outcome.",
		}, []string{"outcome"}),
		admissionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "admission_duration_seconds",
			Help:      "Time spent deciding a vote admission.",
			Buckets:   prometheus.DefBuckets,
		}),
		admissionRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_retries_total",
			Help:      "Admission transactions retried after a storage conflict.",
		}),
		verificationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verification_errors_total",
			Help:      "Verification service failures by the policy branch taken.",
		}, []string{"policy"}),
	}
	reg.MustRegister(m.admissions, m.admissionDuration, m.admissionRetries, m.verificationErrors)
	return m
}

func (m *Metrics) ObserveAdmission(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(outcome).Inc()
	m.admissionDuration.Observe(took.Seconds())
}

func (m *Metrics) AdmissionRetried() {
	if m == nil {
		return
	}
	m.admissionRetries.Inc()
}

func (m *Metrics) VerificationError(policy string) {
	if m == nil {
		return
	}
	m.verificationErrors.WithLabelValues(policy).Inc()
}
