package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveAdmission("accepted", 3*time.Millisecond)
	m.ObserveAdmission("accepted", time.Millisecond)
	m.ObserveAdmission("duplicate_vote", time.Millisecond)
	m.AdmissionRetried()
	m.VerificationError("fail_open")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.admissions.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.admissions.WithLabelValues("duplicate_vote")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.admissionRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.verificationErrors.WithLabelValues("fail_open")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.admissionDuration))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveAdmission("accepted", time.Second)
		m.AdmissionRetried()
		m.VerificationError("fail_closed")
	})
}
