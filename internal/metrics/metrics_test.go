package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counts(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.ObserveVerdict("block", 3*time.Millisecond)
	r.ObserveVerdict("block", time.Millisecond)
	r.ObserveVerdict("allow", time.Millisecond)
	r.CacheLookup("hit")
	r.CacheLookup("degraded")
	r.PolicyMatched("critical-risk-block")
	r.ObserveRateLimited()
	r.AuditDropped()
	r.AuditFailed()
	r.PolicyFallback(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.verdicts.WithLabelValues("block")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.verdicts.WithLabelValues("allow")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cacheLookups.WithLabelValues("degraded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.policyMatches.WithLabelValues("critical-risk-block")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.rateLimited))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.auditDropped))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.auditFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.policyFallback))

	r.PolicyFallback(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(r.policyFallback))
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObserveVerdict("allow", time.Millisecond)
		r.ObserveRateLimited()
		r.CacheLookup("hit")
		r.PolicyMatched("x")
		r.PolicyFallback(true)
		r.AuditDropped()
		r.AuditFailed()
	})
}

func TestHandler_Exposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)
	r.ObserveVerdict("warn", time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `promptshield_verdicts_total{action="warn"} 1`))
	assert.True(t, strings.Contains(string(body), "promptshield_evaluation_duration_seconds_bucket"))
}
