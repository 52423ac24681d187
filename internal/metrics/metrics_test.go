package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	m := New("test")

	m.ObserveRequest("POST", 202, 10*time.Millisecond)
	m.ObserveRequest("POST", 0, time.Millisecond)
	m.ObservePoll("create", "SUCCESS")
	m.ObserveCreateAttempt("retry")
	m.ObservePrepOwnerCorrection()
	m.ObserveConfirm("ok")
	m.ObserveReconciledRow("updated")
	m.SetBreakerState("spapi", 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.APIRequestsTotal.WithLabelValues("POST", "202")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.APIRequestsTotal.WithLabelValues("POST", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationPolls.WithLabelValues("create", "SUCCESS")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PrepOwnerCorrections))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("spapi")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("GET", 200, time.Second)
		m.ObservePoll("x", "y")
		m.ObserveCreateAttempt("ok")
		m.ObservePrepOwnerCorrection()
		m.ObserveConfirm("ok")
		m.ObserveReconciledRow("skipped")
		m.SetBreakerState("x", 0)
	})
}

func TestHandler(t *testing.T) {
	m := New("test")
	m.ObserveConfirm("ok")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "test_placement_confirmations_total"))
}
