package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paiban/staffplan/pkg/model"
)

func TestObservePhase(t *testing.T) {
	r := New()
	r.ObservePhase(model.PhaseSites, "branch_and_bound", false, 2, 50*time.Millisecond)
	r.ObservePhase(model.PhaseSites, "heuristic", true, 1, 80*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.fallbackTotal.WithLabelValues("sites")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.unmetDemand.WithLabelValues("sites")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.phaseTotal.WithLabelValues("sites", "heuristic")))
}

func TestObserveRun(t *testing.T) {
	r := New()
	r.ObserveRun("success", time.Second)
	r.ObserveRun("success", time.Second)
	r.ObserveRun("locked", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.runTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.runTotal.WithLabelValues("locked")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New()
	r.RecordRequest(http.MethodPost, "/api/v1/optimize", http.StatusOK, 10*time.Millisecond)
	r.SetRunQuality(250, 95.5, 0.12, 0.3)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `staffplan_http_requests_total{method="POST",path="/api/v1/optimize",status="200"} 1`)
	assert.Contains(t, string(body), "staffplan_coverage_rate 95.5")
	assert.Contains(t, string(body), `staffplan_fairness_gini{metric_type="closing"} 0.3`)
}

func TestNilRegistry(t *testing.T) {
	var r *Registry
	r.ObserveRun("success", time.Second)
	r.ObservePhase(model.PhaseClosing, "greedy", false, 0, time.Second)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
