package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/requests/{id}")

	req := httptest.NewRequest(http.MethodGet, "/requests/7", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	metricsRR := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(metricsRR, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, metricsRR.Code)

	body := metricsRR.Body.String()
	assert.True(t, strings.Contains(body, `travilink_http_requests_total{code="418",route="/requests/{id}"} 1`), body)
	assert.True(t, strings.Contains(body, `travilink_http_request_duration_seconds_bucket{route="/requests/{id}"`), body)
}

func TestWorkflowCounters(t *testing.T) {
	m := NewMetrics()
	m.ObserveTransition("pending_head", "pending_exec", "approve")
	m.ObserveTransition("pending_head", "pending_exec", "approve")
	m.ObserveConflict("request")
	m.ObserveGrant("admin", true)
	m.ObserveGrant("admin", false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.transitions.WithLabelValues("pending_head", "pending_exec", "approve")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflicts.WithLabelValues("request")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.grants.WithLabelValues("admin", "granted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.grants.WithLabelValues("admin", "revoked")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.ObserveTransition("a", "b", "c")
	m.ObserveConflict("request")
	m.ObserveGrant("hr", true)
	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
