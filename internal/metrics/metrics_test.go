package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/TheQwirl/qwirl-session/internal/metrics"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *metrics.Metrics
	m.ObserveRefresh(metrics.RefreshSuccess)
	m.ObserveRefreshShared()
	m.ObserveRequest(metrics.RequestOK)
	m.ObserveCallback("success")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesCounters(t *testing.T) {
	m := metrics.New()
	m.ObserveRefresh(metrics.RefreshSuccess)
	m.ObserveRefresh(metrics.RefreshSuccess)
	m.ObserveRefresh(metrics.RefreshTerminal)
	m.ObserveRequest(metrics.RequestRetried)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "qwirl_session_refresh_total" {
			require.Len(t, f.GetMetric(), 2) // one per outcome label
		}
	}

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `qwirl_session_refresh_total{outcome="success"} 2`)
	require.Contains(t, string(body), `qwirl_session_api_requests_total{outcome="retried"} 1`)
}
