package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"brokergw/internal/apperr"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveOp(t *testing.T) {
	m := New()
	m.ObserveOp("get_balance", "simulated", time.Now(), nil)
	m.ObserveOp("get_balance", "simulated", time.Now(), apperr.ErrNotAuthenticated)
	m.ObserveOp("get_balance", "simulated", time.Now(), apperr.ErrNotAuthenticated)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ops.WithLabelValues("get_balance", "simulated", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ops.WithLabelValues("get_balance", "simulated", "NotAuthenticated")))
}

func TestHandlerExposesSessions(t *testing.T) {
	m := New()
	m.TrackSessions(func() int { return 3 })
	m.ObserveHTTP("GET", "/health", 200)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "brokergw_sessions_active 3")
	assert.Contains(t, string(body), `brokergw_http_requests_total{method="GET",route="/health",status="200"} 1`)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOp("x", "live", time.Now(), nil)
		m.ObserveHTTP("GET", "/", 200)
		m.TrackSessions(func() int { return 1 })
	})
}
