package apihttp

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"brokergw/internal/apperr"
	"brokergw/internal/broker"
	"brokergw/internal/config"
	"brokergw/internal/gateway"
	"brokergw/internal/metrics"
	"brokergw/internal/session"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Simulated.QuoteIntervalMS = 10
	backends, err := gateway.NewBackendsFromConfig(cfg)
	require.NoError(t, err)
	m := metrics.New()
	svc := gateway.NewService(session.NewRegistry(backends), nil, m, gateway.Options{})
	srv, err := NewServer(ServerConfig{Service: svc, Metrics: m, CORS: cfg.HTTP})
	require.NoError(t, err)
	return srv
}

func do(t *testing.T, srv *Server, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	out := map[string]any{}
	if rec.Body.Len() > 0 && strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

var loginBody = map[string]any{"user_id": "demo", "password": "pw", "cert_path": "/tmp/c.pfx"}

func TestStatusFor(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.KindInvalidInstrumentCode: 400,
		apperr.KindMissingPrice:          400,
		apperr.KindInvalidRequest:        400,
		apperr.KindOrderRejected:         400,
		apperr.KindNotAuthenticated:      401,
		apperr.KindLoginFailed:           401,
		apperr.KindNotFound:              404,
		apperr.KindBackendUnavailable:    503,
		apperr.KindUnclassified:          500,
	}
	for kind, want := range cases {
		assert.Equal(t, want, statusFor(kind), kind)
	}
}

func TestSystemRoutes(t *testing.T) {
	srv := newTestServer(t)
	code, body := do(t, srv, http.MethodGet, "/", nil)
	assert.Equal(t, 200, code)
	assert.Equal(t, "running", body["status"])

	code, body = do(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, 200, code)
	assert.Equal(t, "healthy", body["status"])

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "brokergw_http_requests_total")
}

func TestRequestIDAndCORS(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set(requestIDKey, "rid-1")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "rid-1", rec.Header().Get(requestIDKey))
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/order/place", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, rec.Header().Get(requestIDKey))
}

func TestUnauthenticatedIs401(t *testing.T) {
	srv := newTestServer(t)
	code, body := do(t, srv, http.MethodGet, "/api/v1/account/balance", nil)
	assert.Equal(t, 401, code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "NotAuthenticated", body["error"])
	assert.EqualValues(t, 401, body["status_code"])
}

func TestLiveUnavailableIs503(t *testing.T) {
	srv := newTestServer(t)
	body := map[string]any{"user_id": "demo", "password": "pw", "cert_path": "c", "use_mock": false}
	code, out := do(t, srv, http.MethodPost, "/api/v1/auth/login", body)
	assert.Equal(t, 503, code)
	assert.Equal(t, "BackendUnavailable", out["error"])

	code, _ = do(t, srv, http.MethodGet, "/api/v1/auth/status?mode=bogus", nil)
	assert.Equal(t, 400, code)
}

func TestLoginOrderLogoutFlow(t *testing.T) {
	srv := newTestServer(t)
	code, out := do(t, srv, http.MethodPost, "/api/v1/auth/login?session_id=s1", loginBody)
	require.Equal(t, 200, code, out)
	assert.Equal(t, "demo", out["user_id"])
	assert.Equal(t, "s1", out["session_id"])

	code, out = do(t, srv, http.MethodGet, "/api/v1/auth/status?session_id=s1", nil)
	assert.Equal(t, 200, code)
	assert.Equal(t, true, out["is_logged_in"])

	code, out = do(t, srv, http.MethodGet, "/api/v1/auth/status?session_id=other", nil)
	assert.Equal(t, 200, code)
	assert.Equal(t, false, out["is_logged_in"])

	code, out = do(t, srv, http.MethodPost, "/api/v1/order/place?session_id=s1", map[string]any{
		"stock_code": "2330", "action": "Buy", "price": 600, "quantity": 1,
	})
	require.Equal(t, 200, code, out)
	orderID, _ := out["order_id"].(string)
	assert.True(t, strings.HasPrefix(orderID, "MOCK-"))

	code, out = do(t, srv, http.MethodPost, "/api/v1/order/place?session_id=s1", map[string]any{
		"stock_code": "23A0", "action": "Buy", "price": 600, "quantity": 1,
	})
	assert.Equal(t, 400, code)
	assert.Equal(t, "InvalidInstrumentCode", out["error"])

	code, out = do(t, srv, http.MethodPost, "/api/v1/order/place?session_id=s1", map[string]any{
		"stock_code": "2330", "action": "Buy", "quantity": 1,
	})
	assert.Equal(t, 400, code)
	assert.Equal(t, "MissingPrice", out["error"])

	code, out = do(t, srv, http.MethodGet, "/api/v1/order/detail/"+orderID+"?session_id=s1", nil)
	assert.Equal(t, 200, code)
	assert.Equal(t, "submitted", out["order"].(map[string]any)["status"])

	code, out = do(t, srv, http.MethodGet, "/api/v1/order/detail/nope?session_id=s1", nil)
	assert.Equal(t, 404, code)

	code, out = do(t, srv, http.MethodPost, "/api/v1/order/query?session_id=s1", map[string]any{"status": "submitted"})
	assert.Equal(t, 200, code)
	assert.EqualValues(t, 1, out["count"])

	code, out = do(t, srv, http.MethodPost, "/api/v1/order/cancel?session_id=s1", map[string]any{"order_id": "MOCK_001"})
	assert.Equal(t, 400, code)
	assert.Equal(t, "OrderRejected", out["error"])

	code, out = do(t, srv, http.MethodPost, "/api/v1/order/cancel?session_id=s1", map[string]any{"order_id": orderID})
	assert.Equal(t, 200, code)

	code, out = do(t, srv, http.MethodGet, "/api/v1/order/journal?session_id=s1", nil)
	assert.Equal(t, 404, code)

	code, out = do(t, srv, http.MethodPost, "/api/v1/auth/logout?session_id=s1", nil)
	assert.Equal(t, 200, code)
	assert.Equal(t, true, out["logged_out"])

	code, out = do(t, srv, http.MethodPost, "/api/v1/auth/logout?session_id=s1", nil)
	assert.Equal(t, 200, code)
	assert.Equal(t, false, out["logged_out"])

	code, _ = do(t, srv, http.MethodGet, "/api/v1/account/balance?session_id=s1", nil)
	assert.Equal(t, 401, code)
}

func TestAccountAndMarketRoutes(t *testing.T) {
	srv := newTestServer(t)
	code, _ := do(t, srv, http.MethodPost, "/api/v1/auth/login", loginBody)
	require.Equal(t, 200, code)

	code, out := do(t, srv, http.MethodGet, "/api/v1/account/balance", nil)
	assert.Equal(t, 200, code)
	assert.EqualValues(t, 1000000, out["balance"])
	assert.EqualValues(t, 800000, out["buying_power"])

	code, out = do(t, srv, http.MethodGet, "/api/v1/account/buying-power", nil)
	assert.Equal(t, 200, code)
	assert.Equal(t, "NT$ 800,000", out["formatted"])

	code, out = do(t, srv, http.MethodGet, "/api/v1/account/positions", nil)
	assert.Equal(t, 200, code)
	assert.EqualValues(t, 2, out["total_count"])

	code, out = do(t, srv, http.MethodPost, "/api/v1/account/position", map[string]any{"stock_code": "2330"})
	assert.Equal(t, 200, code)
	assert.EqualValues(t, 6000, out["position"].(map[string]any)["market_value"])

	code, out = do(t, srv, http.MethodGet, "/api/v1/account/summary", nil)
	assert.Equal(t, 200, code)
	summary := out["summary"].(map[string]any)
	assert.EqualValues(t, 2, summary["position_count"])
	assert.EqualValues(t, 8100, summary["total_market_value"])

	for _, path := range []string{"/api/v1/account/info", "/api/v1/account/settlements", "/api/v1/account/profit-loss", "/api/v1/account/margin", "/api/v1/order/today"} {
		code, _ = do(t, srv, http.MethodGet, path, nil)
		assert.Equal(t, 200, code, path)
	}

	code, out = do(t, srv, http.MethodPost, "/api/v1/market/quote", map[string]any{"stock_codes": []string{"2330", "2317"}})
	assert.Equal(t, 200, code)
	assert.EqualValues(t, 2, out["count"])

	code, out = do(t, srv, http.MethodPost, "/api/v1/market/historical", map[string]any{"stock_code": "2330"})
	assert.Equal(t, 200, code)
	assert.Equal(t, "D", out["interval"])

	code, out = do(t, srv, http.MethodPost, "/api/v1/market/subscribe", map[string]any{"stock_codes": []string{"2330", "bad"}})
	assert.Equal(t, 200, code)
	results := out["results"].([]any)
	require.Len(t, results, 2)
	assert.Equal(t, false, results[1].(map[string]any)["success"])

	code, out = do(t, srv, http.MethodPost, "/api/v1/market/intraday", map[string]any{"stock_code": "12"})
	assert.Equal(t, 400, code)
	assert.Equal(t, "InvalidInstrumentCode", out["error"])

	code, _ = do(t, srv, http.MethodPost, "/api/v1/market/quote", "not-an-object")
	assert.Equal(t, 400, code)

	code, out = do(t, srv, http.MethodGet, "/api/v1/auth/sessions", nil)
	assert.Equal(t, 200, code)
	assert.EqualValues(t, 1, out["count"])
}

func TestMarketStream(t *testing.T) {
	srv := newTestServer(t)
	code, _ := do(t, srv, http.MethodPost, "/api/v1/auth/login", loginBody)
	require.Equal(t, 200, code)

	code, _ = do(t, srv, http.MethodGet, "/api/v1/market/stream?session_id=nobody", nil)
	assert.Equal(t, 401, code)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/market/stream?codes=2330"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg streamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "quote", msg.Type)
	assert.Equal(t, "2330", msg.Data["stock_code"])
}

func TestMarketStreamClosesOnLogout(t *testing.T) {
	srv := newTestServer(t)
	code, _ := do(t, srv, http.MethodPost, "/api/v1/auth/login", loginBody)
	require.Equal(t, 200, code)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/market/stream?codes=2330"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	code, out := do(t, srv, http.MethodPost, "/api/v1/auth/logout", map[string]any{})
	require.Equal(t, 200, code)
	assert.Equal(t, true, out["logged_out"])

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg streamMessage
		err = conn.ReadJSON(&msg)
		if err != nil {
			break
		}
	}
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestWSListenerDropsWhenFull(t *testing.T) {
	l := newWSListener()
	for i := 0; i < streamBuffer+10; i++ {
		l.OnQuote(broker.Quote{Code: "2330"})
	}
	assert.Len(t, l.out, streamBuffer)
	assert.EqualValues(t, 10, l.dropped.Load())
}

func TestFormatTWD(t *testing.T) {
	assert.Equal(t, "NT$ 800,000", formatTWD(800000))
	assert.Equal(t, "NT$ 1,234,567", formatTWD(1234567.4))
	assert.Equal(t, "NT$ 999", formatTWD(999))
	assert.Equal(t, "N/A", formatTWD(0))
}
