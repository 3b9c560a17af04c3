package server_test

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/dwell/internal/catalog"
	"github.com/scrypster/dwell/internal/config"
	"github.com/scrypster/dwell/internal/metrics"
	"github.com/scrypster/dwell/internal/presence"
	"github.com/scrypster/dwell/internal/server"
	"github.com/scrypster/dwell/internal/storage/sqlite"
	"github.com/scrypster/dwell/pkg/types"
	"github.com/scrypster/dwell/web/handlers"
)

func testConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Security: config.SecurityConfig{SecurityMode: "development"},
		Features: config.FeaturesConfig{EnableREST: true, EnableWebSocket: true, EnableMetrics: true},
	}
}

// startTestServer starts a server over a tracker that has seen alice once.
// It returns the base URL and registers cleanup with t.Cleanup.
func startTestServer(t *testing.T, cfg *config.Config) string {
	t.Helper()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	cat := catalog.New(types.Unrecognized, "alice", "bob")
	tracker, err := presence.NewTracker(presence.DefaultConfig(), cat, presence.NewLedger(), presence.WithListener(m))
	require.NoError(t, err)
	tracker.Observe([]types.EntityID{"alice"}, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	addr, err := server.Start(ctx, cfg, server.Deps{
		Tracker:  tracker,
		Catalog:  cat,
		Hub:      handlers.NewWebSocketHub(server.AllowedOrigins(cfg)...),
		Gatherer: reg,
	})
	require.NoError(t, err)
	return "http://" + addr
}

func get(t *testing.T, url string, header ...string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestServer_StartsOnRandomPort(t *testing.T) {
	baseURL := startTestServer(t, testConfig())

	_, port, err := net.SplitHostPort(strings.TrimPrefix(baseURL, "http://"))
	require.NoError(t, err)
	assert.NotEqual(t, "0", port, "port should not be 0 in actual address")
}

func TestServer_HealthEndpoint(t *testing.T) {
	baseURL := startTestServer(t, testConfig())

	resp := get(t, baseURL+"/api/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))

	var body handlers.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body.Status)
}

func TestServer_StatsEndpoint(t *testing.T) {
	baseURL := startTestServer(t, testConfig())

	resp := get(t, baseURL+"/api/stats/alice")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body handlers.EntityStatsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, 1, body.Stats.VisitCount)
	assert.True(t, body.Present)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	baseURL := startTestServer(t, testConfig())

	resp, err := http.Post(baseURL+"/api/stats", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestServer_ProductionRequiresToken(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{SecurityMode: "production", APIToken: "s3cret"}
	baseURL := startTestServer(t, cfg)

	assert.Equal(t, http.StatusOK, get(t, baseURL+"/api/health").StatusCode, "health needs no token")
	assert.Equal(t, http.StatusUnauthorized, get(t, baseURL+"/api/sessions").StatusCode)
	assert.Equal(t, http.StatusOK, get(t, baseURL+"/api/sessions", "Authorization", "Bearer s3cret").StatusCode)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	baseURL := startTestServer(t, testConfig())

	resp := get(t, baseURL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `dwell_tracker_arrivals_total{entity="alice"} 1`)
}

func TestServer_FeatureFlags(t *testing.T) {
	cfg := testConfig()
	cfg.Features = config.FeaturesConfig{}
	baseURL := startTestServer(t, cfg)

	assert.Equal(t, http.StatusOK, get(t, baseURL+"/api/health").StatusCode)
	assert.Equal(t, http.StatusNotFound, get(t, baseURL+"/api/stats").StatusCode)
	assert.Equal(t, http.StatusNotFound, get(t, baseURL+"/metrics").StatusCode)
	assert.Equal(t, http.StatusNotFound, get(t, baseURL+"/ws").StatusCode)
}

func TestServer_RateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Security.RateLimitRPS = 1
	baseURL := startTestServer(t, cfg)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, get(t, baseURL+"/api/health").StatusCode)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestServer_RequiresTracker(t *testing.T) {
	_, err := server.Start(context.Background(), testConfig(), server.Deps{})
	assert.Error(t, err)
}

func TestAllowedOrigins(t *testing.T) {
	cfg := testConfig()
	cfg.Server.Port = 6464
	assert.Equal(t, []string{"127.0.0.1:6464", "localhost:6464"}, server.AllowedOrigins(cfg))
}

func TestNewHandler_SettingsRoutes(t *testing.T) {
	cat := catalog.New(types.Unrecognized, "alice")
	tracker, err := presence.NewTracker(presence.DefaultConfig(), cat, presence.NewLedger())
	require.NoError(t, err)

	without := server.NewHandler(testConfig(), server.Deps{Tracker: tracker, Catalog: cat})
	w := httptest.NewRecorder()
	without.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/settings", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	store, err := sqlite.NewLedgerStore(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	with := server.NewHandler(testConfig(), server.Deps{
		Tracker:  tracker,
		Catalog:  cat,
		Settings: store,
		Active:   tracker.Config(),
	})
	w = httptest.NewRecorder()
	with.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/api/settings", strings.NewReader(`{"duration_policy":"sweep"}`)))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body handlers.SettingsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "sweep", body.Stored.DurationPolicy)
	assert.True(t, body.RestartRequired)
}
