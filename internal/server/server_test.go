package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/llm-routing-core/internal/alerts"
	"github.com/tributary-ai/llm-routing-core/internal/health"
	"github.com/tributary-ai/llm-routing-core/internal/metrics"
	"github.com/tributary-ai/llm-routing-core/internal/routing"
)

func newTestServer(t *testing.T) (*Server, Core) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	providerStats := metrics.NewStore(metrics.StoreConfig{Enabled: true, Seed: 1}, logger)
	serviceStats := metrics.NewStore(metrics.StoreConfig{Enabled: true, Seed: 2}, logger)
	tracker := metrics.NewTracker(metrics.TrackerConfig{}, providerStats, serviceStats, logger)
	healthTracker := health.NewTracker(health.Config{}, logger)
	alertEngine := alerts.NewEngine(alerts.Config{}, logger)
	journal := routing.NewJournal(routing.JournalConfig{Enabled: false}, logger)
	engine := routing.NewEngine(routing.Config{Seed: 1}, providerStats, tracker, healthTracker, journal, logger)
	engine.RegisterProvider(routing.ProviderProfile{Name: "openai", QualityScore: 0.85})
	engine.RegisterProvider(routing.ProviderProfile{Name: "anthropic", QualityScore: 0.9})

	core := Core{
		ProviderStats: providerStats,
		ServiceStats:  serviceStats,
		Tracker:       tracker,
		Health:        healthTracker,
		Alerts:        alertEngine,
		Routing:       engine,
		Journal:       journal,
	}

	srv, err := NewServer(core, Config{Port: "0"}, nil, nil, logger)
	require.NoError(t, err)
	return srv, core
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv, core := newTestServer(t)
	handler := srv.setupRoutes()

	rec := doJSON(t, handler, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	for i := 0; i < 10; i++ {
		core.Health.RecordFailure("openai")
	}
	rec = doJSON(t, handler, "GET", "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "unhealthy", body["status"])
}

func TestRouteEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.setupRoutes()

	rec := doJSON(t, handler, "POST", "/v1/route", map[string]interface{}{
		"service": "chat",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var decision routing.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decision))
	assert.Contains(t, []string{"openai", "anthropic"}, decision.Provider)
	assert.Equal(t, "chat", decision.Service)
	assert.NotEmpty(t, decision.ID)
}

func TestRouteEndpointInvalidJSON(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.setupRoutes()

	req := httptest.NewRequest("POST", "/v1/route", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestContentTypeRejected(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.setupRoutes()

	req := httptest.NewRequest("POST", "/v1/route", bytes.NewReader([]byte("service=chat")))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)
}

func TestRequestTrackingFlow(t *testing.T) {
	srv, core := newTestServer(t)
	handler := srv.setupRoutes()

	rec := doJSON(t, handler, "POST", "/v1/requests/start", map[string]interface{}{
		"request_id": "req-1",
		"provider":   "openai",
		"service":    "chat",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, core.Tracker.InFlight("openai"))

	rec = doJSON(t, handler, "POST", "/v1/requests/req-1/complete", map[string]interface{}{
		"success": true,
		"quality": 0.9,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, core.Tracker.InFlight("openai"))
	assert.Equal(t, health.StateHealthy, core.Health.StateOf("openai"))

	snap, ok := core.ProviderStats.Get("openai")
	require.True(t, ok)
	assert.Equal(t, int64(1), snap.TotalOperations)
}

func TestRequestStartRequiresProvider(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.setupRoutes()

	rec := doJSON(t, handler, "POST", "/v1/requests/start", map[string]interface{}{
		"request_id": "req-1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubjectStats(t *testing.T) {
	srv, core := newTestServer(t)
	handler := srv.setupRoutes()

	core.ProviderStats.Record("openai", 100*time.Millisecond, true, "")

	rec := doJSON(t, handler, "GET", "/v1/stats/openai", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var stats metrics.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(1), stats.TotalOperations)

	rec = doJSON(t, handler, "GET", "/v1/stats/nobody", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDashboard(t *testing.T) {
	srv, core := newTestServer(t)
	handler := srv.setupRoutes()

	core.ProviderStats.Record("openai", 100*time.Millisecond, true, "")

	rec := doJSON(t, handler, "GET", "/v1/dashboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "overall")
	assert.Contains(t, body, "providers")
	assert.Contains(t, body, "active_alerts")
}

func TestAlertLifecycleOverHTTP(t *testing.T) {
	srv, core := newTestServer(t)
	handler := srv.setupRoutes()

	stats := map[string]metrics.Stats{
		"openai": {
			Subject:         "openai",
			TotalOperations: 100,
			ErrorRate:       0.9,
			MeanDuration:    100 * time.Millisecond,
			LastUpdated:     time.Now(),
		},
	}
	core.Alerts.Evaluate(stats, nil)

	rec := doJSON(t, handler, "GET", "/v1/alerts", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var listing struct {
		Alerts []alerts.Alert `json:"alerts"`
		Count  int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listing))
	require.Equal(t, 1, listing.Count)

	rec = doJSON(t, handler, "POST", "/v1/alerts/"+listing.Alerts[0].ID+"/resolve", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, handler, "POST", "/v1/alerts/"+listing.Alerts[0].ID+"/resolve", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExport(t *testing.T) {
	srv, core := newTestServer(t)
	handler := srv.setupRoutes()

	core.ProviderStats.Record("openai", 100*time.Millisecond, true, "")

	rec := doJSON(t, handler, "GET", "/v1/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body, "providers")
	assert.Contains(t, body, "history")
	assert.Contains(t, body, "journal")
}

func TestRequestIDEchoed(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.setupRoutes()

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set("X-Request-ID", "fixed-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "fixed-id", rec.Header().Get("X-Request-ID"))
}
