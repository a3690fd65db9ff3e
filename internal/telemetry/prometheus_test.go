package telemetry

import (
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tributary-ai/llm-routing-core/internal/health"
	"github.com/tributary-ai/llm-routing-core/internal/metrics"
)

func TestCollectorExposesSnapshots(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	providerStats := metrics.NewStore(metrics.StoreConfig{Enabled: true, Seed: 1}, logger)
	tracker := metrics.NewTracker(metrics.TrackerConfig{}, providerStats, nil, logger)
	healthTracker := health.NewTracker(health.Config{}, logger)

	providerStats.Record("openai", 100*time.Millisecond, true, "")
	providerStats.Record("openai", 300*time.Millisecond, false, "boom")
	tracker.TrackStart("req-1", "openai", "gpt-4", "chat")
	healthTracker.RecordSuccess("openai")

	registry := prometheus.NewPedanticRegistry()
	require.NoError(t, registry.Register(NewCollector(providerStats, nil, tracker, healthTracker)))

	families, err := registry.Gather()
	require.NoError(t, err)

	found := make(map[string]bool)
	for _, mf := range families {
		found[mf.GetName()] = true
	}
	assert.True(t, found["routing_core_operations_total"])
	assert.True(t, found["routing_core_error_rate"])
	assert.True(t, found["routing_core_p95_latency_seconds"])
	assert.True(t, found["routing_core_in_flight_requests"])
	assert.True(t, found["routing_core_health_score"])
}

func TestCollectorEmptyCore(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	providerStats := metrics.NewStore(metrics.StoreConfig{Enabled: true, Seed: 1}, logger)
	tracker := metrics.NewTracker(metrics.TrackerConfig{}, providerStats, nil, logger)
	healthTracker := health.NewTracker(health.Config{}, logger)

	registry := prometheus.NewPedanticRegistry()
	require.NoError(t, registry.Register(NewCollector(providerStats, nil, tracker, healthTracker)))

	families, err := registry.Gather()
	require.NoError(t, err)
	assert.Empty(t, families)
}
