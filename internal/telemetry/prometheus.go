package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tributary-ai/llm-routing-core/internal/health"
	"github.com/tributary-ai/llm-routing-core/internal/metrics"
)

// healthGaugeValue mirrors the scores the routing engine assigns per state.
var healthGaugeValue = map[health.State]float64{
	health.StateHealthy:   1.0,
	health.StateDegraded:  0.5,
	health.StateUnhealthy: 0.1,
}

// Collector exposes the core's live statistics to Prometheus. It reads
// snapshots at scrape time rather than maintaining parallel counters, so
// the scrape always matches what the dashboard reports.
type Collector struct {
	providerStats *metrics.Store
	serviceStats  *metrics.Store
	tracker       *metrics.Tracker
	health        *health.Tracker

	opsTotal    *prometheus.Desc
	errorRate   *prometheus.Desc
	meanLatency *prometheus.Desc
	p95Latency  *prometheus.Desc
	inFlight    *prometheus.Desc
	healthScore *prometheus.Desc
	quality     *prometheus.Desc
}

// NewCollector creates a collector over the given stores and trackers.
func NewCollector(providerStats, serviceStats *metrics.Store, tracker *metrics.Tracker, healthTracker *health.Tracker) *Collector {
	return &Collector{
		providerStats: providerStats,
		serviceStats:  serviceStats,
		tracker:       tracker,
		health:        healthTracker,
		opsTotal: prometheus.NewDesc(
			"routing_core_operations_total",
			"Total operations recorded per subject",
			[]string{"subject", "kind"}, nil,
		),
		errorRate: prometheus.NewDesc(
			"routing_core_error_rate",
			"Fraction of failed operations per subject",
			[]string{"subject", "kind"}, nil,
		),
		meanLatency: prometheus.NewDesc(
			"routing_core_mean_latency_seconds",
			"Mean operation latency per subject",
			[]string{"subject", "kind"}, nil,
		),
		p95Latency: prometheus.NewDesc(
			"routing_core_p95_latency_seconds",
			"Sampled 95th percentile latency per subject",
			[]string{"subject", "kind"}, nil,
		),
		inFlight: prometheus.NewDesc(
			"routing_core_in_flight_requests",
			"Requests currently in flight per provider",
			[]string{"provider"}, nil,
		),
		healthScore: prometheus.NewDesc(
			"routing_core_health_score",
			"Health score per provider (1 healthy, 0.5 degraded, 0.1 unhealthy)",
			[]string{"provider"}, nil,
		),
		quality: prometheus.NewDesc(
			"routing_core_quality_score",
			"Smoothed quality score per provider",
			[]string{"provider"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.opsTotal
	ch <- c.errorRate
	ch <- c.meanLatency
	ch <- c.p95Latency
	ch <- c.inFlight
	ch <- c.healthScore
	ch <- c.quality
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.collectStore(ch, c.providerStats, "provider")
	c.collectStore(ch, c.serviceStats, "service")

	if c.tracker != nil {
		for provider, n := range c.tracker.InFlightAll() {
			ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, float64(n), provider)
			ch <- prometheus.MustNewConstMetric(c.quality, prometheus.GaugeValue, c.tracker.QualityOr(provider, 0), provider)
		}
	}

	if c.health != nil {
		for provider, status := range c.health.Snapshot() {
			ch <- prometheus.MustNewConstMetric(c.healthScore, prometheus.GaugeValue, healthGaugeValue[status.State], provider)
		}
	}
}

func (c *Collector) collectStore(ch chan<- prometheus.Metric, store *metrics.Store, kind string) {
	if store == nil {
		return
	}
	for subject, stats := range store.All() {
		ch <- prometheus.MustNewConstMetric(c.opsTotal, prometheus.CounterValue, float64(stats.TotalOperations), subject, kind)
		ch <- prometheus.MustNewConstMetric(c.errorRate, prometheus.GaugeValue, stats.ErrorRate, subject, kind)
		ch <- prometheus.MustNewConstMetric(c.meanLatency, prometheus.GaugeValue, stats.MeanDuration.Seconds(), subject, kind)
		ch <- prometheus.MustNewConstMetric(c.p95Latency, prometheus.GaugeValue, stats.P95Duration.Seconds(), subject, kind)
	}
}
