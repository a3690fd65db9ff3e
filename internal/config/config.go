package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tributary-ai/llm-routing-core/internal/alerts"
	"github.com/tributary-ai/llm-routing-core/internal/health"
	"github.com/tributary-ai/llm-routing-core/internal/metrics"
	"github.com/tributary-ai/llm-routing-core/internal/middleware"
	"github.com/tributary-ai/llm-routing-core/internal/routing"
	"github.com/tributary-ai/llm-routing-core/internal/server"
)

// Duration wraps time.Duration so YAML files can use human-readable values
// like "30s" or "5m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw interface{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	case int:
		*d = Duration(time.Duration(v))
	case int64:
		*d = Duration(time.Duration(v))
	case float64:
		*d = Duration(time.Duration(v))
	default:
		return fmt.Errorf("invalid duration value: %v", raw)
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the complete application configuration.
type Config struct {
	Server     ServerConfig                `yaml:"server"`
	Logging    LoggingConfig               `yaml:"logging"`
	Monitoring MonitoringConfig            `yaml:"monitoring"`
	Health     HealthConfig                `yaml:"health"`
	Alerts     AlertsConfig                `yaml:"alerts"`
	Routing    RoutingConfig               `yaml:"routing"`
	Journal    JournalConfig               `yaml:"journal"`
	Scheduler  SchedulerConfig             `yaml:"scheduler"`
	Providers  []routing.ProviderProfile   `yaml:"providers"`
	Validation middleware.ValidationConfig `yaml:"validation"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string   `yaml:"port"`
	ReadTimeout    Duration `yaml:"read_timeout"`
	WriteTimeout   Duration `yaml:"write_timeout"`
	MaxHeaderBytes int      `yaml:"max_header_bytes"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
	Output string `yaml:"output"` // "stdout", "stderr", or file path
}

// MonitoringConfig holds metric collection configuration.
type MonitoringConfig struct {
	Enabled        bool     `yaml:"enabled"`
	SampleCapacity int      `yaml:"sample_capacity"`
	RecomputeEvery int      `yaml:"percentile_recompute_every"`
	HistorySize    int      `yaml:"history_size"`
	MaxRequestAge  Duration `yaml:"max_request_age"`
	QualityAlpha   float64  `yaml:"quality_alpha"`
	Seed           int64    `yaml:"random_seed"`
}

// HealthConfig holds the health state machine thresholds.
type HealthConfig struct {
	DegradedThreshold  int      `yaml:"failure_threshold"`
	UnhealthyThreshold int      `yaml:"unhealthy_threshold"`
	StaleAfter         Duration `yaml:"stale_after"`
}

// AlertsConfig holds the alert thresholds.
type AlertsConfig struct {
	LatencyWarning    Duration `yaml:"latency_warning"`
	LatencyCritical   Duration `yaml:"latency_critical"`
	ErrorRateWarning  float64  `yaml:"error_rate_warning"`
	ErrorRateCritical float64  `yaml:"error_rate_critical"`
	InactivityWindow  Duration `yaml:"inactivity_window"`
	Cooldown          Duration `yaml:"cooldown"`
}

// RoutingConfig holds the decision engine configuration.
type RoutingConfig struct {
	Algorithm            routing.Policy `yaml:"algorithm"`
	PreferredBonus       float64        `yaml:"preferred_bonus"`
	AssumedCapacity      int            `yaml:"assumed_capacity"`
	MaxAcceptableLatency Duration       `yaml:"max_acceptable_latency"`
	TieEpsilon           float64        `yaml:"tie_epsilon"`
	Seed                 int64          `yaml:"random_seed"`
}

// JournalConfig holds the decision journal configuration.
type JournalConfig struct {
	Enabled       bool     `yaml:"enabled"`
	BufferSize    int      `yaml:"buffer_size"`
	FlushInterval Duration `yaml:"flush_interval"`
	Retained      int      `yaml:"retained"`
}

// SchedulerConfig holds the periodic task intervals.
type SchedulerConfig struct {
	TrendInterval   Duration `yaml:"trend_interval"`
	AlertInterval   Duration `yaml:"alert_interval"`
	CleanupInterval Duration `yaml:"cleanup_interval"`
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}

	// Set defaults
	config.setDefaults()

	// Load from file if provided
	if configPath != "" {
		if err := config.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// Override with environment variables
	config.loadFromEnv()

	// Validate configuration
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// setDefaults sets default configuration values.
func (c *Config) setDefaults() {
	c.Server = ServerConfig{
		Port:           "8080",
		ReadTimeout:    Duration(30 * time.Second),
		WriteTimeout:   Duration(30 * time.Second),
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	c.Logging = LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}

	c.Monitoring = MonitoringConfig{
		Enabled:        true,
		SampleCapacity: metrics.DefaultSampleCapacity,
		RecomputeEvery: metrics.DefaultRecomputeEvery,
		HistorySize:    metrics.DefaultHistorySize,
		MaxRequestAge:  Duration(metrics.DefaultMaxRequestAge),
		QualityAlpha:   metrics.DefaultQualityAlpha,
	}

	c.Health = HealthConfig{
		DegradedThreshold:  health.DefaultDegradedThreshold,
		UnhealthyThreshold: health.DefaultUnhealthyThreshold,
		StaleAfter:         Duration(health.DefaultStaleAfter),
	}

	c.Alerts = AlertsConfig{
		LatencyWarning:    Duration(5 * time.Second),
		LatencyCritical:   Duration(10 * time.Second),
		ErrorRateWarning:  0.1,
		ErrorRateCritical: 0.25,
		InactivityWindow:  Duration(alerts.DefaultInactivityWindow),
		Cooldown:          Duration(alerts.DefaultCooldown),
	}

	c.Routing = RoutingConfig{
		Algorithm:            routing.PolicyPerformanceBased,
		PreferredBonus:       1.1,
		AssumedCapacity:      10,
		MaxAcceptableLatency: Duration(10 * time.Second),
		TieEpsilon:           0.01,
	}

	c.Journal = JournalConfig{
		Enabled:       true,
		BufferSize:    1000,
		FlushInterval: Duration(10 * time.Second),
		Retained:      1000,
	}

	c.Scheduler = SchedulerConfig{
		TrendInterval:   Duration(30 * time.Second),
		AlertInterval:   Duration(time.Minute),
		CleanupInterval: Duration(5 * time.Minute),
	}

	c.Validation = middleware.ValidationConfig{
		Enabled:    false,
		SpecPath:   "docs/openapi.yaml",
		StrictMode: false,
	}
}

// loadFromFile loads configuration from a YAML file.
func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables.
func (c *Config) loadFromEnv() {
	if port := os.Getenv("ROUTING_CORE_PORT"); port != "" {
		c.Server.Port = port
	}

	if level := os.Getenv("ROUTING_CORE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if format := os.Getenv("ROUTING_CORE_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}

	if algorithm := os.Getenv("ROUTING_CORE_ALGORITHM"); algorithm != "" {
		c.Routing.Algorithm = routing.Policy(algorithm)
	}

	if seed := os.Getenv("ROUTING_CORE_RANDOM_SEED"); seed != "" {
		if parsed, err := strconv.ParseInt(seed, 10, 64); err == nil {
			c.Monitoring.Seed = parsed
			c.Routing.Seed = parsed
		}
	}
}

// validate validates the configuration.
func (c *Config) validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}

	validAlgorithms := map[routing.Policy]bool{
		routing.PolicyPerformanceBased: true,
		routing.PolicyWeighted:         true,
		routing.PolicyLeastConnections: true,
		routing.PolicyRoundRobin:       true,
	}
	if !validAlgorithms[c.Routing.Algorithm] {
		return fmt.Errorf("invalid routing algorithm: %s", c.Routing.Algorithm)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Alerts.LatencyCritical <= c.Alerts.LatencyWarning {
		return fmt.Errorf("latency_critical (%s) must exceed latency_warning (%s)",
			c.Alerts.LatencyCritical.Std(), c.Alerts.LatencyWarning.Std())
	}
	if c.Alerts.ErrorRateCritical <= c.Alerts.ErrorRateWarning {
		return fmt.Errorf("error_rate_critical (%.2f) must exceed error_rate_warning (%.2f)",
			c.Alerts.ErrorRateCritical, c.Alerts.ErrorRateWarning)
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}
	seen := make(map[string]bool)
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider name cannot be empty")
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate provider: %s", p.Name)
		}
		seen[p.Name] = true
		if p.Weight < 0 {
			return fmt.Errorf("provider %s has negative weight", p.Name)
		}
		if p.QualityScore < 0 || p.QualityScore > 1 {
			return fmt.Errorf("provider %s quality score must be in [0,1]", p.Name)
		}
	}

	return nil
}

// ToServerConfig converts to server.Config.
func (c *Config) ToServerConfig() server.Config {
	return server.Config{
		Port:           c.Server.Port,
		ReadTimeout:    c.Server.ReadTimeout.Std(),
		WriteTimeout:   c.Server.WriteTimeout.Std(),
		MaxHeaderBytes: c.Server.MaxHeaderBytes,
	}
}

// ToStoreConfig converts to metrics.StoreConfig.
func (c *Config) ToStoreConfig() metrics.StoreConfig {
	return metrics.StoreConfig{
		Enabled:        c.Monitoring.Enabled,
		SampleCapacity: c.Monitoring.SampleCapacity,
		RecomputeEvery: c.Monitoring.RecomputeEvery,
		Seed:           c.Monitoring.Seed,
	}
}

// ToTrackerConfig converts to metrics.TrackerConfig.
func (c *Config) ToTrackerConfig() metrics.TrackerConfig {
	return metrics.TrackerConfig{
		HistorySize:   c.Monitoring.HistorySize,
		MaxRequestAge: c.Monitoring.MaxRequestAge.Std(),
		QualityAlpha:  c.Monitoring.QualityAlpha,
	}
}

// ToHealthConfig converts to health.Config.
func (c *Config) ToHealthConfig() health.Config {
	return health.Config{
		DegradedThreshold:  c.Health.DegradedThreshold,
		UnhealthyThreshold: c.Health.UnhealthyThreshold,
		StaleAfter:         c.Health.StaleAfter.Std(),
	}
}

// ToAlertsConfig converts to alerts.Config.
func (c *Config) ToAlertsConfig() alerts.Config {
	return alerts.Config{
		LatencyWarning:    c.Alerts.LatencyWarning.Std(),
		LatencyCritical:   c.Alerts.LatencyCritical.Std(),
		ErrorRateWarning:  c.Alerts.ErrorRateWarning,
		ErrorRateCritical: c.Alerts.ErrorRateCritical,
		InactivityWindow:  c.Alerts.InactivityWindow.Std(),
		Cooldown:          c.Alerts.Cooldown.Std(),
	}
}

// ToRoutingConfig converts to routing.Config.
func (c *Config) ToRoutingConfig() routing.Config {
	return routing.Config{
		Algorithm:            c.Routing.Algorithm,
		PreferredBonus:       c.Routing.PreferredBonus,
		AssumedCapacity:      c.Routing.AssumedCapacity,
		MaxAcceptableLatency: c.Routing.MaxAcceptableLatency.Std(),
		TieEpsilon:           c.Routing.TieEpsilon,
		Seed:                 c.Routing.Seed,
	}
}

// ToJournalConfig converts to routing.JournalConfig.
func (c *Config) ToJournalConfig() routing.JournalConfig {
	return routing.JournalConfig{
		Enabled:       c.Journal.Enabled,
		BufferSize:    c.Journal.BufferSize,
		FlushInterval: c.Journal.FlushInterval.Std(),
		Retained:      c.Journal.Retained,
	}
}

// SaveToFile saves the current configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
