package alerts

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-routing-core/internal/health"
	"github.com/tributary-ai/llm-routing-core/internal/metrics"
)

// Type classifies what condition raised an alert.
type Type string

const (
	TypeLatency    Type = "latency"
	TypeErrorRate  Type = "error_rate"
	TypeInactivity Type = "inactivity"
)

// Severity tags how urgent an alert is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert is one operator-visible alert. At most one unresolved alert exists
// per (subject, type) pair at any time.
type Alert struct {
	ID         string    `json:"id"`
	Subject    string    `json:"subject"`
	Type       Type      `json:"type"`
	Severity   Severity  `json:"severity"`
	Message    string    `json:"message"`
	CreatedAt  time.Time `json:"created_at"`
	Resolved   bool      `json:"resolved"`
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
}

const (
	// DefaultCooldown is the minimum time after resolution before the same
	// (subject, type) condition may raise a new alert.
	DefaultCooldown = 10 * time.Minute

	// DefaultInactivityWindow flags a previously active subject as possibly
	// down.
	DefaultInactivityWindow = 5 * time.Minute
)

// Config holds the alert thresholds.
type Config struct {
	LatencyWarning    time.Duration `yaml:"latency_warning"`
	LatencyCritical   time.Duration `yaml:"latency_critical"`
	ErrorRateWarning  float64       `yaml:"error_rate_warning"`
	ErrorRateCritical float64       `yaml:"error_rate_critical"`
	InactivityWindow  time.Duration `yaml:"inactivity_window"`
	Cooldown          time.Duration `yaml:"cooldown"`
}

type subjectType struct {
	subject string
	typ     Type
}

// Engine evaluates metric and health snapshots against the configured
// thresholds and owns the resulting alert set. Evaluation runs on a timer,
// never on the request path.
type Engine struct {
	cfg    Config
	logger *logrus.Logger

	mu           sync.Mutex
	alerts       map[string]*Alert
	unresolved   map[subjectType]string    // (subject,type) -> alert ID
	lastResolved map[subjectType]time.Time // cooldown bookkeeping
}

// NewEngine creates an alert engine.
func NewEngine(cfg Config, logger *logrus.Logger) *Engine {
	if cfg.LatencyWarning <= 0 {
		cfg.LatencyWarning = 5 * time.Second
	}
	if cfg.LatencyCritical <= cfg.LatencyWarning {
		cfg.LatencyCritical = 2 * cfg.LatencyWarning
	}
	if cfg.ErrorRateWarning <= 0 {
		cfg.ErrorRateWarning = 0.1
	}
	if cfg.ErrorRateCritical <= cfg.ErrorRateWarning {
		cfg.ErrorRateCritical = 0.25
	}
	if cfg.InactivityWindow <= 0 {
		cfg.InactivityWindow = DefaultInactivityWindow
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	return &Engine{
		cfg:          cfg,
		logger:       logger,
		alerts:       make(map[string]*Alert),
		unresolved:   make(map[subjectType]string),
		lastResolved: make(map[subjectType]time.Time),
	}
}

// Evaluate runs the alert rules against a snapshot of all subjects. A
// failure evaluating one subject never aborts the sweep for the others.
func (e *Engine) Evaluate(stats map[string]metrics.Stats, healthSnap map[string]health.Status) {
	now := time.Now()
	for subject, snap := range stats {
		e.evaluateSubject(subject, snap, healthSnap[subject], now)
	}
}

func (e *Engine) evaluateSubject(subject string, snap metrics.Stats, hs health.Status, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithFields(logrus.Fields{
				"subject": subject,
				"panic":   r,
			}).Error("Alert evaluation panicked for subject, continuing sweep")
		}
	}()

	if snap.TotalOperations == 0 {
		return
	}

	// Latency, two tiers.
	switch {
	case snap.MeanDuration >= e.cfg.LatencyCritical:
		e.raise(subject, TypeLatency, SeverityCritical, now,
			fmt.Sprintf("mean latency %s exceeds critical threshold %s", snap.MeanDuration, e.cfg.LatencyCritical))
	case snap.MeanDuration >= e.cfg.LatencyWarning:
		e.raise(subject, TypeLatency, SeverityHigh, now,
			fmt.Sprintf("mean latency %s exceeds warning threshold %s", snap.MeanDuration, e.cfg.LatencyWarning))
	}

	// Error rate, two tiers.
	switch {
	case snap.ErrorRate >= e.cfg.ErrorRateCritical:
		e.raise(subject, TypeErrorRate, SeverityCritical, now,
			fmt.Sprintf("error rate %.2f exceeds critical threshold %.2f", snap.ErrorRate, e.cfg.ErrorRateCritical))
	case snap.ErrorRate >= e.cfg.ErrorRateWarning:
		e.raise(subject, TypeErrorRate, SeverityHigh, now,
			fmt.Sprintf("error rate %.2f exceeds warning threshold %.2f", snap.ErrorRate, e.cfg.ErrorRateWarning))
	}

	// Inactivity: previously active but silent for the whole window.
	if !snap.LastUpdated.IsZero() && now.Sub(snap.LastUpdated) >= e.cfg.InactivityWindow {
		e.raise(subject, TypeInactivity, SeverityMedium, now,
			fmt.Sprintf("no operations observed for %s, possibly down", now.Sub(snap.LastUpdated).Truncate(time.Second)))
	}
}

// raise creates an alert unless an unresolved alert of the same
// (subject, type) already exists or the condition is inside its cooldown.
func (e *Engine) raise(subject string, typ Type, severity Severity, now time.Time, message string) {
	key := subjectType{subject: subject, typ: typ}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.unresolved[key]; exists {
		return
	}
	if resolvedAt, ok := e.lastResolved[key]; ok && now.Sub(resolvedAt) < e.cfg.Cooldown {
		return
	}

	alert := &Alert{
		ID:        uuid.NewString(),
		Subject:   subject,
		Type:      typ,
		Severity:  severity,
		Message:   message,
		CreatedAt: now,
	}
	e.alerts[alert.ID] = alert
	e.unresolved[key] = alert.ID

	e.logger.WithFields(logrus.Fields{
		"alert_id": alert.ID,
		"subject":  subject,
		"type":     typ,
		"severity": severity,
	}).Warn(message)
}

// Resolve marks an alert resolved and starts its cooldown. Returns false for
// unknown or already-resolved IDs.
func (e *Engine) Resolve(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	alert, ok := e.alerts[id]
	if !ok || alert.Resolved {
		return false
	}
	alert.Resolved = true
	alert.ResolvedAt = time.Now()

	key := subjectType{subject: alert.Subject, typ: alert.Type}
	delete(e.unresolved, key)
	e.lastResolved[key] = alert.ResolvedAt

	e.logger.WithFields(logrus.Fields{
		"alert_id": id,
		"subject":  alert.Subject,
		"type":     alert.Type,
	}).Info("Alert resolved")
	return true
}

// Active returns all unresolved alerts, newest first.
func (e *Engine) Active() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Alert, 0, len(e.unresolved))
	for _, id := range e.unresolved {
		out = append(out, *e.alerts[id])
	}
	sortAlerts(out)
	return out
}

// All returns every alert the engine has raised, resolved included, newest
// first.
func (e *Engine) All() []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Alert, 0, len(e.alerts))
	for _, alert := range e.alerts {
		out = append(out, *alert)
	}
	sortAlerts(out)
	return out
}

func sortAlerts(alerts []Alert) {
	sort.Slice(alerts, func(i, j int) bool {
		return alerts[i].CreatedAt.After(alerts[j].CreatedAt)
	})
}
