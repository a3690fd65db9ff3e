package health

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State classifies a provider's health.
type State string

const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

const (
	// DefaultDegradedThreshold is the consecutive-failure count that moves a
	// healthy provider to degraded.
	DefaultDegradedThreshold = 3

	// DefaultUnhealthyThreshold is the consecutive-failure count that moves a
	// degraded provider to unhealthy.
	DefaultUnhealthyThreshold = 6

	// DefaultStaleAfter is the inactivity window after which a provider is
	// flagged stale.
	DefaultStaleAfter = 5 * time.Minute
)

// Config configures the health tracker.
type Config struct {
	DegradedThreshold  int           `yaml:"failure_threshold"`
	UnhealthyThreshold int           `yaml:"unhealthy_threshold"`
	StaleAfter         time.Duration `yaml:"stale_after"`
}

// Status is a snapshot of one provider's health. Staleness is computed
// independently of the failure-driven state machine; the two are reported
// together but never influence each other.
type Status struct {
	Provider            string    `json:"provider"`
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Stale               bool      `json:"stale"`
	LastActivity        time.Time `json:"last_activity"`
	LastChecked         time.Time `json:"last_checked"`
}

type providerHealth struct {
	state               State
	consecutiveFailures int
	stale               bool
	lastActivity        time.Time
	lastChecked         time.Time
}

// Tracker owns the per-provider health state machine:
// healthy -> degraded -> unhealthy on consecutive failures, back to healthy
// immediately on any success.
type Tracker struct {
	cfg    Config
	logger *logrus.Logger

	mu        sync.RWMutex
	providers map[string]*providerHealth
}

// NewTracker creates a health tracker.
func NewTracker(cfg Config, logger *logrus.Logger) *Tracker {
	if cfg.DegradedThreshold <= 0 {
		cfg.DegradedThreshold = DefaultDegradedThreshold
	}
	if cfg.UnhealthyThreshold <= cfg.DegradedThreshold {
		cfg.UnhealthyThreshold = cfg.DegradedThreshold * 2
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	return &Tracker{
		cfg:       cfg,
		logger:    logger,
		providers: make(map[string]*providerHealth),
	}
}

// RecordSuccess resets the provider's failure counter and restores it to
// healthy regardless of its current state.
func (t *Tracker) RecordSuccess(provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.providerFor(provider)
	prev := p.state
	p.consecutiveFailures = 0
	p.state = StateHealthy
	p.stale = false
	p.lastActivity = time.Now()
	p.lastChecked = p.lastActivity

	if prev != StateHealthy {
		t.logger.WithFields(logrus.Fields{
			"provider": provider,
			"from":     prev,
		}).Info("Provider recovered to healthy")
	}
}

// RecordFailure bumps the provider's consecutive-failure counter and applies
// the state transitions.
func (t *Tracker) RecordFailure(provider string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.providerFor(provider)
	p.consecutiveFailures++
	p.lastActivity = time.Now()
	p.lastChecked = p.lastActivity

	prev := p.state
	switch {
	case p.consecutiveFailures >= t.cfg.UnhealthyThreshold:
		p.state = StateUnhealthy
	case p.consecutiveFailures >= t.cfg.DegradedThreshold:
		p.state = StateDegraded
	}

	if p.state != prev {
		t.logger.WithFields(logrus.Fields{
			"provider":             provider,
			"from":                 prev,
			"to":                   p.state,
			"consecutive_failures": p.consecutiveFailures,
		}).Warn("Provider health state changed")
	}
}

// Status returns the current health snapshot for one provider.
func (t *Tracker) Status(provider string) (Status, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.providers[provider]
	if !ok {
		return Status{}, false
	}
	return t.snapshotLocked(provider, p), true
}

// StateOf returns the provider's state, defaulting to healthy for providers
// with no recorded activity.
func (t *Tracker) StateOf(provider string) State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if p, ok := t.providers[provider]; ok {
		return p.state
	}
	return StateHealthy
}

// Snapshot returns health snapshots for every tracked provider.
func (t *Tracker) Snapshot() map[string]Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]Status, len(t.providers))
	for name, p := range t.providers {
		out[name] = t.snapshotLocked(name, p)
	}
	return out
}

// SweepStale flags providers with no activity inside the staleness window.
// The failure counter and state machine are untouched. Returns the providers
// newly flagged by this sweep.
func (t *Tracker) SweepStale() []string {
	cutoff := time.Now().Add(-t.cfg.StaleAfter)

	t.mu.Lock()
	defer t.mu.Unlock()

	var flagged []string
	for name, p := range t.providers {
		wasStale := p.stale
		p.stale = !p.lastActivity.IsZero() && p.lastActivity.Before(cutoff)
		p.lastChecked = time.Now()
		if p.stale && !wasStale {
			flagged = append(flagged, name)
			t.logger.WithFields(logrus.Fields{
				"provider":      name,
				"last_activity": p.lastActivity,
			}).Warn("Provider flagged stale")
		}
	}
	return flagged
}

func (t *Tracker) providerFor(provider string) *providerHealth {
	p, ok := t.providers[provider]
	if !ok {
		p = &providerHealth{state: StateHealthy}
		t.providers[provider] = p
	}
	return p
}

func (t *Tracker) snapshotLocked(name string, p *providerHealth) Status {
	return Status{
		Provider:            name,
		State:               p.state,
		ConsecutiveFailures: p.consecutiveFailures,
		Stale:               p.stale,
		LastActivity:        p.lastActivity,
		LastChecked:         p.lastChecked,
	}
}
