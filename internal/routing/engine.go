package routing

import (
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/llm-routing-core/internal/health"
	"github.com/tributary-ai/llm-routing-core/internal/metrics"
)

// ErrNoProviders is returned when the provider registry is empty. It is the
// only condition under which a routing call fails; every other shortfall
// degrades to a best-effort fallback decision.
var ErrNoProviders = errors.New("no providers available")

// Composite score weights.
const (
	weightPerformance = 0.4
	weightLoad        = 0.2
	weightHealth      = 0.2
	weightAlignment   = 0.2
)

// Performance sub-score weights.
const (
	perfWeightLatency = 0.4
	perfWeightSuccess = 0.3
	perfWeightQuality = 0.3
)

// Alignment penalties applied per failed hard requirement.
const (
	penaltyMaxLatency  = 0.7
	penaltyMinQuality  = 0.8
	penaltyReliability = 0.6
)

// leastConnectionsBand is how far below the best score a provider may sit
// and still compete on connection count.
const leastConnectionsBand = 0.10

// ProviderProfile is the static registration record for one provider.
type ProviderProfile struct {
	Name string `yaml:"name" json:"name"`

	// QualityScore is the assumed output quality in [0,1], used until
	// enough outcomes have been observed to learn one.
	QualityScore float64 `yaml:"quality_score" json:"quality_score"`

	// Capacity is the assumed concurrent-request capacity for load scoring.
	Capacity int `yaml:"capacity" json:"capacity"`

	// Weight is the static multiplier used by the weighted policy.
	Weight float64 `yaml:"weight" json:"weight"`

	// Preferred providers receive the configured score bonus.
	Preferred bool `yaml:"preferred" json:"preferred"`
}

// Config configures the routing decision engine.
type Config struct {
	Algorithm            Policy        `yaml:"algorithm"`
	PreferredBonus       float64       `yaml:"preferred_bonus"`
	AssumedCapacity      int           `yaml:"assumed_capacity"`
	MaxAcceptableLatency time.Duration `yaml:"max_acceptable_latency"`
	TieEpsilon           float64       `yaml:"tie_epsilon"`
	Seed                 int64         `yaml:"random_seed"`
}

// Engine scores and ranks registered providers from the latest committed
// metric, load and health snapshots, then applies the configured
// load-balancing policy. It holds no persistent state of its own beyond the
// policy configuration and the shared round-robin index.
type Engine struct {
	cfg     Config
	logger  *logrus.Logger
	stats   *metrics.Store
	tracker *metrics.Tracker
	health  *health.Tracker
	journal *Journal

	mu       sync.Mutex
	profiles map[string]ProviderProfile
	order    []string
	rng      *rand.Rand
	rrIndex  int
}

// NewEngine creates a routing decision engine. The journal may be nil when
// decision recording is not wanted.
func NewEngine(cfg Config, stats *metrics.Store, tracker *metrics.Tracker, healthTracker *health.Tracker, journal *Journal, logger *logrus.Logger) *Engine {
	if cfg.Algorithm == "" {
		cfg.Algorithm = PolicyPerformanceBased
	}
	if cfg.PreferredBonus <= 0 {
		cfg.PreferredBonus = 1.1
	}
	if cfg.AssumedCapacity <= 0 {
		cfg.AssumedCapacity = 10
	}
	if cfg.MaxAcceptableLatency <= 0 {
		cfg.MaxAcceptableLatency = 10 * time.Second
	}
	if cfg.TieEpsilon <= 0 {
		cfg.TieEpsilon = 0.01
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &Engine{
		cfg:      cfg,
		logger:   logger,
		stats:    stats,
		tracker:  tracker,
		health:   healthTracker,
		journal:  journal,
		profiles: make(map[string]ProviderProfile),
		rng:      rand.New(rand.NewSource(cfg.Seed)),
	}
}

// RegisterProvider adds a provider to the registry.
func (e *Engine) RegisterProvider(profile ProviderProfile) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if profile.Weight <= 0 {
		profile.Weight = 1.0
	}
	if profile.Capacity <= 0 {
		profile.Capacity = e.cfg.AssumedCapacity
	}
	if _, exists := e.profiles[profile.Name]; !exists {
		e.order = append(e.order, profile.Name)
	}
	e.profiles[profile.Name] = profile
	e.logger.WithField("provider", profile.Name).Info("Provider registered")
}

// ListProviders returns all registered provider names in registration order.
func (e *Engine) ListProviders() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.order))
	copy(out, e.order)
	return out
}

// SelectProvider scores every registered provider against the request's
// requirements, applies the configured load-balancing policy and returns a
// decision with ranked alternatives and a factor breakdown.
//
// It never fails for "no perfect provider": when no provider meets every
// hard requirement the decision degrades to the best available option and is
// flagged as a fallback. Only an empty registry is an error.
func (e *Engine) SelectProvider(reqCtx RequestContext, req Requirements) (*Decision, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.profiles) == 0 {
		return nil, ErrNoProviders
	}

	scored := make([]scoredProvider, 0, len(e.profiles))
	for _, name := range e.order {
		scored = append(scored, e.scoreProvider(e.profiles[name], req))
	}
	sortByScore(scored)

	selected, fallback, policyReason := e.applyPolicy(scored)

	decision := e.buildDecision(reqCtx, selected, scored, fallback, policyReason)

	e.logger.WithFields(logrus.Fields{
		"request_id": reqCtx.RequestID,
		"provider":   decision.Provider,
		"score":      decision.Score,
		"policy":     decision.Policy,
		"fallback":   decision.Fallback,
	}).Debug("Routing decision made")

	if e.journal != nil {
		e.journal.Record(decision)
	}
	return decision, nil
}

// scoredProvider carries one provider's sub-scores through policy selection.
type scoredProvider struct {
	name     string
	profile  ProviderProfile
	snap     metrics.Stats
	inflight int

	factors   FactorBreakdown
	score     float64
	quality   float64
	success   float64
	meets     bool
	shortfall []string
}

func (e *Engine) scoreProvider(profile ProviderProfile, req Requirements) scoredProvider {
	snap, _ := e.stats.Get(profile.Name)
	inflight := e.tracker.InFlight(profile.Name)
	quality := e.tracker.QualityOr(profile.Name, profile.QualityScore)

	successRate := 1.0
	if snap.TotalOperations > 0 {
		successRate = float64(snap.Successes) / float64(snap.TotalOperations)
	}

	latencyScore := 1.0
	if snap.MeanDuration > 0 {
		latencyScore = clamp01(1 - float64(snap.MeanDuration)/float64(e.cfg.MaxAcceptableLatency))
	}
	performance := perfWeightLatency*latencyScore + perfWeightSuccess*successRate + perfWeightQuality*quality

	load := clamp01(1 - float64(inflight)/float64(profile.Capacity))

	healthScore := 1.0
	switch e.health.StateOf(profile.Name) {
	case health.StateDegraded:
		healthScore = 0.5
	case health.StateUnhealthy:
		healthScore = 0.1
	}

	alignment := 1.0
	var shortfall []string
	if req.MaxResponseTime > 0 && snap.MeanDuration > req.MaxResponseTime {
		alignment *= penaltyMaxLatency
		shortfall = append(shortfall, fmt.Sprintf("mean latency %s exceeds max response time %s", snap.MeanDuration, req.MaxResponseTime))
	}
	if req.MinQuality > 0 && quality < req.MinQuality {
		alignment *= penaltyMinQuality
		shortfall = append(shortfall, fmt.Sprintf("quality %.2f below floor %.2f", quality, req.MinQuality))
	}
	if req.MinReliability > 0 && successRate < req.MinReliability {
		alignment *= penaltyReliability
		shortfall = append(shortfall, fmt.Sprintf("reliability %.2f below floor %.2f", successRate, req.MinReliability))
	}

	score := weightPerformance*performance + weightLoad*load + weightHealth*healthScore + weightAlignment*alignment
	if profile.Preferred || containsString(req.PreferredProviders, profile.Name) {
		score *= e.cfg.PreferredBonus
	}

	return scoredProvider{
		name:     profile.Name,
		profile:  profile,
		snap:     snap,
		inflight: inflight,
		factors: FactorBreakdown{
			Performance: performance,
			Load:        load,
			Health:      healthScore,
			Alignment:   alignment,
		},
		score:     score,
		quality:   quality,
		success:   successRate,
		meets:     len(shortfall) == 0,
		shortfall: shortfall,
	}
}

// buildDecision assembles the decision record, including the 3 next-best
// alternatives and snapshot-derived estimates.
func (e *Engine) buildDecision(reqCtx RequestContext, sel scoredProvider, scored []scoredProvider, fallback bool, policyReason string) *Decision {
	reasoning := []string{
		policyReason,
		fmt.Sprintf("composite score %.3f (performance %.3f, load %.3f, health %.3f, alignment %.3f)",
			sel.score, sel.factors.Performance, sel.factors.Load, sel.factors.Health, sel.factors.Alignment),
	}
	if fallback {
		reasoning = append(reasoning, "fallback: requirements not fully met")
	}

	var alternatives []Alternative
	for _, sp := range scored {
		if sp.name == sel.name {
			continue
		}
		alternatives = append(alternatives, Alternative{
			Provider: sp.name,
			Score:    sp.score,
			Reason:   alternativeReason(sp),
		})
		if len(alternatives) == 3 {
			break
		}
	}

	estimatedResponse := sel.snap.MeanDuration
	if estimatedResponse == 0 {
		estimatedResponse = time.Second
	}

	return &Decision{
		ID:                    uuid.NewString(),
		Provider:              sel.name,
		Service:               reqCtx.Service,
		Score:                 sel.score,
		EstimatedResponseTime: estimatedResponse,
		EstimatedReliability:  sel.success,
		EstimatedQuality:      sel.quality,
		Alternatives:          alternatives,
		Reasoning:             reasoning,
		Policy:                e.cfg.Algorithm,
		Fallback:              fallback,
		Factors:               sel.factors,
		Timestamp:             time.Now(),
	}
}

func alternativeReason(sp scoredProvider) string {
	if !sp.meets {
		return "fails requirements: " + strings.Join(sp.shortfall, "; ")
	}
	return fmt.Sprintf("score %.3f, %d in flight", sp.score, sp.inflight)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
