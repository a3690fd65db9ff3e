package metrics

import (
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultHistorySize bounds the per-provider completed-request ring.
	DefaultHistorySize = 500

	// DefaultMaxRequestAge is how long an unterminated request may sit in the
	// active table before the cleanup sweep drops it.
	DefaultMaxRequestAge = 10 * time.Minute

	// DefaultQualityAlpha is the learning rate of the per-provider quality
	// estimate.
	DefaultQualityAlpha = 0.2

	// defaultQuality is assumed for providers with no observed quality yet.
	defaultQuality = 0.8
)

// TrackerConfig configures a request tracker.
type TrackerConfig struct {
	HistorySize   int           `yaml:"history_size"`
	MaxRequestAge time.Duration `yaml:"max_request_age"`
	QualityAlpha  float64       `yaml:"quality_alpha"`
}

// ActiveRequest is one in-flight request. Created on TrackStart, removed on
// TrackComplete; exactly one entry exists per in-flight request.
type ActiveRequest struct {
	ID        string    `json:"id"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Service   string    `json:"service"`
	StartedAt time.Time `json:"started_at"`
	HeapBytes uint64    `json:"heap_bytes"`
}

// HistoryRecord is an immutable snapshot of a completed request.
type HistoryRecord struct {
	RequestID string        `json:"request_id"`
	Provider  string        `json:"provider"`
	Service   string        `json:"service"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	ErrorType string        `json:"error_type,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// Tracker converts request start/end pairs into duration measurements, feeds
// the provider and service stores, and maintains in-flight accounting plus a
// bounded per-provider history ring.
type Tracker struct {
	cfg           TrackerConfig
	logger        *logrus.Logger
	providerStats *Store
	serviceStats  *Store

	mu       sync.Mutex
	active   map[string]*ActiveRequest
	inflight map[string]int
	history  map[string]*historyRing
	quality  map[string]float64
}

// NewTracker creates a request tracker feeding the given stores. The service
// store may be nil when only provider-level accounting is wanted.
func NewTracker(cfg TrackerConfig, providerStats, serviceStats *Store, logger *logrus.Logger) *Tracker {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.MaxRequestAge <= 0 {
		cfg.MaxRequestAge = DefaultMaxRequestAge
	}
	if cfg.QualityAlpha <= 0 || cfg.QualityAlpha > 1 {
		cfg.QualityAlpha = DefaultQualityAlpha
	}
	return &Tracker{
		cfg:           cfg,
		logger:        logger,
		providerStats: providerStats,
		serviceStats:  serviceStats,
		active:        make(map[string]*ActiveRequest),
		inflight:      make(map[string]int),
		history:       make(map[string]*historyRing),
		quality:       make(map[string]float64),
	}
}

// TrackStart registers an in-flight request and bumps the provider's
// concurrency counter.
func (t *Tracker) TrackStart(requestID, provider, model, service string) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.active[requestID]; exists {
		t.logger.WithField("request_id", requestID).Warn("TrackStart called twice for the same request, ignoring")
		return
	}
	t.active[requestID] = &ActiveRequest{
		ID:        requestID,
		Provider:  provider,
		Model:     model,
		Service:   service,
		StartedAt: time.Now(),
		HeapBytes: mem.HeapAlloc,
	}
	t.inflight[provider]++
}

// TrackComplete finishes an in-flight request: measures its duration, feeds
// the provider and service stores, appends a history record, folds the
// observed quality into the provider's running estimate, and decrements the
// concurrency counter. An unknown request ID is logged and ignored.
func (t *Tracker) TrackComplete(requestID string, success bool, errorType string, quality float64) {
	t.mu.Lock()
	req, ok := t.active[requestID]
	if !ok {
		t.mu.Unlock()
		t.logger.WithField("request_id", requestID).Warn("TrackComplete called for unknown request, ignoring")
		return
	}
	delete(t.active, requestID)
	if t.inflight[req.Provider] > 0 {
		t.inflight[req.Provider]--
	}

	duration := time.Since(req.StartedAt)
	if duration < minDuration {
		duration = minDuration
	}

	ring := t.history[req.Provider]
	if ring == nil {
		ring = newHistoryRing(t.cfg.HistorySize)
		t.history[req.Provider] = ring
	}
	ring.append(HistoryRecord{
		RequestID: requestID,
		Provider:  req.Provider,
		Service:   req.Service,
		Duration:  duration,
		Success:   success,
		ErrorType: errorType,
		Timestamp: time.Now(),
	})

	if quality > 0 {
		prev, seen := t.quality[req.Provider]
		if !seen {
			t.quality[req.Provider] = quality
		} else {
			t.quality[req.Provider] = (1-t.cfg.QualityAlpha)*prev + t.cfg.QualityAlpha*quality
		}
	}
	t.mu.Unlock()

	t.providerStats.Record(req.Provider, duration, success, errorType)
	if t.serviceStats != nil && req.Service != "" {
		t.serviceStats.Record(req.Service, duration, success, errorType)
	}
}

// InFlight returns the current concurrency of one provider.
func (t *Tracker) InFlight(provider string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inflight[provider]
}

// InFlightAll returns a snapshot of per-provider concurrency counters.
func (t *Tracker) InFlightAll() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]int, len(t.inflight))
	for provider, n := range t.inflight {
		out[provider] = n
	}
	return out
}

// ActiveRequests returns a snapshot of every in-flight request.
func (t *Tracker) ActiveRequests() []ActiveRequest {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]ActiveRequest, 0, len(t.active))
	for _, req := range t.active {
		out = append(out, *req)
	}
	return out
}

// Quality returns the learned quality estimate for a provider, or the
// default when nothing has been observed.
func (t *Tracker) Quality(provider string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if q, ok := t.quality[provider]; ok {
		return q
	}
	return defaultQuality
}

// QualityOr returns the learned quality estimate, the caller's fallback when
// nothing has been learned, or the package default when neither exists.
func (t *Tracker) QualityOr(provider string, fallback float64) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	if q, ok := t.quality[provider]; ok {
		return q
	}
	if fallback > 0 {
		return fallback
	}
	return defaultQuality
}

// History returns up to limit most recent records for one provider, oldest
// first. limit <= 0 returns everything retained.
func (t *Tracker) History(provider string, limit int) []HistoryRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	ring := t.history[provider]
	if ring == nil {
		return nil
	}
	return ring.tail(limit)
}

// RecentHistory returns up to limit most recent records across all
// providers, oldest first.
func (t *Tracker) RecentHistory(limit int) []HistoryRecord {
	t.mu.Lock()
	var all []HistoryRecord
	for _, ring := range t.history {
		all = append(all, ring.tail(0)...)
	}
	t.mu.Unlock()

	sortRecords(all)
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all
}

// CleanupStale drops active requests older than the configured maximum age
// and releases their concurrency slots. This is a leak-prevention safeguard
// for callers that abandoned a request without calling TrackComplete.
func (t *Tracker) CleanupStale() int {
	cutoff := time.Now().Add(-t.cfg.MaxRequestAge)

	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for id, req := range t.active {
		if req.StartedAt.Before(cutoff) {
			delete(t.active, id)
			if t.inflight[req.Provider] > 0 {
				t.inflight[req.Provider]--
			}
			removed++
			t.logger.WithFields(logrus.Fields{
				"request_id": id,
				"provider":   req.Provider,
				"age":        time.Since(req.StartedAt).String(),
			}).Warn("Dropped stale in-flight request")
		}
	}
	return removed
}

func sortRecords(records []HistoryRecord) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
}
