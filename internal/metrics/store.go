package metrics

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultSampleCapacity is the default size of the percentile reservoir.
	DefaultSampleCapacity = 200

	// DefaultRecomputeEvery bounds the amortized cost of percentile
	// recomputation once the reservoir is full.
	DefaultRecomputeEvery = 100

	// minDuration clamps measured durations so that clock granularity never
	// produces a zero or negative sample.
	minDuration = time.Microsecond
)

// Handle identifies an in-progress operation started via StartOperation.
type Handle string

// DisabledHandle is returned when monitoring is disabled. All calls made
// with it are no-ops.
const DisabledHandle Handle = ""

// StoreConfig configures a metrics store.
type StoreConfig struct {
	Enabled        bool  `yaml:"enabled"`
	SampleCapacity int   `yaml:"sample_capacity"`
	RecomputeEvery int   `yaml:"percentile_recompute_every"`
	Seed           int64 `yaml:"random_seed"`
}

// Stats is an immutable snapshot of the running statistics for one subject
// (a provider or a logical service).
type Stats struct {
	Subject         string        `json:"subject"`
	TotalOperations int64         `json:"total_operations"`
	Successes       int64         `json:"successes"`
	Failures        int64         `json:"failures"`
	ErrorRate       float64       `json:"error_rate"`
	MeanDuration    time.Duration `json:"mean_duration"`
	MinDuration     time.Duration `json:"min_duration"`
	MaxDuration     time.Duration `json:"max_duration"`
	P95Duration     time.Duration `json:"p95_duration"`
	SampleSize      int           `json:"sample_size"`
	LastError       string        `json:"last_error,omitempty"`
	LastUpdated     time.Time     `json:"last_updated"`
}

// Overall aggregates statistics across every subject in a store. It is
// derived by summing the per-subject running sums and counts at read time;
// no separately-updated running aggregate exists, so there is no second
// lock domain.
type Overall struct {
	Subjects        int           `json:"subjects"`
	TotalOperations int64         `json:"total_operations"`
	Successes       int64         `json:"successes"`
	Failures        int64         `json:"failures"`
	ErrorRate       float64       `json:"error_rate"`
	MeanDuration    time.Duration `json:"mean_duration"`
	LastUpdated     time.Time     `json:"last_updated"`
}

// entry holds the live statistics for one subject. Each entry carries its
// own mutex so writers for different subjects never contend.
type entry struct {
	mu          sync.Mutex
	subject     string
	total       int64
	successes   int64
	failures    int64
	sum         time.Duration
	min         time.Duration
	max         time.Duration
	errorRate   float64
	p95         time.Duration
	sample      *Reservoir
	lastError   string
	lastUpdated time.Time
}

type pendingOp struct {
	subject   string
	operation string
	start     time.Time
}

// Store maintains per-subject running statistics. Updates for the same
// subject are serialized by a per-entry lock; updates for different subjects
// proceed independently.
type Store struct {
	cfg    StoreConfig
	logger *logrus.Logger

	mu      sync.RWMutex
	entries map[string]*entry
	seq     int64 // per-entry reservoir seed offset

	pending sync.Map // Handle -> *pendingOp
}

// NewStore creates a metrics store.
func NewStore(cfg StoreConfig, logger *logrus.Logger) *Store {
	if cfg.SampleCapacity <= 0 {
		cfg.SampleCapacity = DefaultSampleCapacity
	}
	if cfg.RecomputeEvery <= 0 {
		cfg.RecomputeEvery = DefaultRecomputeEvery
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	return &Store{
		cfg:     cfg,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

// StartOperation records a high-resolution start time and returns a handle
// for the matching EndOperation call. When monitoring is disabled it returns
// DisabledHandle and the operation is not tracked.
func (s *Store) StartOperation(subject, operation string) Handle {
	if !s.cfg.Enabled {
		return DisabledHandle
	}
	h := Handle(uuid.NewString())
	s.pending.Store(h, &pendingOp{
		subject:   subject,
		operation: operation,
		start:     time.Now(),
	})
	return h
}

// EndOperation completes the operation identified by handle and folds its
// duration into the subject's statistics. An unknown handle is logged and
// ignored; instrumentation failures never propagate to the monitored caller.
func (s *Store) EndOperation(handle Handle, subject, operation string, success bool, errMsg string) {
	if handle == DisabledHandle {
		return
	}
	val, ok := s.pending.LoadAndDelete(handle)
	if !ok {
		s.logger.WithFields(logrus.Fields{
			"subject":   subject,
			"operation": operation,
		}).Warn("EndOperation called with unknown handle, ignoring")
		return
	}
	op := val.(*pendingOp)
	duration := time.Since(op.start)
	s.Record(op.subject, duration, success, errMsg)
}

// Record folds one completed operation into the subject's statistics. The
// duration is clamped to a minimum positive epsilon.
func (s *Store) Record(subject string, duration time.Duration, success bool, errMsg string) {
	if duration < minDuration {
		duration = minDuration
	}
	e := s.entryFor(subject)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.total++
	if success {
		e.successes++
	} else {
		e.failures++
		if errMsg != "" {
			e.lastError = errMsg
		}
	}
	e.sum += duration
	if e.min == 0 || duration < e.min {
		e.min = duration
	}
	if duration > e.max {
		e.max = duration
	}
	e.errorRate = float64(e.failures) / float64(e.total)
	e.lastUpdated = time.Now()

	e.sample.Observe(duration, e.total)

	// While the reservoir is filling the percentile is cheap enough to keep
	// exact; once full it is refreshed on a fixed cadence and the last value
	// is served in between.
	if !e.sample.Full() || e.total%int64(s.cfg.RecomputeEvery) == 0 {
		e.p95 = e.sample.Percentile(0.95)
	}
}

// Get returns a snapshot of one subject's statistics.
func (s *Store) Get(subject string) (Stats, bool) {
	s.mu.RLock()
	e, ok := s.entries[subject]
	s.mu.RUnlock()
	if !ok {
		return Stats{}, false
	}
	return e.snapshot(), true
}

// All returns snapshots for every known subject.
func (s *Store) All() map[string]Stats {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make(map[string]Stats, len(entries))
	for _, e := range entries {
		snap := e.snapshot()
		out[snap.Subject] = snap
	}
	return out
}

// Subjects returns the names of every known subject.
func (s *Store) Subjects() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

// Aggregate derives system-wide totals by summing per-subject counters.
func (s *Store) Aggregate() Overall {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var agg Overall
	var sum time.Duration
	for _, e := range entries {
		e.mu.Lock()
		agg.Subjects++
		agg.TotalOperations += e.total
		agg.Successes += e.successes
		agg.Failures += e.failures
		sum += e.sum
		if e.lastUpdated.After(agg.LastUpdated) {
			agg.LastUpdated = e.lastUpdated
		}
		e.mu.Unlock()
	}
	if agg.TotalOperations > 0 {
		agg.ErrorRate = float64(agg.Failures) / float64(agg.TotalOperations)
		agg.MeanDuration = sum / time.Duration(agg.TotalOperations)
	}
	return agg
}

// entryFor returns the entry for subject, creating it on first use.
func (s *Store) entryFor(subject string) *entry {
	s.mu.RLock()
	e, ok := s.entries[subject]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[subject]; ok {
		return e
	}
	s.seq++
	e = &entry{
		subject: subject,
		sample:  NewReservoir(s.cfg.SampleCapacity, rand.New(rand.NewSource(s.cfg.Seed+s.seq))),
	}
	s.entries[subject] = e
	return e
}

func (e *entry) snapshot() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Stats{
		Subject:         e.subject,
		TotalOperations: e.total,
		Successes:       e.successes,
		Failures:        e.failures,
		ErrorRate:       e.errorRate,
		MinDuration:     e.min,
		MaxDuration:     e.max,
		P95Duration:     e.p95,
		SampleSize:      e.sample.Len(),
		LastError:       e.lastError,
		LastUpdated:     e.lastUpdated,
	}
	if e.total > 0 {
		snap.MeanDuration = e.sum / time.Duration(e.total)
	}
	return snap
}
