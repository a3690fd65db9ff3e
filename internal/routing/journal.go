package routing

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// JournalConfig configures the decision journal.
type JournalConfig struct {
	Enabled       bool          `yaml:"enabled"`
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	Retained      int           `yaml:"retained"`
}

// Journal records routing decisions for later correlation with request
// outcomes. Recording is strictly non-blocking: decisions flow through a
// bounded channel into a background flush loop, and when the buffer is full
// the decision is dropped with a warning rather than delaying the caller.
type Journal struct {
	cfg    JournalConfig
	logger *logrus.Logger

	buffer   chan *Decision
	stopChan chan struct{}
	wg       sync.WaitGroup

	mu       sync.RWMutex
	retained []Decision
	recorded int64
	dropped  int64
	stopped  bool
}

// NewJournal creates a decision journal. When disabled, Record is a no-op.
func NewJournal(cfg JournalConfig, logger *logrus.Logger) *Journal {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 10 * time.Second
	}
	if cfg.Retained <= 0 {
		cfg.Retained = 1000
	}

	j := &Journal{
		cfg:      cfg,
		logger:   logger,
		buffer:   make(chan *Decision, cfg.BufferSize),
		stopChan: make(chan struct{}),
	}
	if cfg.Enabled {
		j.wg.Add(1)
		go j.flushLoop()
	}
	return j
}

// Record enqueues a decision without blocking the routing path.
func (j *Journal) Record(decision *Decision) {
	j.mu.RLock()
	enabled := j.cfg.Enabled && !j.stopped
	j.mu.RUnlock()
	if !enabled {
		return
	}

	select {
	case j.buffer <- decision:
	default:
		j.mu.Lock()
		j.dropped++
		j.mu.Unlock()
		j.logger.Warn("Decision journal buffer full, dropping decision")
	}
}

// Recent returns up to limit most recently recorded decisions, newest first.
func (j *Journal) Recent(limit int) []Decision {
	j.mu.RLock()
	defer j.mu.RUnlock()

	n := len(j.retained)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Decision, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, j.retained[i])
	}
	return out
}

// Counts returns how many decisions were recorded and dropped.
func (j *Journal) Counts() (recorded, dropped int64) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.recorded, j.dropped
}

// Stop drains the buffer and stops the flush loop.
func (j *Journal) Stop() {
	j.mu.Lock()
	if !j.cfg.Enabled || j.stopped {
		j.mu.Unlock()
		return
	}
	j.stopped = true
	j.mu.Unlock()

	close(j.stopChan)
	j.wg.Wait()

	for {
		select {
		case d := <-j.buffer:
			j.keep(d)
		default:
			return
		}
	}
}

func (j *Journal) flushLoop() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]*Decision, 0, 100)
	flush := func() {
		for _, d := range batch {
			j.keep(d)
		}
		batch = batch[:0]
	}

	for {
		select {
		case d := <-j.buffer:
			batch = append(batch, d)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-j.stopChan:
			flush()
			return
		}
	}
}

func (j *Journal) keep(d *Decision) {
	j.mu.Lock()
	j.recorded++
	j.retained = append(j.retained, *d)
	if len(j.retained) > j.cfg.Retained {
		j.retained = j.retained[len(j.retained)-j.cfg.Retained:]
	}
	j.mu.Unlock()

	j.logger.WithFields(logrus.Fields{
		"decision_id": d.ID,
		"service":     d.Service,
		"provider":    d.Provider,
		"score":       d.Score,
		"policy":      d.Policy,
		"fallback":    d.Fallback,
	}).Debug("Routing decision recorded")
}
