package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Task is one periodic background job.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

// Scheduler owns the independent periodic background tasks (trend refresh,
// alert sweep, cleanup). All tasks share one cancellation signal so they
// stop together, and a panicking pass never kills the ticker loop.
type Scheduler struct {
	logger *logrus.Logger

	mu      sync.Mutex
	tasks   []Task
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// New creates an empty scheduler.
func New(logger *logrus.Logger) *Scheduler {
	return &Scheduler{logger: logger}
}

// Add registers a periodic task. Tasks added after Start are ignored until
// the next Start.
func (s *Scheduler) Add(name string, interval time.Duration, run func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, Task{Name: name, Interval: interval, Run: run})
}

// Start launches every registered task on its own ticker.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true

	for _, task := range s.tasks {
		if task.Interval <= 0 {
			s.logger.WithField("task", task.Name).Warn("Skipping task with non-positive interval")
			continue
		}
		s.wg.Add(1)
		go s.runLoop(ctx, task)
	}
	s.logger.WithField("tasks", len(s.tasks)).Info("Scheduler started")
}

// Stop cancels all tasks and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) runLoop(ctx context.Context, task Task) {
	defer s.wg.Done()

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx, task)
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, task Task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithFields(logrus.Fields{
				"task":  task.Name,
				"panic": r,
			}).Error("Periodic task panicked")
		}
	}()
	task.Run(ctx)
}
