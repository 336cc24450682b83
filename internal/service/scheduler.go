package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is one periodic duty. Every task is written to be re-entrant and
// idempotent against concurrent execution of the others; no ordering between
// tasks is assumed.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

// Scheduler drives periodic tasks on a small fixed-size worker pool so one
// slow store call cannot multiply goroutines without bound. When every
// worker is busy a tick is skipped, not queued: the next tick covers it.
type Scheduler struct {
	workers int
	tasks   []Task
	log     *zap.Logger
}

// NewScheduler creates a Scheduler with the given pool size.
func NewScheduler(workers int, log *zap.Logger) *Scheduler {
	return &Scheduler{workers: workers, log: log}
}

// Add registers a periodic task. Must be called before Run.
func (s *Scheduler) Add(name string, interval time.Duration, run func(ctx context.Context)) {
	s.tasks = append(s.tasks, Task{Name: name, Interval: interval, Run: run})
}

// Run blocks until ctx is canceled, then waits for in-flight tasks.
func (s *Scheduler) Run(ctx context.Context) {
	runs := make(chan Task)
	var wg sync.WaitGroup

	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case t := <-runs:
					t.Run(ctx)
				}
			}
		}()
	}

	for _, t := range s.tasks {
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			ticker := time.NewTicker(t.Interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					select {
					case runs <- t:
					case <-ctx.Done():
						return
					default:
						s.log.Debug("worker pool saturated, skipping tick",
							zap.String("task", t.Name))
					}
				}
			}
		}(t)
	}

	<-ctx.Done()
	wg.Wait()
}
