// Package sched runs the instrument's periodic tasks: sampling, display
// refresh and discovery announcements each tick on their own cadence.
package sched

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// task is one periodic job.
type task struct {
	name     string
	interval time.Duration
	run      func()
}

// Scheduler drives a fixed set of periodic tasks until its context ends.
// Tasks are registered before Run and never removed.
type Scheduler struct {
	log   *logrus.Logger
	tasks []task
}

// New creates an empty scheduler.
func New(log *logrus.Logger) *Scheduler {
	return &Scheduler{log: log}
}

// Add registers a task. Intervals below one millisecond are clamped to it.
func (s *Scheduler) Add(name string, interval time.Duration, run func()) {
	if interval < time.Millisecond {
		interval = time.Millisecond
	}
	s.tasks = append(s.tasks, task{name: name, interval: interval, run: run})
}

// Run executes every task on its own ticker until the context is cancelled.
// A task that overruns its interval skips ticks instead of piling up.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, t := range s.tasks {
		wg.Add(1)
		go func(t task) {
			defer wg.Done()
			s.log.WithFields(logrus.Fields{
				"task":     t.name,
				"interval": t.interval,
			}).Debug("task started")

			ticker := time.NewTicker(t.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					t.run()
				}
			}
		}(t)
	}
	wg.Wait()
}
