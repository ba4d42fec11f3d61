// File: internal/harness/scheduler.go
package harness

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// TaskRunner runs one task to completion.
type TaskRunner interface {
	RunTask(ctx context.Context, task Task, index int) TaskResult
}

// ResultSink receives every finished result, for example a database.
type ResultSink interface {
	PersistResult(ctx context.Context, runID string, result TaskResult) error
}

// Scheduler runs tasks concurrently under a fixed ceiling. A failing or
// panicking task yields a failed result and never affects its siblings.
type Scheduler struct {
	runner      TaskRunner
	maxParallel int
	defaultMax  int
	logger      *zap.Logger
	sink        ResultSink
	runID       string
	now         func() time.Time

	running atomic.Int64
	peak    atomic.Int64
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithResultSink forwards each result to sink under runID.
func WithResultSink(sink ResultSink, runID string) SchedulerOption {
	return func(s *Scheduler) {
		s.sink = sink
		s.runID = runID
	}
}

// WithDefaultMaxSteps sets the step budget reported for tasks that fail
// before producing their own result.
func WithDefaultMaxSteps(n int) SchedulerOption {
	return func(s *Scheduler) { s.defaultMax = n }
}

// NewScheduler creates a scheduler with at most maxParallel tasks in flight.
func NewScheduler(runner TaskRunner, maxParallel int, logger *zap.Logger, opts ...SchedulerOption) *Scheduler {
	if maxParallel < 1 {
		maxParallel = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		runner:      runner,
		maxParallel: maxParallel,
		defaultMax:  10,
		logger:      logger.Named("scheduler"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes all tasks and returns their results in input order.
func (s *Scheduler) Run(ctx context.Context, tasks []Task) []TaskResult {
	results := make([]TaskResult, len(tasks))
	sem := semaphore.NewWeighted(int64(s.maxParallel))
	var g errgroup.Group

	s.logger.Info("Running tasks", zap.Int("tasks", len(tasks)), zap.Int("max_parallel", s.maxParallel))
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			if err := sem.Acquire(ctx, 1); err != nil {
				results[i] = failedResult(task, i, s.defaultMax, s.now(), err)
				return nil
			}
			defer sem.Release(1)

			s.enter()
			results[i] = s.runOne(ctx, task, i)
			s.running.Add(-1)

			s.persist(ctx, results[i])
			return nil
		})
	}
	_ = g.Wait()

	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
		}
	}
	s.logger.Info("All tasks finished", zap.Int("succeeded", succeeded), zap.Int("total", len(results)))
	return results
}

// PeakConcurrency is the largest number of tasks observed in flight at once.
func (s *Scheduler) PeakConcurrency() int { return int(s.peak.Load()) }

func (s *Scheduler) enter() {
	n := s.running.Add(1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			return
		}
	}
}

func (s *Scheduler) runOne(ctx context.Context, task Task, index int) (result TaskResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Task panicked",
				zap.String("task_id", task.TaskID),
				zap.Int("task_index", index),
				zap.Any("panicValue", r),
				zap.String("stack", string(debug.Stack())),
			)
			result = failedResult(task, index, s.defaultMax, s.now(), fmt.Errorf("task panicked: %v", r))
		}
	}()
	return s.runner.RunTask(ctx, task, index)
}

func (s *Scheduler) persist(ctx context.Context, result TaskResult) {
	if s.sink == nil {
		return
	}
	if err := s.sink.PersistResult(context.WithoutCancel(ctx), s.runID, result); err != nil {
		s.logger.Warn("Failed to persist task result", zap.String("task_id", result.TaskID), zap.Error(err))
	}
}
