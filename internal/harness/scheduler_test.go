// File: internal/harness/scheduler_test.go
package harness

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// funcRunner adapts a function to TaskRunner.
type funcRunner func(ctx context.Context, task Task, index int) TaskResult

func (f funcRunner) RunTask(ctx context.Context, task Task, index int) TaskResult {
	return f(ctx, task, index)
}

type mockSink struct {
	mock.Mock
}

func (m *mockSink) PersistResult(ctx context.Context, runID string, result TaskResult) error {
	args := m.Called(ctx, runID, result)
	return args.Error(0)
}

func makeTasks(n int) []Task {
	tasks := make([]Task, n)
	for i := range tasks {
		tasks[i] = Task{TaskID: fmt.Sprintf("task-%02d", i), Website: "https://example.com", Task: "t"}
	}
	return tasks
}

func TestSchedulerCeilingAndPanicIsolation(t *testing.T) {
	var mu sync.Mutex
	inFlight, maxSeen := 0, 0

	runner := funcRunner(func(ctx context.Context, task Task, index int) TaskResult {
		mu.Lock()
		inFlight++
		if inFlight > maxSeen {
			maxSeen = inFlight
		}
		mu.Unlock()
		defer func() {
			mu.Lock()
			inFlight--
			mu.Unlock()
		}()

		time.Sleep(10 * time.Millisecond)
		if index == 4 {
			panic("renderer exploded")
		}
		return TaskResult{TaskID: task.TaskID, Success: true, StepCount: index}
	})

	core, logs := observer.New(zap.ErrorLevel)
	s := NewScheduler(runner, 3, zap.New(core))
	results := s.Run(context.Background(), makeTasks(10))

	require.Len(t, results, 10)
	for i, r := range results {
		assert.Equal(t, fmt.Sprintf("task-%02d", i), r.TaskID, "results keep input order")
		if i == 4 {
			assert.False(t, r.Success)
			assert.Equal(t, "task panicked: renderer exploded", r.ErrorMessage)
			assert.Equal(t, 10, r.MaxSteps)
			continue
		}
		assert.True(t, r.Success, "sibling %d unaffected", i)
		assert.Equal(t, i, r.StepCount)
	}

	assert.LessOrEqual(t, maxSeen, 3)
	assert.LessOrEqual(t, s.PeakConcurrency(), 3)
	assert.GreaterOrEqual(t, s.PeakConcurrency(), 1)
	assert.Equal(t, 1, logs.FilterMessage("Task panicked").Len())
}

func TestSchedulerSequential(t *testing.T) {
	var order []int
	runner := funcRunner(func(_ context.Context, task Task, index int) TaskResult {
		order = append(order, index)
		return TaskResult{TaskID: task.TaskID}
	})

	s := NewScheduler(runner, 0, nil)
	s.Run(context.Background(), makeTasks(4))

	assert.Len(t, order, 4)
	assert.Equal(t, 1, s.PeakConcurrency(), "ceiling below one is raised to one")
}

func TestSchedulerResultSink(t *testing.T) {
	sink := new(mockSink)
	sink.On("PersistResult", mock.Anything, "run-1", mock.MatchedBy(func(r TaskResult) bool { return r.TaskID == "task-00" })).
		Return(nil).Once()
	sink.On("PersistResult", mock.Anything, "run-1", mock.MatchedBy(func(r TaskResult) bool { return r.TaskID == "task-01" })).
		Return(errors.New("db down")).Once()

	runner := funcRunner(func(_ context.Context, task Task, _ int) TaskResult {
		return TaskResult{TaskID: task.TaskID, Success: true}
	})

	core, logs := observer.New(zap.WarnLevel)
	results := NewScheduler(runner, 2, zap.New(core), WithResultSink(sink, "run-1")).Run(context.Background(), makeTasks(2))

	assert.True(t, results[0].Success)
	assert.True(t, results[1].Success, "persistence failures do not fail the task")
	sink.AssertExpectations(t)
	assert.Equal(t, 1, logs.FilterMessage("Failed to persist task result").Len())
}

func TestSchedulerCancelledContext(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	runner := funcRunner(func(_ context.Context, task Task, _ int) TaskResult {
		started <- struct{}{}
		<-release
		return TaskResult{TaskID: task.TaskID, Success: true}
	})

	ctx, cancel := context.WithCancel(context.Background())
	s := NewScheduler(runner, 1, nil, WithDefaultMaxSteps(25))

	done := make(chan []TaskResult)
	go func() { done <- s.Run(ctx, makeTasks(3)) }()

	<-started
	cancel()
	// Waiters on the semaphore give up; the running task still finishes.
	time.Sleep(20 * time.Millisecond)
	close(release)

	results := <-done
	require.Len(t, results, 3)
	succeeded := 0
	for _, r := range results {
		if r.Success {
			succeeded++
			continue
		}
		assert.ErrorContains(t, errors.New(r.ErrorMessage), "context canceled")
		assert.Equal(t, 25, r.MaxSteps)
	}
	assert.Equal(t, 1, succeeded)
}
