// File: internal/harness/runner.go
package harness

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Dimmmas28/wabe/internal/agent"
	"github.com/Dimmmas28/wabe/internal/backoff"
	"github.com/Dimmmas28/wabe/internal/browser"
	"github.com/Dimmmas28/wabe/internal/config"
	"github.com/Dimmmas28/wabe/internal/mcp"
	"github.com/Dimmmas28/wabe/internal/observability"
)

const shutdownTimeout = 15 * time.Second

// ToolSession is a started tool server the facade can drive.
type ToolSession interface {
	browser.ToolCaller
	Close(ctx context.Context) error
}

// SessionFactory starts one isolated tool server.
type SessionFactory func(ctx context.Context, logger *zap.Logger) (ToolSession, error)

// AgentFactory returns a fresh agent client; each task gets its own conversation.
type AgentFactory func(task Task) (agent.Client, error)

// LaunchSession returns a SessionFactory backed by a subprocess tool server.
func LaunchSession(cfg config.ToolServerConfig) SessionFactory {
	return func(ctx context.Context, logger *zap.Logger) (ToolSession, error) {
		session, err := mcp.Launch(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return session, nil
	}
}

// HTTPAgent returns an AgentFactory creating HTTP clients for cfg.
func HTTPAgent(cfg config.AgentConfig, logger *zap.Logger) AgentFactory {
	return func(Task) (agent.Client, error) {
		return agent.NewHTTPClient(cfg, logger)
	}
}

// Runner executes single tasks end to end with isolated resources.
type Runner struct {
	cfg      config.Interface
	launch   SessionFactory
	newAgent AgentFactory
	logger   *zap.Logger
	now      func() time.Time
}

// NewRunner creates a runner.
func NewRunner(cfg config.Interface, launch SessionFactory, newAgent AgentFactory, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{cfg: cfg, launch: launch, newAgent: newAgent, logger: logger, now: time.Now}
}

// TimestampedID appends a microsecond timestamp to a task id.
func TimestampedID(taskID string, t time.Time) string {
	return fmt.Sprintf("%s_%s_%06d", taskID, t.Format("20060102_150405"), t.Nanosecond()/1000)
}

// RunTask starts a browser, runs the step loop and saves the session. The
// tool server is always shut down before returning. Failures are reported
// in the result, never returned.
func (r *Runner) RunTask(ctx context.Context, task Task, index int) (result TaskResult) {
	hcfg := r.cfg.Harness()
	maxSteps := task.MaxSteps
	if maxSteps <= 0 {
		maxSteps = hcfg.MaxSteps
	}
	idTS := TimestampedID(task.TaskID, r.now())
	log := observability.ForTask(r.logger, task.TaskID, index)

	result = TaskResult{
		TaskID:              task.TaskID,
		TaskIDWithTimestamp: idTS,
		Website:             task.Website,
		TaskDescription:     task.Task,
		Level:               task.LevelOrUnknown(),
		MaxSteps:            maxSteps,
		Thoughts:            []string{},
		ActionHistory:       []string{},
		Screenshots:         []string{},
	}
	log.Info("Starting task", zap.String("website", task.Website), zap.String("run_id", idTS))

	session, err := r.launch(ctx, log)
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("failed to start tool server: %v", err)
		log.Error("Failed to start tool server", zap.Error(err))
		return result
	}
	defer func() {
		log.Info("Cleaning up browser")
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := session.Close(closeCtx); err != nil {
			log.Warn("Tool server shutdown reported an error", zap.Error(err))
		}
	}()

	outputDir := filepath.Join(hcfg.OutputDir, idTS)
	facade, err := browser.NewFacade(session, browser.OptionsFrom(r.cfg, outputDir), log)
	if err != nil {
		result.ErrorMessage = err.Error()
		return result
	}
	defer func() {
		result.ActionHistory = facade.History()
		result.Screenshots = facade.Screenshots()
	}()

	if err := facade.Start(ctx, task.Website); err != nil {
		result.ErrorMessage = err.Error()
		log.Error("Failed to start browser", zap.Error(err))
		return result
	}

	client, err := r.newAgent(task)
	if err != nil {
		result.ErrorMessage = fmt.Sprintf("failed to create agent client: %v", err)
		return result
	}

	bcfg := r.cfg.Backoff()
	if base, ok := task.BaseDelay(); ok {
		bcfg.BaseDelay = base
	}
	opts := LoopOptionsFrom(hcfg)
	opts.MaxSteps = maxSteps

	state := NewStepLoop(task, facade, client, backoff.NewFromConfig(bcfg), opts, log).Run(ctx)
	result.Success = state.Success
	result.StepCount = state.StepIndex
	result.Thoughts = state.Thoughts
	result.ErrorMessage = state.ErrorMessage

	status := "failed"
	if state.Success {
		status = "completed"
	}
	if _, err := facade.SaveSession(browser.SessionInfo{
		TaskID:        idTS,
		Task:          task.Task,
		FinalResponse: fmt.Sprintf("Task %s after %d steps", status, state.StepIndex),
		Thoughts:      state.Thoughts,
	}); err != nil {
		log.Error("Failed to save session", zap.Error(err))
		if result.ErrorMessage == "" {
			result.ErrorMessage = err.Error()
		}
	}

	logEvaluationSummary(log, task, state, facade.History())
	return result
}

func logEvaluationSummary(log *zap.Logger, task Task, state StepState, history []string) {
	fields := []zap.Field{
		zap.String("task", task.Task),
		zap.Bool("success", state.Success),
		zap.String("steps", fmt.Sprintf("%d/%d", state.StepIndex, state.MaxSteps)),
		zap.String("thoughts", strings.Join(state.Thoughts, " | ")),
		zap.Strings("action_history", history),
	}
	if state.ErrorMessage != "" {
		fields = append(fields, zap.String("error", state.ErrorMessage))
	}
	log.Info("Evaluation summary", fields...)
}
