// File: internal/harness/loop.go
package harness

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/Dimmmas28/wabe/internal/agent"
	"github.com/Dimmmas28/wabe/internal/backoff"
	"github.com/Dimmmas28/wabe/internal/browser"
	"github.com/Dimmmas28/wabe/internal/config"
	"github.com/Dimmmas28/wabe/internal/mcp"
	"github.com/Dimmmas28/wabe/internal/parser"
)

// Phase is the coarse position of a loop within one step.
type Phase int

const (
	PhaseRunning Phase = iota
	PhaseAwaitingAgent
	PhaseExecutingAction
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingAgent:
		return "awaiting_agent"
	case PhaseExecutingAction:
		return "executing_action"
	case PhaseFinished:
		return "finished"
	default:
		return "running"
	}
}

// StepState is the mutable state of one task loop.
type StepState struct {
	StepIndex              int
	MaxSteps               int
	CurrentDelay           time.Duration
	ConsecutiveSuccesses   int
	ConsecutiveParseErrors int
	BrowserClosed          bool
	Success                bool
	ErrorMessage           string
	Thoughts               []string
	Phase                  Phase
}

// Browser is the part of the tool facade the loop drives.
type Browser interface {
	Snapshot(ctx context.Context) string
	Tools(ctx context.Context) []mcp.ToolSchema
	LatestScreenshotJPEG() (*browser.EncodedImage, error)
	Execute(ctx context.Context, tool string, params map[string]interface{}) browser.ActionResult
	CountedActions() int
	OutputDir() string
}

// LoopOptions tunes a StepLoop.
type LoopOptions struct {
	MaxSteps                  int
	SnapshotMaxChars          int
	AgentTimeout              time.Duration
	MaxConsecutiveParseErrors int
	CloseRequiresHistory      bool
	ValidationErrorsFatal     bool
	SaveDebugSnapshots        bool
	SaveDebugResponses        bool
}

// LoopOptionsFrom maps harness configuration onto loop options.
func LoopOptionsFrom(cfg config.HarnessConfig) LoopOptions {
	return LoopOptions{
		MaxSteps:                  cfg.MaxSteps,
		SnapshotMaxChars:          cfg.SnapshotMaxChars,
		AgentTimeout:              cfg.AgentTimeout,
		MaxConsecutiveParseErrors: cfg.MaxConsecutiveParseErrors,
		CloseRequiresHistory:      cfg.CloseRequiresHistory,
		ValidationErrorsFatal:     cfg.ValidationErrorsFatal,
		SaveDebugSnapshots:        cfg.SaveDebugSnapshots,
		SaveDebugResponses:        cfg.SaveDebugResponses,
	}
}

var errAgentTimeout = errors.New("agent response timed out")

// StepLoop drives one task: observe the page, ask the agent, act, repeat.
type StepLoop struct {
	task    Task
	browser Browser
	agent   agent.Client
	parser  *parser.Parser
	backoff *backoff.Controller
	opts    LoopOptions
	logger  *zap.Logger
}

// NewStepLoop wires a loop for one task.
func NewStepLoop(task Task, b Browser, client agent.Client, ctrl *backoff.Controller, opts LoopOptions, logger *zap.Logger) *StepLoop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxConsecutiveParseErrors <= 0 {
		opts.MaxConsecutiveParseErrors = 3
	}
	if ctrl == nil {
		ctrl = backoff.New(0, 1)
	}
	return &StepLoop{
		task:    task,
		browser: b,
		agent:   client,
		parser:  parser.New(logger),
		backoff: ctrl,
		opts:    opts,
		logger:  logger.Named("loop"),
	}
}

// Run executes at most MaxSteps iterations and returns the final state.
// Every exit path leaves the state in PhaseFinished.
func (l *StepLoop) Run(ctx context.Context) StepState {
	state := StepState{MaxSteps: l.opts.MaxSteps, Thoughts: []string{}}
	defer func() {
		l.logger.Info("Task loop finished",
			zap.Bool("success", state.Success),
			zap.Int("steps", state.StepIndex),
			zap.String("error", state.ErrorMessage))
	}()

	tools := l.browser.Tools(ctx)
	l.logger.Info("Retrieved tool catalogue", zap.Int("tools", len(tools)))
	taskPrompt := TaskPrompt(l.task, tools)
	toolsSection := ToolsSection(tools)

	exchanged := false
	feedback := ""
	exhausted := true
	// retry holds an action the tool server rejected with a rate limit.
	var retry *parser.Decision

steps:
	for i := 0; i < l.opts.MaxSteps; i++ {
		state.StepIndex = i + 1
		state.Phase = PhaseRunning
		log := l.logger.With(zap.Int("step", state.StepIndex), zap.Int("max_steps", l.opts.MaxSteps))
		log.Info("Starting step")

		if i > 0 {
			if delay := l.backoff.Current(); delay > 0 {
				log.Debug("Waiting before next step", zap.Duration("delay", delay))
			}
			if err := l.backoff.Wait(ctx); err != nil {
				state.ErrorMessage = fmt.Sprintf("Task cancelled: %v", err)
				exhausted = false
				break
			}
		} else if err := ctx.Err(); err != nil {
			state.ErrorMessage = fmt.Sprintf("Task cancelled: %v", err)
			exhausted = false
			break
		}

		var decision parser.Decision
		if retry != nil {
			decision, retry = *retry, nil
			log.Info("Retrying rate-limited action", zap.String("tool", decision.Tool))
		} else {
			snapshot := l.browser.Snapshot(ctx)
			truncated := TruncateSnapshot(snapshot, l.opts.SnapshotMaxChars)
			var text string
			if !exchanged {
				text = FirstStepText(taskPrompt, truncated)
			} else {
				text = FollowUpText(toolsSection, truncated, feedback)
			}
			if l.opts.SaveDebugSnapshots {
				l.writeDebug(fmt.Sprintf("step_%03d_snapshot.txt", state.StepIndex), []byte(snapshot))
			}

			msg := agent.Message{Text: text, NewConversation: !exchanged}
			if img, err := l.browser.LatestScreenshotJPEG(); err != nil {
				log.Warn("Could not prepare screenshot", zap.Error(err))
			} else if img == nil {
				log.Warn("No screenshot available")
			} else {
				msg.Image = &agent.Attachment{Name: img.Name, MimeType: img.MimeType, Data: img.Data}
			}

			state.Phase = PhaseAwaitingAgent
			reply, err := l.send(ctx, msg)
			if err != nil {
				switch {
				case errors.Is(err, errAgentTimeout):
					state.ErrorMessage = fmt.Sprintf("Agent response timed out after %s", l.opts.AgentTimeout)
					log.Error("Agent timed out", zap.Duration("timeout", l.opts.AgentTimeout))
					exhausted = false
					break steps
				case ctx.Err() != nil:
					state.ErrorMessage = fmt.Sprintf("Task cancelled: %v", ctx.Err())
					exhausted = false
					break steps
				case backoff.IsRateLimit(err):
					delay := l.backoff.OnRateLimit()
					log.Warn("Agent rate limited, backing off", zap.Duration("delay", delay), zap.Error(err))
					continue
				case strings.Contains(strings.ToLower(err.Error()), "timeout"):
					state.ErrorMessage = fmt.Sprintf("Agent request timed out: %v", err)
					log.Error("Agent request timed out", zap.Error(err))
					exhausted = false
					break steps
				default:
					state.ErrorMessage = fmt.Sprintf("Failed to communicate with agent: %v", err)
					log.Error("Agent communication failed", zap.Error(err))
					exhausted = false
					break steps
				}
			}

			exchanged = true
			feedback = ""
			if delay, changed := l.backoff.OnSuccess(); changed {
				log.Info("Decreased step delay", zap.Duration("delay", delay))
			}

			decision = l.parser.Parse(reply)
			if decision.Thought != "" {
				state.Thoughts = append(state.Thoughts, fmt.Sprintf("Step %d: %s", state.StepIndex, decision.Thought))
			}
			if l.opts.SaveDebugResponses {
				l.writeDebugResponse(state.StepIndex, reply, decision)
			}
			log.Info("Agent decision", zap.String("tool", decision.Tool))

			if decision.IsFinish() {
				state.Success = true
				exhausted = false
				break
			}

			if decision.IsError() {
				state.ConsecutiveParseErrors++
				log.Warn("Could not parse agent response", zap.Int("consecutive", state.ConsecutiveParseErrors))
				if state.ConsecutiveParseErrors >= l.opts.MaxConsecutiveParseErrors {
					state.ErrorMessage = fmt.Sprintf("Task failed after %d consecutive parse errors", state.ConsecutiveParseErrors)
					exhausted = false
					break
				}
				feedback = ParseFailureFeedback(decision.ErrorType())
				continue
			}
			state.ConsecutiveParseErrors = 0
		}

		state.Phase = PhaseExecutingAction
		prior := l.browser.CountedActions()
		res := l.browser.Execute(ctx, decision.Tool, decision.Params)

		if res.BrowserClosed {
			state.BrowserClosed = true
			state.Success = l.closeSucceeds(prior)
			if !state.Success {
				state.ErrorMessage = "Browser closed before any action was taken"
			}
			log.Info("Browser closed by agent", zap.Int("prior_actions", prior), zap.Bool("success", state.Success))
			exhausted = false
			break
		}
		if res.Success {
			if delay, changed := l.backoff.OnSuccess(); changed {
				log.Info("Decreased step delay", zap.Duration("delay", delay))
			}
			continue
		}

		switch {
		case res.IsBrowserGone():
			state.BrowserClosed = true
			state.Success = l.closeSucceeds(prior)
			state.ErrorMessage = fmt.Sprintf("Browser session lost during action: %s", res.Error)
			log.Error("Browser session lost", zap.Error(res.Err))
			exhausted = false
			break steps
		case res.IsValidationFailure() && l.opts.ValidationErrorsFatal:
			state.ErrorMessage = fmt.Sprintf("Invalid tool call: %s", res.Error)
			log.Error("Agent issued an invalid tool call", zap.Error(res.Err))
			exhausted = false
			break steps
		case backoff.IsRateLimit(res.Err) || backoff.IsRateLimitText(res.Error):
			delay := l.backoff.OnRateLimit()
			log.Warn("Tool server rate limited, backing off", zap.Duration("delay", delay), zap.String("error", res.Error))
			retry = &decision
		default:
			feedback = ActionFailureFeedback(res.Tool, res.Params, res.Error)
		}
	}

	if exhausted && !state.Success && state.ErrorMessage == "" && state.StepIndex >= l.opts.MaxSteps {
		state.ErrorMessage = fmt.Sprintf("Reached max steps (%d) without finishing", l.opts.MaxSteps)
	}
	state.Phase = PhaseFinished
	state.CurrentDelay = l.backoff.Current()
	state.ConsecutiveSuccesses = l.backoff.ConsecutiveSuccesses()
	return state
}

func (l *StepLoop) closeSucceeds(priorActions int) bool {
	return !l.opts.CloseRequiresHistory || priorActions > 0
}

// send bounds a single agent exchange by AgentTimeout. A client that
// ignores cancellation is abandoned once the deadline passes.
func (l *StepLoop) send(ctx context.Context, msg agent.Message) (string, error) {
	if l.opts.AgentTimeout <= 0 {
		return l.agent.Send(ctx, msg)
	}
	sendCtx, cancel := context.WithTimeout(ctx, l.opts.AgentTimeout)
	defer cancel()

	type reply struct {
		text string
		err  error
	}
	done := make(chan reply, 1)
	go func() {
		text, err := l.agent.Send(sendCtx, msg)
		done <- reply{text: text, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && ctx.Err() == nil && errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
			return "", errAgentTimeout
		}
		return r.text, r.err
	case <-sendCtx.Done():
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", errAgentTimeout
	}
}

func (l *StepLoop) writeDebug(name string, data []byte) {
	path := filepath.Join(l.browser.OutputDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		l.logger.Warn("Failed to write debug artifact", zap.String("path", path), zap.Error(err))
	}
}

func (l *StepLoop) writeDebugResponse(step int, raw string, d parser.Decision) {
	data, err := json.MarshalIndent(map[string]interface{}{
		"step":         step,
		"raw_response": raw,
		"parsed":       d,
	}, "", "  ")
	if err != nil {
		l.logger.Warn("Failed to encode debug response", zap.Error(err))
		return
	}
	l.writeDebug(fmt.Sprintf("step_%03d_response.json", step), data)
}
