// File: internal/browser/facade.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Dimmmas28/wabe/internal/config"
	"github.com/Dimmmas28/wabe/internal/mcp"
)

const (
	toolInstall    = "browser_install"
	toolNavigate   = "browser_navigate"
	toolSnapshot   = "browser_snapshot"
	toolScreenshot = "browser_take_screenshot"
)

// ToolCaller is the slice of the protocol client the facade needs.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.ToolResult, error)
	ListTools(ctx context.Context, forceRefresh bool) ([]mcp.ToolSchema, error)
}

// Options configures a Facade.
type Options struct {
	OutputDir               string
	InstallBrowser          bool
	ScreenshotAttempts      int
	ScreenshotRetryInterval time.Duration
	MaxWidth                int
	JPEGQuality             int
}

// OptionsFrom derives facade options for one task output directory.
func OptionsFrom(cfg config.Interface, outputDir string) Options {
	return Options{
		OutputDir:               outputDir,
		InstallBrowser:          cfg.ToolServer().InstallBrowser,
		ScreenshotAttempts:      cfg.Screenshot().Attempts,
		ScreenshotRetryInterval: cfg.Screenshot().RetryInterval,
		MaxWidth:                cfg.Screenshot().MaxWidth,
		JPEGQuality:             cfg.Screenshot().JPEGQuality,
	}
}

// ActionResult describes the outcome of one Execute call.
type ActionResult struct {
	Tool          string                 `json:"tool"`
	Params        map[string]interface{} `json:"params"`
	Success       bool                   `json:"success"`
	BrowserClosed bool                   `json:"browser_closed,omitempty"`
	Error         string                 `json:"error,omitempty"`
	Response      *mcp.ToolResult        `json:"-"`
	// Err is the underlying failure, kept for classification by the caller.
	Err error `json:"-"`
}

// Facade layers browser bookkeeping over a tool caller: action history,
// step counting, screenshots and the current URL. One Facade serves one task.
type Facade struct {
	caller ToolCaller
	opts   Options
	logger *zap.Logger

	mu                 sync.Mutex
	records            []ActionRecord
	screenshots        []string
	stepCount          int
	currentURL         string
	screenshotFailures int

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewFacade creates the task output directory and returns a facade writing into it.
func NewFacade(caller ToolCaller, opts Options, logger *zap.Logger) (*Facade, error) {
	if caller == nil {
		return nil, errors.New("tool caller cannot be nil")
	}
	if opts.OutputDir == "" {
		return nil, errors.New("output directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.ScreenshotAttempts <= 0 {
		opts.ScreenshotAttempts = 1
	}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &Facade{
		caller: caller,
		opts:   opts,
		logger: logger.Named("browser"),
		sleep:  sleepContext,
		now:    time.Now,
	}, nil
}

// Start installs the browser when configured, navigates to url and captures
// the step_000 screenshot.
func (f *Facade) Start(ctx context.Context, url string) error {
	if f.opts.InstallBrowser {
		if _, err := f.caller.CallTool(ctx, toolInstall, nil); err != nil {
			var vErr *mcp.ValidationError
			if !errors.As(err, &vErr) || vErr.Kind != mcp.UnknownTool {
				return fmt.Errorf("browser install failed: %w", err)
			}
			f.logger.Debug("Tool server has no install tool, skipping")
		}
	}

	f.logger.Info("Navigating to start page", zap.String("url", url))
	if _, err := f.caller.CallTool(ctx, toolNavigate, map[string]interface{}{"url": url}); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	f.mu.Lock()
	f.currentURL = url
	f.mu.Unlock()

	if _, ok := f.captureScreenshot(ctx, "step_000"); !ok {
		f.logger.Error("Failed to capture initial screenshot", zap.Int("attempts", f.opts.ScreenshotAttempts))
	}
	return nil
}

// Execute dispatches a tool call. Inspection calls are forwarded without
// counting a step; termination calls are never forwarded and instead end
// the session with a final screenshot.
func (f *Facade) Execute(ctx context.Context, tool string, params map[string]interface{}) ActionResult {
	if params == nil {
		params = map[string]interface{}{}
	}
	result := ActionResult{Tool: tool, Params: params}

	switch classifyTool(tool) {
	case kindInspect:
		res, err := f.caller.CallTool(ctx, tool, params)
		if err != nil {
			result.Err, result.Error = err, err.Error()
			f.logger.Warn("Snapshot request failed", zap.Error(err))
			return result
		}
		result.Success, result.Response = true, res
		f.record(FormatAction(tool, params), false)
		return result

	case kindTerminate:
		step := f.nextStep()
		f.logger.Warn("Browser close requested; intercepting", zap.Int("step", step))
		f.captureScreenshot(ctx, fmt.Sprintf("step_%03d_final", step))
		f.record(FormatAction(tool, params), true)
		result.Success, result.BrowserClosed = true, true
		return result
	}

	step := f.nextStep()
	f.logger.Info("Executing action", zap.Int("step", step), zap.String("tool", tool))

	res, err := f.caller.CallTool(ctx, tool, params)
	if err != nil {
		result.Err, result.Error = err, err.Error()
		f.logger.Warn("Action failed", zap.String("tool", tool), zap.Error(err))
		return result
	}
	if res != nil && res.IsError {
		msg := res.Text()
		if msg == "" {
			msg = "tool reported an error"
		}
		result.Error, result.Response = msg, res
		f.logger.Warn("Action reported an error", zap.String("tool", tool), zap.String("error", msg))
		return result
	}

	result.Success, result.Response = true, res
	if isNavigation(tool) {
		if url := firstString(params, "url"); url != "" {
			f.mu.Lock()
			f.currentURL = url
			f.mu.Unlock()
		}
	}
	line := FormatAction(tool, params)
	f.record(line, true)
	f.logger.Info("Action succeeded", zap.String("action", line))

	f.captureScreenshot(ctx, fmt.Sprintf("step_%03d", step))
	return result
}

// Snapshot returns the accessibility snapshot text, or "" on failure.
func (f *Facade) Snapshot(ctx context.Context) string {
	res, err := f.caller.CallTool(ctx, toolSnapshot, nil)
	if err != nil {
		f.logger.Warn("Failed to get snapshot", zap.Error(err))
		return ""
	}
	return res.Text()
}

// Tools returns the discovered catalogue, or nil on failure.
func (f *Facade) Tools(ctx context.Context) []mcp.ToolSchema {
	tools, err := f.caller.ListTools(ctx, false)
	if err != nil {
		f.logger.Warn("Failed to list tools", zap.Error(err))
		return nil
	}
	return tools
}

func (f *Facade) nextStep() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stepCount++
	return f.stepCount
}

func (f *Facade) record(line string, counted bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, ActionRecord{Line: line, Counted: counted})
}

// History returns the action history lines in order.
func (f *Facade) History() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := make([]string, len(f.records))
	for i, r := range f.records {
		lines[i] = r.Line
	}
	return lines
}

// Records returns the tagged action history.
func (f *Facade) Records() []ActionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ActionRecord(nil), f.records...)
}

// CountedActions is the number of step-counting actions recorded so far.
func (f *Facade) CountedActions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.records {
		if r.Counted {
			n++
		}
	}
	return n
}

// Screenshots returns the saved screenshot paths in capture order.
func (f *Facade) Screenshots() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.screenshots...)
}

// StepCount is the number of counted steps dispatched, including a close.
func (f *Facade) StepCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stepCount
}

// CurrentURL is the last URL navigated to.
func (f *Facade) CurrentURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentURL
}

// ScreenshotFailures is the number of captures that failed after all attempts.
func (f *Facade) ScreenshotFailures() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.screenshotFailures
}

// OutputDir is the task output directory.
func (f *Facade) OutputDir() string { return f.opts.OutputDir }

// isFatalTransport reports errors that mean the tool server is gone.
func isFatalTransport(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, mcp.ErrNotRunning) {
		return true
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "closed") || strings.Contains(lower, "disconnected")
}

// IsBrowserGone reports whether an action result means the browser session ended underneath us.
func (r ActionResult) IsBrowserGone() bool { return isFatalTransport(r.Err) }

// IsValidationFailure reports whether the call was rejected by local argument validation.
func (r ActionResult) IsValidationFailure() bool {
	var vErr *mcp.ValidationError
	return errors.As(r.Err, &vErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
