// File: internal/harness/report.go
package harness

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/Dimmmas28/wabe/internal/browser"
)

// TaskResult is the outcome of one task, produced exactly once.
type TaskResult struct {
	TaskID              string   `json:"task_id"`
	TaskIDWithTimestamp string   `json:"task_id_with_timestamp"`
	Website             string   `json:"website"`
	TaskDescription     string   `json:"task_description"`
	Level               string   `json:"level"`
	Success             bool     `json:"success"`
	StepCount           int      `json:"steps_taken"`
	MaxSteps            int      `json:"max_steps"`
	Thoughts            []string `json:"thoughts"`
	ActionHistory       []string `json:"action_history"`
	Screenshots         []string `json:"screenshots"`
	ErrorMessage        string   `json:"error,omitempty"`
}

// failedResult describes a task that never produced its own result.
func failedResult(task Task, index, maxSteps int, now time.Time, err error) TaskResult {
	id := task.TaskID
	if id == "" {
		id = fmt.Sprintf("task_%d", index)
	}
	if task.MaxSteps > 0 {
		maxSteps = task.MaxSteps
	}
	return TaskResult{
		TaskID:              id,
		TaskIDWithTimestamp: fmt.Sprintf("%s_%s", id, now.Format("20060102_150405")),
		Website:             task.Website,
		TaskDescription:     task.Task,
		Level:               task.LevelOrUnknown(),
		MaxSteps:            maxSteps,
		Thoughts:            []string{},
		ActionHistory:       []string{},
		Screenshots:         []string{},
		ErrorMessage:        err.Error(),
	}
}

// Report aggregates the results of one run.
type Report struct {
	SuccessfulTasks int          `json:"successful_tasks"`
	TotalTasks      int          `json:"total_tasks"`
	SuccessRate     float64      `json:"success_rate"`
	Tasks           []TaskResult `json:"tasks"`
}

// Summarize builds the run report.
func Summarize(results []TaskResult) Report {
	r := Report{TotalTasks: len(results), Tasks: results}
	if r.Tasks == nil {
		r.Tasks = []TaskResult{}
	}
	for _, res := range results {
		if res.Success {
			r.SuccessfulTasks++
		}
	}
	if r.TotalTasks > 0 {
		r.SuccessRate = float64(r.SuccessfulTasks) / float64(r.TotalTasks)
	}
	return r
}

// WriteReport writes the report as indented JSON, creating parent directories.
func WriteReport(path string, report Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

// CleanupIncomplete removes task directories under resultsDir that have no
// session record. A missing resultsDir is not an error.
func CleanupIncomplete(resultsDir string, logger *zap.Logger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	entries, err := os.ReadDir(resultsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read results directory: %w", err)
	}

	var removed []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(resultsDir, e.Name())
		if _, err := os.Stat(filepath.Join(dir, browser.ResultFileName)); err == nil {
			continue
		}
		logger.Warn("Removing incomplete result directory", zap.String("dir", e.Name()))
		if err := os.RemoveAll(dir); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", dir, err)
		}
		removed = append(removed, e.Name())
	}
	return removed, nil
}
