// File: internal/browser/session.go
package browser

import (
	"fmt"
	"os"
	"path/filepath"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// ResultFileName is the session record written into each task output directory.
const ResultFileName = "result.json"

const sessionTimestampLayout = "2006-01-02T15:04:05.000000"

// SessionInfo carries the task-level fields of a session record.
type SessionInfo struct {
	TaskID        string
	Task          string
	FinalResponse string
	Thoughts      []string
}

// SessionMetadata summarizes the browser side of a session.
type SessionMetadata struct {
	Timestamp          string `json:"timestamp"`
	TotalSteps         int    `json:"total_steps"`
	FinalURL           string `json:"final_url"`
	ScreenshotCount    int    `json:"screenshot_count"`
	ScreenshotFailures int    `json:"screenshot_failures"`
}

// SessionRecord is the on-disk result.json layout.
type SessionRecord struct {
	TaskID              string          `json:"task_id"`
	Task                string          `json:"task"`
	FinalResultResponse string          `json:"final_result_response"`
	ActionHistory       []string        `json:"action_history"`
	Thoughts            []string        `json:"thoughts"`
	Screenshots         []string        `json:"screenshots"`
	Metadata            SessionMetadata `json:"metadata"`
}

// SaveSession writes result.json for the task and returns what was written.
func (f *Facade) SaveSession(info SessionInfo) (*SessionRecord, error) {
	final := info.FinalResponse
	if final == "" {
		final = fmt.Sprintf("Completed %d actions", f.StepCount())
	}
	thoughts := info.Thoughts
	if thoughts == nil {
		thoughts = []string{}
	}

	screenshots := f.Screenshots()
	rec := &SessionRecord{
		TaskID:              info.TaskID,
		Task:                info.Task,
		FinalResultResponse: final,
		ActionHistory:       f.History(),
		Thoughts:            thoughts,
		Screenshots:         screenshots,
		Metadata: SessionMetadata{
			Timestamp:          f.now().Format(sessionTimestampLayout),
			TotalSteps:         f.StepCount(),
			FinalURL:           f.CurrentURL(),
			ScreenshotCount:    len(screenshots),
			ScreenshotFailures: f.ScreenshotFailures(),
		},
	}
	if rec.Screenshots == nil {
		rec.Screenshots = []string{}
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode session: %w", err)
	}
	path := filepath.Join(f.opts.OutputDir, ResultFileName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write session file: %w", err)
	}
	f.logger.Info("Saved session", zap.String("path", path), zap.Int("actions", len(rec.ActionHistory)))
	return rec, nil
}
