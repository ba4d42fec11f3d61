// File: internal/harness/report_test.go
package harness

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Dimmmas28/wabe/internal/browser"
)

func TestSummarize(t *testing.T) {
	r := Summarize([]TaskResult{{Success: true}, {Success: false}, {Success: true}, {Success: true}})
	assert.Equal(t, 4, r.TotalTasks)
	assert.Equal(t, 3, r.SuccessfulTasks)
	assert.InDelta(t, 0.75, r.SuccessRate, 1e-9)

	empty := Summarize(nil)
	assert.Zero(t, empty.SuccessRate)
	assert.NotNil(t, empty.Tasks)
}

func TestFailedResult(t *testing.T) {
	now := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)
	r := failedResult(Task{Website: "https://a.example", MaxSteps: 4}, 2, 10, now, errors.New("boom"))

	assert.Equal(t, "task_2", r.TaskID)
	assert.Equal(t, "task_2_20240309_140506", r.TaskIDWithTimestamp)
	assert.Equal(t, 4, r.MaxSteps)
	assert.Equal(t, LevelUnknown, r.Level)
	assert.False(t, r.Success)
	assert.Equal(t, "boom", r.ErrorMessage)
	assert.NotNil(t, r.ActionHistory)
}

func TestWriteReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "summary.json")
	report := Summarize([]TaskResult{{TaskID: "a", Success: true, StepCount: 3, Thoughts: []string{}, ActionHistory: []string{}, Screenshots: []string{}}})

	require.NoError(t, WriteReport(path, report))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.EqualValues(t, 1, decoded["successful_tasks"])
	task := decoded["tasks"].([]interface{})[0].(map[string]interface{})
	assert.EqualValues(t, 3, task["steps_taken"])
	assert.NotContains(t, task, "error", "empty error is omitted")
}

func TestCleanupIncomplete(t *testing.T) {
	t.Run("should remove directories without a session record", func(t *testing.T) {
		dir := t.TempDir()
		complete := filepath.Join(dir, "a_20240101_000000_000001")
		incomplete := filepath.Join(dir, "b_20240101_000000_000002")
		require.NoError(t, os.MkdirAll(filepath.Join(incomplete, browser.TrajectoryDir), 0o755))
		require.NoError(t, os.MkdirAll(complete, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(complete, browser.ResultFileName), []byte("{}"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "summary.json"), []byte("{}"), 0o644))

		core, logs := observer.New(zap.WarnLevel)
		removed, err := CleanupIncomplete(dir, zap.New(core))
		require.NoError(t, err)

		assert.Equal(t, []string{"b_20240101_000000_000002"}, removed)
		assert.DirExists(t, complete)
		assert.NoDirExists(t, incomplete)
		assert.FileExists(t, filepath.Join(dir, "summary.json"))
		assert.Equal(t, 1, logs.Len())
	})

	t.Run("should tolerate a missing directory", func(t *testing.T) {
		removed, err := CleanupIncomplete(filepath.Join(t.TempDir(), "absent"), nil)
		assert.NoError(t, err)
		assert.Empty(t, removed)
	})
}
