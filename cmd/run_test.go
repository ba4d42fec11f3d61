// File: cmd/run_test.go
package cmd

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Dimmmas28/wabe/internal/agent"
	"github.com/Dimmmas28/wabe/internal/config"
	"github.com/Dimmmas28/wabe/internal/harness"
	"github.com/Dimmmas28/wabe/internal/mcp"
	"github.com/Dimmmas28/wabe/internal/mocks"
)

const finishReply = `<json>{"thought":"done","tool":"finish","params":{}}</json>`

func TestApplyRunFlagOverrides(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		taskLimit   int
		taskLevel   string
		expectURL   string
		expectPar   int
		expectSteps int
		expectLimit int
		expectLevel string
	}{
		{
			name:        "flags override config",
			args:        []string{"--agent-url", "http://a:1", "-j", "3", "--max-steps", "20", "--limit", "4", "--level", "easy"},
			taskLimit:   9,
			taskLevel:   "hard",
			expectURL:   "http://a:1",
			expectPar:   3,
			expectSteps: 20,
			expectLimit: 4,
			expectLevel: "easy",
		},
		{
			name:        "no flags keeps config",
			args:        []string{},
			taskLimit:   9,
			taskLevel:   "hard",
			expectPar:   5,
			expectSteps: 10,
			expectLimit: 9,
			expectLevel: "hard",
		},
		{
			name:        "non-positive numbers are ignored",
			args:        []string{"-j", "0", "--max-steps", "-1"},
			expectPar:   5,
			expectSteps: 10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.NewDefaultConfig()
			cfg.HarnessCfg.TaskLimit = tt.taskLimit
			cfg.HarnessCfg.TaskLevel = tt.taskLevel

			var opts runOptions
			cmd := &cobra.Command{Use: "run"}
			bindRunFlags(cmd, &opts)
			require.NoError(t, cmd.ParseFlags(tt.args))

			applyRunFlagOverrides(cmd, cfg, &opts)

			assert.Equal(t, tt.expectURL, cfg.Agent().URL)
			assert.Equal(t, tt.expectPar, cfg.Harness().MaxParallelTasks)
			assert.Equal(t, tt.expectSteps, cfg.Harness().MaxSteps)
			assert.Equal(t, tt.expectLimit, opts.Limit)
			assert.Equal(t, tt.expectLevel, opts.Level)
		})
	}
}

func pngBase64(t *testing.T) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

// newFakeSession returns a tool server that accepts every browser call.
func newFakeSession(t *testing.T) *mocks.MockToolCaller {
	ok := &mcp.ToolResult{Content: []mcp.Content{{Type: "text", Text: "ok"}}}
	shot := &mcp.ToolResult{Content: []mcp.Content{{Type: "image", MimeType: "image/png", Data: pngBase64(t)}}}

	s := new(mocks.MockToolCaller)
	s.On("CallTool", mock.Anything, "browser_take_screenshot", mock.Anything).Return(shot, nil).Maybe()
	s.On("CallTool", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(ok, nil).Maybe()
	s.On("ListTools", mock.Anything, mock.Anything).Return([]mcp.ToolSchema{
		{Name: "browser_click", Description: "Click an element"},
	}, nil).Maybe()
	s.On("Close", mock.Anything).Return(nil).Maybe()
	return s
}

func testRunDeps(t *testing.T, stores storeProvider) runDeps {
	return runDeps{
		launcher: func(config.ToolServerConfig) harness.SessionFactory {
			return func(context.Context, *zap.Logger) (harness.ToolSession, error) {
				return newFakeSession(t), nil
			}
		},
		agents: func(config.AgentConfig, *zap.Logger) harness.AgentFactory {
			return func(harness.Task) (agent.Client, error) {
				a := new(mocks.MockAgentClient)
				a.On("Send", mock.Anything, mock.Anything).Return(finishReply, nil)
				return a, nil
			}
		},
		stores:   stores,
		newRunID: func() string { return "run-1" },
	}
}

func testBenchmarkConfig(t *testing.T) *config.Config {
	cfg := config.NewDefaultConfig()
	cfg.SetHarnessOutputDir(filepath.Join(t.TempDir(), "results"))
	cfg.SetAgentURL("http://agent.local:9009")
	cfg.BackoffCfg.BaseDelay = 0
	cfg.ScreenshotCfg.Attempts = 1
	cfg.ScreenshotCfg.RetryInterval = 0
	return cfg
}

func writeTasksFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasks.json")
	data := `[
  {"task_id": "a", "website": "https://a.example", "task": "Open A", "level": "easy"},
  {"task_id": "b", "website": "https://b.example", "task": "Open B", "level": "hard"},
  {"task_id": "c", "website": "https://c.example", "task": "Open C", "level": "easy"}
]`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestRunBenchmark(t *testing.T) {
	t.Run("should run filtered tasks and write the summary", func(t *testing.T) {
		cfg := testBenchmarkConfig(t)
		var out bytes.Buffer
		opts := runOptions{TasksPath: writeTasksFile(t), Level: "easy"}

		err := runBenchmark(context.Background(), zap.NewNop(), cfg, opts, testRunDeps(t, nil), &out)
		require.NoError(t, err)

		summaryPath := filepath.Join(cfg.Harness().OutputDir, summaryFileName)
		data, err := os.ReadFile(summaryPath)
		require.NoError(t, err)
		var report harness.Report
		require.NoError(t, json.Unmarshal(data, &report))
		assert.Equal(t, 2, report.TotalTasks)
		assert.Equal(t, 2, report.SuccessfulTasks)
		assert.Equal(t, 1.0, report.SuccessRate)
		require.Len(t, report.Tasks, 2)
		assert.Equal(t, "a", report.Tasks[0].TaskID)
		assert.Equal(t, "c", report.Tasks[1].TaskID)

		assert.Contains(t, out.String(), "Run Complete. Run ID: run-1")
		assert.Contains(t, out.String(), "Succeeded: 2/2 (100.0%)")
		assert.Contains(t, out.String(), "Summary written to "+summaryPath)
	})

	t.Run("should honour an explicit summary path and limit", func(t *testing.T) {
		cfg := testBenchmarkConfig(t)
		summaryPath := filepath.Join(t.TempDir(), "out", "run.json")
		opts := runOptions{TasksPath: writeTasksFile(t), Limit: 1, SummaryPath: summaryPath}

		err := runBenchmark(context.Background(), zap.NewNop(), cfg, opts, testRunDeps(t, nil), &bytes.Buffer{})
		require.NoError(t, err)

		data, err := os.ReadFile(summaryPath)
		require.NoError(t, err)
		var report harness.Report
		require.NoError(t, json.Unmarshal(data, &report))
		assert.Equal(t, 1, report.TotalTasks)
	})

	t.Run("should persist results when a database is configured", func(t *testing.T) {
		cfg := testBenchmarkConfig(t)
		cfg.DatabaseCfg.URL = "postgres://localhost/wabe"

		resStore := new(mockResultStore)
		resStore.On("EnsureSchema", mock.Anything).Return(nil).Once()
		resStore.On("PersistResult", mock.Anything, "run-1", mock.AnythingOfType("harness.TaskResult")).Return(nil).Times(3)
		cleanedUp := false
		provider := new(mockStoreProvider)
		provider.On("Create", mock.Anything, cfg).Return(resStore, func() { cleanedUp = true }, nil).Once()

		opts := runOptions{TasksPath: writeTasksFile(t)}
		err := runBenchmark(context.Background(), zap.NewNop(), cfg, opts, testRunDeps(t, provider), &bytes.Buffer{})

		require.NoError(t, err)
		assert.True(t, cleanedUp)
		resStore.AssertExpectations(t)
		provider.AssertExpectations(t)
	})

	t.Run("should fail when the store cannot be created", func(t *testing.T) {
		cfg := testBenchmarkConfig(t)
		cfg.DatabaseCfg.URL = "postgres://localhost/wabe"
		provider := new(mockStoreProvider)
		provider.On("Create", mock.Anything, cfg).Return(nil, nil, errors.New("connection refused"))

		opts := runOptions{TasksPath: writeTasksFile(t)}
		err := runBenchmark(context.Background(), zap.NewNop(), cfg, opts, testRunDeps(t, provider), &bytes.Buffer{})

		assert.EqualError(t, err, "failed to initialize store: connection refused")
	})

	t.Run("should require an agent URL", func(t *testing.T) {
		cfg := testBenchmarkConfig(t)
		cfg.SetAgentURL("")

		err := runBenchmark(context.Background(), zap.NewNop(), cfg, runOptions{TasksPath: writeTasksFile(t)}, testRunDeps(t, nil), &bytes.Buffer{})

		assert.EqualError(t, err, "agent URL is not configured (--agent-url or WABE_AGENT_URL)")
	})

	t.Run("should fail when filtering leaves no tasks", func(t *testing.T) {
		cfg := testBenchmarkConfig(t)
		opts := runOptions{TasksPath: writeTasksFile(t), Level: "medium"}

		err := runBenchmark(context.Background(), zap.NewNop(), cfg, opts, testRunDeps(t, nil), &bytes.Buffer{})

		assert.EqualError(t, err, `no tasks to run (loaded 3, level "medium", limit 0)`)
	})

	t.Run("should surface a missing task file", func(t *testing.T) {
		cfg := testBenchmarkConfig(t)
		opts := runOptions{TasksPath: filepath.Join(t.TempDir(), "missing.json")}

		err := runBenchmark(context.Background(), zap.NewNop(), cfg, opts, testRunDeps(t, nil), &bytes.Buffer{})

		assert.Error(t, err)
	})
}

func TestListTools(t *testing.T) {
	launchWith := func(s harness.ToolSession) harness.SessionFactory {
		return func(context.Context, *zap.Logger) (harness.ToolSession, error) { return s, nil }
	}
	tools := []mcp.ToolSchema{{Name: "browser_click", Description: "Click an element"}}

	t.Run("should print the tools section", func(t *testing.T) {
		s := new(mocks.MockToolCaller)
		s.On("ListTools", mock.Anything, false).Return(tools, nil).Once()
		s.On("Close", mock.Anything).Return(nil).Once()
		var out bytes.Buffer

		require.NoError(t, listTools(context.Background(), zap.NewNop(), launchWith(s), false, &out))

		assert.Equal(t, harness.ToolsSection(tools)+"\n", out.String())
		s.AssertExpectations(t)
	})

	t.Run("should print raw schemas as JSON", func(t *testing.T) {
		s := new(mocks.MockToolCaller)
		s.On("ListTools", mock.Anything, false).Return(tools, nil).Once()
		s.On("Close", mock.Anything).Return(nil).Once()
		var out bytes.Buffer

		require.NoError(t, listTools(context.Background(), zap.NewNop(), launchWith(s), true, &out))

		var decoded []mcp.ToolSchema
		require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
		require.Len(t, decoded, 1)
		assert.Equal(t, "browser_click", decoded[0].Name)
		s.AssertExpectations(t)
	})

	t.Run("should close the session when listing fails", func(t *testing.T) {
		s := new(mocks.MockToolCaller)
		s.On("ListTools", mock.Anything, false).Return(nil, mcp.ErrNotRunning).Once()
		s.On("Close", mock.Anything).Return(nil).Once()

		err := listTools(context.Background(), zap.NewNop(), launchWith(s), false, &bytes.Buffer{})

		assert.ErrorIs(t, err, mcp.ErrNotRunning)
		s.AssertExpectations(t)
	})

	t.Run("should report a server that will not start", func(t *testing.T) {
		launch := func(context.Context, *zap.Logger) (harness.ToolSession, error) {
			return nil, errors.New("npx not found")
		}

		err := listTools(context.Background(), zap.NewNop(), launch, false, &bytes.Buffer{})

		assert.EqualError(t, err, "failed to start tool server: npx not found")
	})
}
