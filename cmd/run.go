// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Dimmmas28/wabe/internal/config"
	"github.com/Dimmmas28/wabe/internal/harness"
	"github.com/Dimmmas28/wabe/internal/observability"
)

const summaryFileName = "summary.json"

// runDeps are the collaborators of the run command, swapped in tests.
type runDeps struct {
	launcher func(config.ToolServerConfig) harness.SessionFactory
	agents   func(config.AgentConfig, *zap.Logger) harness.AgentFactory
	stores   storeProvider
	newRunID func() string
}

func defaultRunDeps() runDeps {
	return runDeps{
		launcher: defaultLauncher,
		agents:   harness.HTTPAgent,
		stores:   NewStoreProvider(),
		newRunID: uuid.NewString,
	}
}

func defaultLauncher(cfg config.ToolServerConfig) harness.SessionFactory {
	return harness.LaunchSession(cfg)
}

// runOptions holds the flag values of one run invocation.
type runOptions struct {
	TasksPath   string
	AgentURL    string
	Limit       int
	Level       string
	Concurrency int
	MaxSteps    int
	OutputDir   string
	SummaryPath string
}

// newRunCmd creates and configures the `run` command.
func newRunCmd(deps runDeps) *cobra.Command {
	var opts runOptions

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run benchmark tasks against an agent",
		Long: `Loads a task file, drives the agent through every task in an isolated
browser session and writes per-task artifacts plus a run summary.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			applyRunFlagOverrides(cmd, cfg, &opts)
			return runBenchmark(ctx, observability.GetLogger(), cfg, opts, deps, cmd.OutOrStdout())
		},
	}

	bindRunFlags(runCmd, &opts)
	return runCmd
}

// bindRunFlags registers the run flags on cmd, storing values in opts.
func bindRunFlags(cmd *cobra.Command, opts *runOptions) {
	flags := cmd.Flags()
	flags.StringVarP(&opts.TasksPath, "tasks", "t", "", "Path to the task file (required)")
	_ = cmd.MarkFlagRequired("tasks")
	flags.StringVar(&opts.AgentURL, "agent-url", "", "Base URL of the agent under test. (Overrides config/env)")
	flags.IntVarP(&opts.Limit, "limit", "n", 0, "Run at most this many tasks, after level filtering.")
	flags.StringVar(&opts.Level, "level", "", "Only run tasks of this level (e.g. 'easy', 'medium', 'hard').")
	flags.IntVarP(&opts.Concurrency, "concurrency", "j", 0, "Maximum number of tasks in flight. (Overrides config/env)")
	flags.IntVar(&opts.MaxSteps, "max-steps", 0, "Default step budget per task. (Overrides config/env)")
	flags.StringVarP(&opts.OutputDir, "output", "o", "", "Directory for per-task results. (Overrides config/env)")
	flags.StringVar(&opts.SummaryPath, "summary", "", "Path of the run summary (default <output>/summary.json)")
}

// applyRunFlagOverrides lets explicitly set flags win over config and env.
func applyRunFlagOverrides(cmd *cobra.Command, cfg config.Interface, opts *runOptions) {
	flags := cmd.Flags()
	if flags.Changed("agent-url") {
		cfg.SetAgentURL(opts.AgentURL)
	}
	if flags.Changed("concurrency") && opts.Concurrency > 0 {
		cfg.SetHarnessMaxParallelTasks(opts.Concurrency)
	}
	if flags.Changed("max-steps") && opts.MaxSteps > 0 {
		cfg.SetHarnessMaxSteps(opts.MaxSteps)
	}
	if flags.Changed("output") && opts.OutputDir != "" {
		cfg.SetHarnessOutputDir(opts.OutputDir)
	}
	if !flags.Changed("limit") {
		opts.Limit = cfg.Harness().TaskLimit
	}
	if !flags.Changed("level") {
		opts.Level = cfg.Harness().TaskLevel
	}
}

// runBenchmark contains the core, testable logic of the run command.
func runBenchmark(ctx context.Context, logger *zap.Logger, cfg config.Interface, opts runOptions, deps runDeps, out io.Writer) error {
	hcfg := cfg.Harness()
	if cfg.Agent().URL == "" {
		return errors.New("agent URL is not configured (--agent-url or WABE_AGENT_URL)")
	}

	all, err := harness.LoadTasks(opts.TasksPath)
	if err != nil {
		return err
	}
	tasks := harness.FilterTasks(all, opts.Level, opts.Limit)
	if len(tasks) == 0 {
		return fmt.Errorf("no tasks to run (loaded %d, level %q, limit %d)", len(all), opts.Level, opts.Limit)
	}

	if hcfg.CleanupIncomplete {
		removed, err := harness.CleanupIncomplete(hcfg.OutputDir, logger)
		if err != nil {
			return fmt.Errorf("failed to clean up incomplete results: %w", err)
		}
		if len(removed) > 0 {
			logger.Info("Removed incomplete result directories", zap.Int("count", len(removed)))
		}
	}

	runID := deps.newRunID()
	schedOpts := []harness.SchedulerOption{harness.WithDefaultMaxSteps(hcfg.MaxSteps)}
	if cfg.Database().URL != "" {
		resStore, cleanup, err := deps.stores.Create(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}
		if cleanup != nil {
			defer cleanup()
		}
		if err := resStore.EnsureSchema(ctx); err != nil {
			return err
		}
		schedOpts = append(schedOpts, harness.WithResultSink(resStore, runID))
	}

	logger.Info("Starting benchmark run",
		zap.String("run_id", runID),
		zap.Int("tasks", len(tasks)),
		zap.Int("max_parallel", hcfg.MaxParallelTasks),
		zap.String("agent_url", cfg.Agent().URL),
		zap.String("output_dir", hcfg.OutputDir),
	)

	runner := harness.NewRunner(cfg, deps.launcher(cfg.ToolServer()), deps.agents(cfg.Agent(), logger), logger)
	scheduler := harness.NewScheduler(runner, hcfg.MaxParallelTasks, logger, schedOpts...)
	results := scheduler.Run(ctx, tasks)

	report := harness.Summarize(results)
	summaryPath := opts.SummaryPath
	if summaryPath == "" {
		summaryPath = filepath.Join(hcfg.OutputDir, summaryFileName)
	}
	if err := harness.WriteReport(summaryPath, report); err != nil {
		return err
	}

	fmt.Fprintf(out, "\nRun Complete. Run ID: %s\n", runID)
	fmt.Fprintf(out, "Succeeded: %d/%d (%.1f%%)\n", report.SuccessfulTasks, report.TotalTasks, report.SuccessRate*100)
	fmt.Fprintf(out, "Summary written to %s\n", summaryPath)

	if err := ctx.Err(); err != nil {
		return err
	}
	return nil
}
