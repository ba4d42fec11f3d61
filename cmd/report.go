// File: cmd/report.go
package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5/pgxpool"
	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Dimmmas28/wabe/internal/config"
	"github.com/Dimmmas28/wabe/internal/harness"
	"github.com/Dimmmas28/wabe/internal/observability"
	"github.com/Dimmmas28/wabe/internal/store"
)

// resultStore is the persistence surface the CLI needs.
type resultStore interface {
	harness.ResultSink
	EnsureSchema(ctx context.Context) error
	ResultsByRunID(ctx context.Context, runID string) ([]harness.TaskResult, error)
}

// storeProvider defines an interface for components that can create a result
// store. This abstraction allows tests to inject a mock store instead of a
// live database connection.
type storeProvider interface {
	// Create returns the store, a cleanup function to release resources, and
	// an error if the creation fails.
	Create(ctx context.Context, cfg config.Interface) (resultStore, func(), error)
}

// defaultStoreProvider connects to PostgreSQL.
type defaultStoreProvider struct{}

// NewStoreProvider returns the production store provider.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

// Create connects to the PostgreSQL database using the provided configuration,
// initializes the store service, and returns it along with a cleanup function
// to close the database connection pool.
func (p *defaultStoreProvider) Create(ctx context.Context, cfg config.Interface) (resultStore, func(), error) {
	logger := observability.GetLogger()
	if cfg.Database().URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (WABE_DATABASE_URL)")
	}

	pool, err := pgxpool.New(ctx, cfg.Database().URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	storeService, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to initialize store service: %w", err)
	}

	cleanup := func() {
		pool.Close()
		logger.Debug("Database connection pool closed")
	}
	return storeService, cleanup, nil
}

// newReportCmd creates the `report` command, which rebuilds a run summary
// from persisted results.
func newReportCmd(provider storeProvider) *cobra.Command {
	var runID string
	var outputPath string

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Rebuild the summary of a persisted run",
		Long: `Loads the task results stored for a run ID and prints the aggregated
summary, or writes it to a file when --output is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runReport(ctx, observability.GetLogger(), cfg, runID, outputPath, provider, cmd.OutOrStdout())
		},
	}

	reportCmd.Flags().StringVar(&runID, "run-id", "", "The ID of the run to summarize (required)")
	_ = reportCmd.MarkFlagRequired("run-id")
	reportCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path. If unset, the summary is printed to stdout.")
	return reportCmd
}

// runReport contains the testable logic of the report command.
func runReport(ctx context.Context, logger *zap.Logger, cfg config.Interface, runID, outputPath string, provider storeProvider, out io.Writer) error {
	logger.Info("Starting report generation", zap.String("run_id", runID))

	resStore, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}

	results, err := resStore.ResultsByRunID(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load results: %w", err)
	}
	if len(results) == 0 {
		return fmt.Errorf("no results found for run %s", runID)
	}
	report := harness.Summarize(results)

	if outputPath != "" {
		if err := harness.WriteReport(outputPath, report); err != nil {
			return fmt.Errorf("failed to write report file: %w", err)
		}
		logger.Info("Report successfully written to file", zap.String("path", outputPath))
		return nil
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize report to JSON: %w", err)
	}
	fmt.Fprintln(out, string(data))
	return nil
}
