package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/Dimmmas28/wabe/internal/harness"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS task_results (
    run_id                 TEXT        NOT NULL,
    task_id_with_timestamp TEXT        NOT NULL,
    task_id                TEXT        NOT NULL,
    website                TEXT        NOT NULL,
    task_description       TEXT        NOT NULL,
    level                  TEXT        NOT NULL,
    success                BOOLEAN     NOT NULL,
    steps_taken            INTEGER     NOT NULL,
    max_steps              INTEGER     NOT NULL,
    error                  TEXT,
    thoughts               JSONB       NOT NULL,
    created_at             TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (run_id, task_id_with_timestamp)
);
CREATE TABLE IF NOT EXISTS task_actions (
    run_id                 TEXT    NOT NULL,
    task_id_with_timestamp TEXT    NOT NULL,
    seq                    INTEGER NOT NULL,
    action                 TEXT    NOT NULL
);
CREATE TABLE IF NOT EXISTS task_screenshots (
    run_id                 TEXT    NOT NULL,
    task_id_with_timestamp TEXT    NOT NULL,
    seq                    INTEGER NOT NULL,
    path                   TEXT    NOT NULL,
    PRIMARY KEY (run_id, task_id_with_timestamp, seq)
);`

const sqlInsertResult = `
        INSERT INTO task_results (run_id, task_id_with_timestamp, task_id, website, task_description, level, success, steps_taken, max_steps, error, thoughts, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        ON CONFLICT (run_id, task_id_with_timestamp) DO UPDATE SET
            success = EXCLUDED.success,
            steps_taken = EXCLUDED.steps_taken,
            error = EXCLUDED.error,
            thoughts = EXCLUDED.thoughts;
    `

const sqlInsertScreenshot = `
        INSERT INTO task_screenshots (run_id, task_id_with_timestamp, seq, path)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (run_id, task_id_with_timestamp, seq) DO NOTHING;
    `

var actionColumns = []string{"run_id", "task_id_with_timestamp", "seq", "action"}

// Store persists benchmark task results to PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
	now  func() time.Time
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
		now:  time.Now,
	}, nil
}

// EnsureSchema creates the result tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// PersistResult writes one task result, its action history and its
// screenshot paths in a single transaction.
func (s *Store) PersistResult(ctx context.Context, runID string, result harness.TaskResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	thoughts := result.Thoughts
	if thoughts == nil {
		thoughts = []string{}
	}
	encoded, err := json.Marshal(thoughts)
	if err != nil {
		return fmt.Errorf("failed to encode thoughts: %w", err)
	}
	var errText *string
	if result.ErrorMessage != "" {
		errText = &result.ErrorMessage
	}

	if _, err := tx.Exec(ctx, sqlInsertResult,
		runID, result.TaskIDWithTimestamp, result.TaskID,
		result.Website, result.TaskDescription, result.Level,
		result.Success, result.StepCount, result.MaxSteps,
		errText, encoded, s.now().UTC(),
	); err != nil {
		return fmt.Errorf("failed to insert task result: %w", err)
	}

	if len(result.ActionHistory) > 0 {
		if err := s.persistActions(ctx, tx, runID, result); err != nil {
			return err
		}
	}
	if len(result.Screenshots) > 0 {
		if err := s.persistScreenshots(ctx, tx, runID, result); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) persistActions(ctx context.Context, tx pgx.Tx, runID string, result harness.TaskResult) error {
	rows := make([][]interface{}, len(result.ActionHistory))
	for i, line := range result.ActionHistory {
		rows[i] = []interface{}{runID, result.TaskIDWithTimestamp, i + 1, line}
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"task_actions"}, actionColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy actions: %w", err)
	}
	if int(copyCount) != len(rows) {
		return fmt.Errorf("mismatch in copied actions count: expected %d, got %d", len(rows), copyCount)
	}
	return nil
}

func (s *Store) persistScreenshots(ctx context.Context, tx pgx.Tx, runID string, result harness.TaskResult) error {
	batch := &pgx.Batch{}
	for i, path := range result.Screenshots {
		batch.Queue(sqlInsertScreenshot, runID, result.TaskIDWithTimestamp, i, path)
	}

	br := tx.SendBatch(ctx, batch)
	if br == nil {
		return fmt.Errorf("failed to send batch: batch results is nil")
	}
	defer func() {
		_ = br.Close()
	}()

	for i := range result.Screenshots {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to insert screenshot %d: %w", i, err)
		}
	}
	return nil
}

// RunSummary is the aggregate outcome of one persisted run.
type RunSummary struct {
	RunID           string
	TotalTasks      int
	SuccessfulTasks int
}

// ResultsByRunID loads the persisted results of a run, without their
// action history, in insertion order.
func (s *Store) ResultsByRunID(ctx context.Context, runID string) ([]harness.TaskResult, error) {
	query := `
        SELECT task_id, task_id_with_timestamp, website, task_description, level, success, steps_taken, max_steps, error, thoughts
        FROM task_results
        WHERE run_id = $1
        ORDER BY created_at ASC;
    `
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query task results: %w", err)
	}
	defer rows.Close()

	var results []harness.TaskResult
	for rows.Next() {
		var r harness.TaskResult
		var errText *string
		var thoughts []byte

		if err := rows.Scan(
			&r.TaskID, &r.TaskIDWithTimestamp, &r.Website, &r.TaskDescription, &r.Level,
			&r.Success, &r.StepCount, &r.MaxSteps, &errText, &thoughts,
		); err != nil {
			return nil, fmt.Errorf("failed to scan task result row: %w", err)
		}
		if errText != nil {
			r.ErrorMessage = *errText
		}
		r.Thoughts = []string{}
		if len(thoughts) > 0 {
			if err := json.Unmarshal(thoughts, &r.Thoughts); err != nil {
				return nil, fmt.Errorf("failed to decode thoughts for %s: %w", r.TaskIDWithTimestamp, err)
			}
		}
		r.ActionHistory = []string{}
		r.Screenshots = []string{}
		results = append(results, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return results, nil
}

// Summary aggregates a persisted run.
func (s *Store) Summary(ctx context.Context, runID string) (RunSummary, error) {
	results, err := s.ResultsByRunID(ctx, runID)
	if err != nil {
		return RunSummary{}, err
	}
	sum := RunSummary{RunID: runID, TotalTasks: len(results)}
	for _, r := range results {
		if r.Success {
			sum.SuccessfulTasks++
		}
	}
	return sum, nil
}
