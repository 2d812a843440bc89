// Package store persists monitored runs and their findings in PostgreSQL.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/delver/api/schemas"
	"github.com/xkilldash9x/delver/internal/results"
)

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Schema creates the tables PersistRun writes to.
const Schema = `
CREATE TABLE IF NOT EXISTS runs (
    run_id        TEXT PRIMARY KEY,
    sample        TEXT NOT NULL,
    started_at    TIMESTAMPTZ NOT NULL,
    finished_at   TIMESTAMPTZ NOT NULL,
    static_total  INTEGER NOT NULL,
    dynamic_total INTEGER NOT NULL,
    total_score   INTEGER NOT NULL,
    rating        TEXT NOT NULL,
    breakdown     JSONB NOT NULL,
    outcomes      JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS findings (
    run_id      TEXT NOT NULL REFERENCES runs (run_id) ON DELETE CASCADE,
    seq         INTEGER NOT NULL,
    surface     TEXT NOT NULL,
    category    TEXT NOT NULL,
    description TEXT NOT NULL,
    risk_level  TEXT NOT NULL,
    details     JSONB NOT NULL,
    PRIMARY KEY (run_id, seq)
);`

const sqlInsertRun = `
        INSERT INTO runs (run_id, sample, started_at, finished_at, static_total, dynamic_total, total_score, rating, breakdown, outcomes)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
    `

var findingColumns = []string{"run_id", "seq", "surface", "category", "description", "risk_level", "details"}

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// Store provides a PostgreSQL implementation of results.Store.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ results.Store = (*Store)(nil)

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// Connect opens a pool for url and wraps it in a Store. The caller closes the
// returned pool.
func Connect(ctx context.Context, url string, logger *zap.Logger) (*Store, *pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s, err := New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool, nil
}

// EnsureSchema creates the tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// PersistRun writes the run row and all of its findings in one transaction.
func (s *Store) PersistRun(ctx context.Context, report *results.Report) error {
	if report == nil {
		return errors.New("report cannot be nil")
	}
	breakdown, err := codec.Marshal(report.Breakdown)
	if err != nil {
		return fmt.Errorf("failed to encode risk breakdown: %w", err)
	}
	outcomes, err := codec.Marshal(report.Outcomes)
	if err != nil {
		return fmt.Errorf("failed to encode outcomes: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	_, err = tx.Exec(ctx, sqlInsertRun,
		report.RunID, report.Sample,
		report.StartedAt.UTC(), report.FinishedAt.UTC(),
		report.Breakdown.StaticTotal, report.Breakdown.DynamicTotal, report.Breakdown.TotalScore,
		string(report.Breakdown.Rating),
		json.RawMessage(breakdown), json.RawMessage(outcomes),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if err := s.persistFindings(ctx, tx, report); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Debug("Run persisted", zap.String("run_id", report.RunID))
	return nil
}

func (s *Store) persistFindings(ctx context.Context, tx pgx.Tx, report *results.Report) error {
	var rows [][]interface{}
	for _, surface := range schemas.Surfaces() {
		for _, f := range report.Findings[surface] {
			details := json.RawMessage("{}")
			if len(f.Details) > 0 {
				encoded, err := codec.Marshal(f.Details)
				if err != nil {
					return fmt.Errorf("failed to encode details of %s finding %q: %w", surface, f.Category, err)
				}
				details = encoded
			}
			rows = append(rows, []interface{}{
				report.RunID, len(rows), string(surface),
				f.Category, f.Description, string(f.RiskLevel),
				details,
			})
		}
	}
	if len(rows) == 0 {
		return nil
	}

	copyCount, err := tx.CopyFrom(ctx, pgx.Identifier{"findings"}, findingColumns, pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("failed to copy findings: %w", err)
	}
	if int(copyCount) != len(rows) {
		return fmt.Errorf("mismatch in copied findings count: expected %d, got %d", len(rows), copyCount)
	}
	return nil
}

// GetFindingsByRunID loads a run's findings in the order they were written.
func (s *Store) GetFindingsByRunID(ctx context.Context, runID string) ([]schemas.Finding, error) {
	query := `
        SELECT surface, category, description, risk_level, details
        FROM findings
        WHERE run_id = $1
        ORDER BY seq ASC;
    `
	rows, err := s.pool.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	var findings []schemas.Finding
	for rows.Next() {
		var f schemas.Finding
		var surface, level string
		var details []byte
		if err := rows.Scan(&surface, &f.Category, &f.Description, &level, &details); err != nil {
			return nil, fmt.Errorf("failed to scan finding row: %w", err)
		}
		f.Surface = schemas.Surface(surface)
		f.RiskLevel = schemas.RiskLevel(level)
		if len(details) > 0 && string(details) != "{}" {
			if err := codec.Unmarshal(details, &f.Details); err != nil {
				return nil, fmt.Errorf("failed to decode details: %w", err)
			}
		}
		findings = append(findings, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return findings, nil
}
