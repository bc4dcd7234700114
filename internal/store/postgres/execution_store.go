package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oddlotlabs/crossarb/internal/domain"
)

// ExecutionStore implements domain.ExecutionStore using PostgreSQL. Leg
// fills are stored as JSONB so the schema does not have to chase the fill
// shape.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates an ExecutionStore backed by the given pool.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

const executionColumns = `id, pair_id, strategy, state, leg1, leg2, edge_cents, size, realized_cents, reconcile, dry_run, started_at, completed_at`

// Create persists one terminal execution record.
func (s *ExecutionStore) Create(ctx context.Context, rec domain.ExecutionRecord) error {
	leg1, err := json.Marshal(rec.Leg1)
	if err != nil {
		return fmt.Errorf("postgres: marshal leg1: %w", err)
	}
	leg2, err := json.Marshal(rec.Leg2)
	if err != nil {
		return fmt.Errorf("postgres: marshal leg2: %w", err)
	}

	const query = `
		INSERT INTO executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err = s.pool.Exec(ctx, query,
		rec.ID, rec.PairID, string(rec.Strategy), string(rec.State),
		leg1, leg2,
		int64(rec.EdgeCents), rec.Size, int64(rec.RealizedCents),
		string(rec.Reconcile), rec.DryRun, rec.StartedAt, rec.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create execution %s: %w", rec.ID, err)
	}
	return nil
}

// ListRecent returns the most recent executions, newest first.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.ExecutionRecord, error) {
	const query = `
		SELECT ` + executionColumns + `
		FROM executions
		ORDER BY completed_at DESC
		LIMIT $1`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent executions: %w", err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

// ListBefore returns executions completed before cutoff, oldest first. Used
// by the archiver to page through aged rows.
func (s *ExecutionStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.ExecutionRecord, error) {
	const query = `
		SELECT ` + executionColumns + `
		FROM executions
		WHERE completed_at < $1
		ORDER BY completed_at ASC
		LIMIT $2`
	rows, err := s.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions before %s: %w", cutoff, err)
	}
	defer rows.Close()
	return scanExecutions(rows)
}

// DeleteBefore removes executions completed before cutoff and returns the
// number of rows deleted.
func (s *ExecutionStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM executions WHERE completed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete executions before %s: %w", cutoff, err)
	}
	return tag.RowsAffected(), nil
}

func scanExecutions(rows pgx.Rows) ([]domain.ExecutionRecord, error) {
	var out []domain.ExecutionRecord
	for rows.Next() {
		var (
			rec              domain.ExecutionRecord
			strategy, state  string
			leg1Raw, leg2Raw []byte
			edge, realized   int64
			reconcile        string
		)
		if err := rows.Scan(
			&rec.ID, &rec.PairID, &strategy, &state,
			&leg1Raw, &leg2Raw,
			&edge, &rec.Size, &realized,
			&reconcile, &rec.DryRun, &rec.StartedAt, &rec.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		rec.Strategy = domain.Strategy(strategy)
		rec.State = domain.AttemptState(state)
		rec.EdgeCents = domain.Cents(edge)
		rec.RealizedCents = domain.Cents(realized)
		rec.Reconcile = domain.ReconcileOutcome(reconcile)
		if err := json.Unmarshal(leg1Raw, &rec.Leg1); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal leg1: %w", err)
		}
		if err := json.Unmarshal(leg2Raw, &rec.Leg2); err != nil {
			return nil, fmt.Errorf("postgres: unmarshal leg2: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: execution rows: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.ExecutionStore = (*ExecutionStore)(nil)
