package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/oddlotlabs/crossarb/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. Each
// snapshot is one row holding the full position set as JSONB, so recovery
// is a single read of the latest row.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

// SaveSnapshot persists the full position set as of the given time.
func (s *PositionStore) SaveSnapshot(ctx context.Context, at time.Time, positions []domain.Position) error {
	data, err := json.Marshal(positions)
	if err != nil {
		return fmt.Errorf("postgres: marshal positions: %w", err)
	}
	const query = `INSERT INTO position_snapshots (taken_at, positions) VALUES ($1, $2)`
	if _, err := s.pool.Exec(ctx, query, at, data); err != nil {
		return fmt.Errorf("postgres: save position snapshot: %w", err)
	}
	return nil
}

// LatestSnapshot returns the most recent snapshot. Returns
// domain.ErrNotFound when no snapshot has ever been taken.
func (s *PositionStore) LatestSnapshot(ctx context.Context) ([]domain.Position, time.Time, error) {
	const query = `
		SELECT taken_at, positions
		FROM position_snapshots
		ORDER BY taken_at DESC
		LIMIT 1`
	var (
		at   time.Time
		data []byte
	)
	err := s.pool.QueryRow(ctx, query).Scan(&at, &data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, time.Time{}, domain.ErrNotFound
		}
		return nil, time.Time{}, fmt.Errorf("postgres: latest position snapshot: %w", err)
	}
	var positions []domain.Position
	if err := json.Unmarshal(data, &positions); err != nil {
		return nil, time.Time{}, fmt.Errorf("postgres: unmarshal positions: %w", err)
	}
	return positions, at, nil
}

// Compile-time interface check.
var _ domain.PositionStore = (*PositionStore)(nil)
