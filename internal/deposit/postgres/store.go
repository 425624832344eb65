// Package postgres provides the SQL-backed deposit store. The contract is
// identical to the JSON-file store; the record travels as a JSONB document
// with status and activity mirrored into columns for indexed scans.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/threshold-network/tbtc-crosschain-relayer/internal/deposit"
)

var ErrInvalidConfig = errors.New("deposit/postgres: invalid config")

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidConfig)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("deposit/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (deposit.Deposit, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT record FROM deposits WHERE id = $1`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return deposit.Deposit{}, deposit.ErrNotFound
		}
		return deposit.Deposit{}, fmt.Errorf("deposit/postgres: get: %w", err)
	}
	return decodeRecord(raw)
}

func (s *Store) Create(ctx context.Context, d deposit.Deposit) (bool, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return false, fmt.Errorf("deposit/postgres: marshal record: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO deposits (id, status, last_activity_at, record)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, d.ID, int16(d.Status), d.Dates.LastActivityAt, raw)
	if err != nil {
		return false, fmt.Errorf("deposit/postgres: insert: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) Put(ctx context.Context, d deposit.Deposit) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("deposit/postgres: marshal record: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO deposits (id, status, last_activity_at, record)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    last_activity_at = EXCLUDED.last_activity_at,
		    record = EXCLUDED.record
	`, d.ID, int16(d.Status), d.Dates.LastActivityAt, raw)
	if err != nil {
		return fmt.Errorf("deposit/postgres: put: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM deposits WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deposit/postgres: delete: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]deposit.Deposit, error) {
	rows, err := s.pool.Query(ctx, `SELECT record FROM deposits ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("deposit/postgres: list: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func (s *Store) ListByStatus(ctx context.Context, status deposit.Status) ([]deposit.Deposit, error) {
	rows, err := s.pool.Query(ctx, `SELECT record FROM deposits WHERE status = $1 ORDER BY id`, int16(status))
	if err != nil {
		return nil, fmt.Errorf("deposit/postgres: list by status: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows pgx.Rows) ([]deposit.Deposit, error) {
	var out []deposit.Deposit
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("deposit/postgres: scan: %w", err)
		}
		d, err := decodeRecord(raw)
		if err != nil {
			// Mirror the file store's corruption policy: skip, keep going.
			continue
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("deposit/postgres: rows: %w", err)
	}
	return out, nil
}

func decodeRecord(raw []byte) (deposit.Deposit, error) {
	var d deposit.Deposit
	if err := json.Unmarshal(raw, &d); err != nil {
		return deposit.Deposit{}, fmt.Errorf("%w: %v", deposit.ErrInvalidRecord, err)
	}
	if d.ID == "" {
		return deposit.Deposit{}, fmt.Errorf("%w: missing id", deposit.ErrInvalidRecord)
	}
	return d, nil
}

var _ deposit.Store = (*Store)(nil)
