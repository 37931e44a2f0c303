package position

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Postgres store
// ---------------------------------------------------------------------------

const pgErrUniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS positions (
	mint                TEXT PRIMARY KEY,
	symbol              TEXT NOT NULL DEFAULT '',
	entry_price_native  NUMERIC NOT NULL,
	quantity_estimate   NUMERIC NOT NULL,
	tp1_hit             BOOLEAN NOT NULL DEFAULT FALSE,
	tp2_hit             BOOLEAN NOT NULL DEFAULT FALSE,
	high_water_mark     NUMERIC NOT NULL,
	stop_price_override NUMERIC NOT NULL DEFAULT 0,
	opened_at           BIGINT NOT NULL
)`

// PGStore persists positions in PostgreSQL. Used instead of the file store
// when a DSN is configured, so several instances can share one book.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects to Postgres and ensures the positions table exists.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("positions: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("positions: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("positions: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("positions: ensure schema: %w", err)
	}

	return &PGStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PGStore) Close() {
	s.pool.Close()
}

var _ Store = (*PGStore)(nil)

func (s *PGStore) Has(ctx context.Context, mint string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM positions WHERE mint = $1)`, mint).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("positions: has: %w", err)
	}
	return exists, nil
}

func (s *PGStore) Add(ctx context.Context, pos Position) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO positions (
			mint, symbol, entry_price_native, quantity_estimate,
			tp1_hit, tp2_hit, high_water_mark, stop_price_override, opened_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		pos.Mint, pos.Symbol, pos.EntryPriceNative, pos.QuantityEstimate,
		pos.TP1Hit, pos.TP2Hit, pos.HighWaterMark, pos.StopPriceOverride, pos.OpenedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation {
			return fmt.Errorf("%w: %s", ErrExists, pos.Mint)
		}
		return fmt.Errorf("positions: add: %w", err)
	}
	return nil
}

// Update runs read-mutate-write inside a transaction with a row lock, so
// concurrent updates to the same mint serialize.
func (s *PGStore) Update(ctx context.Context, mint string, mutate func(*Position)) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("positions: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		SELECT mint, symbol, entry_price_native, quantity_estimate,
		       tp1_hit, tp2_hit, high_water_mark, stop_price_override, opened_at
		FROM positions WHERE mint = $1 FOR UPDATE`, mint)

	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrNotFound, mint)
		}
		return fmt.Errorf("positions: select for update: %w", err)
	}

	mutate(&pos)

	_, err = tx.Exec(ctx, `
		UPDATE positions SET
			symbol = $2, entry_price_native = $3, quantity_estimate = $4,
			tp1_hit = $5, tp2_hit = $6, high_water_mark = $7,
			stop_price_override = $8, opened_at = $9
		WHERE mint = $1`,
		mint, pos.Symbol, pos.EntryPriceNative, pos.QuantityEstimate,
		pos.TP1Hit, pos.TP2Hit, pos.HighWaterMark, pos.StopPriceOverride, pos.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("positions: update: %w", err)
	}

	return tx.Commit(ctx)
}

func (s *PGStore) Remove(ctx context.Context, mint string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE mint = $1`, mint)
	if err != nil {
		return fmt.Errorf("positions: remove: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, mint)
	}
	return nil
}

func (s *PGStore) List(ctx context.Context) ([]Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT mint, symbol, entry_price_native, quantity_estimate,
		       tp1_hit, tp2_hit, high_water_mark, stop_price_override, opened_at
		FROM positions
		ORDER BY opened_at ASC, mint ASC`)
	if err != nil {
		return nil, fmt.Errorf("positions: list: %w", err)
	}
	defer rows.Close()

	var list []Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("positions: scan: %w", err)
		}
		list = append(list, pos)
	}
	return list, rows.Err()
}

func scanPosition(row pgx.Row) (Position, error) {
	var pos Position
	var entry, quantity, hwm, override decimal.Decimal
	err := row.Scan(
		&pos.Mint, &pos.Symbol, &entry, &quantity,
		&pos.TP1Hit, &pos.TP2Hit, &hwm, &override, &pos.OpenedAt,
	)
	if err != nil {
		return Position{}, err
	}
	pos.EntryPriceNative = entry
	pos.QuantityEstimate = quantity
	pos.HighWaterMark = hwm
	pos.StopPriceOverride = override
	return pos, nil
}
