package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"burnScope/internal/model"
	"burnScope/internal/storage"
)

// Store provides Postgres persistence for burn records and scan checkpoints.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// RecordIfAbsent inserts a burn record, absorbing the duplicate-key case via
// ON CONFLICT DO NOTHING. Zero rows affected means the key already existed.
func (s *Store) RecordIfAbsent(ctx context.Context, rec model.BurnRecord) (storage.RecordOutcome, error) {
	var blockNumber *int64
	if rec.BlockNumber != nil {
		block := int64(*rec.BlockNumber)
		blockNumber = &block
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO burn_events (
			tx_hash, log_index, block_number, token, from_address, to_address,
			raw_amount, amount, observed_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT (tx_hash, log_index) DO NOTHING
	`,
		strings.ToLower(rec.TxHash),
		int64(rec.LogIndex),
		blockNumber,
		strings.ToLower(rec.Token),
		strings.ToLower(rec.FromAddress),
		strings.ToLower(rec.ToAddress),
		rec.RawAmount,
		rec.Amount.String(),
		rec.ObservedAt,
	)
	if err != nil {
		return storage.Inserted, fmt.Errorf("insert burn event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.AlreadyPresent, nil
	}
	return storage.Inserted, nil
}

// Checkpoint returns the last fully-processed block for a token.
func (s *Store) Checkpoint(ctx context.Context, token string) (uint64, bool, error) {
	if token == "" {
		return 0, false, fmt.Errorf("token required")
	}
	var height int64
	row := s.pool.QueryRow(ctx, `SELECT last_block FROM scan_checkpoints WHERE token=$1`, strings.ToLower(token))
	if err := row.Scan(&height); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(height), true, nil
}

// SetCheckpoint upserts the last fully-processed block for a token. GREATEST
// keeps the stored height monotonic even if callers race or replay.
func (s *Store) SetCheckpoint(ctx context.Context, token string, height uint64) error {
	if token == "" {
		return fmt.Errorf("token required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scan_checkpoints (token, last_block, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (token) DO UPDATE
		SET last_block = GREATEST(scan_checkpoints.last_block, EXCLUDED.last_block), updated_at = now()
	`, strings.ToLower(token), int64(height))
	return err
}
