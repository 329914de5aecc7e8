package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/badger-finance/sett-keeper/keeper/pkg/distributor"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver with database/sql
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

const (
	CycleStatusCompleted = "completed"
	CycleStatusHalted    = "halted"

	TransferStatusSucceeded = "succeeded"
	// TransferStatusUnverified marks a transfer that was mined but whose balances could not be re-read.
	TransferStatusUnverified = "unverified"
	TransferStatusFailed     = "failed"
)

var ErrCycleNotFound = errors.New("cycle not found")

// Migrate applies the embedded schema migrations to the database at connStr.
func Migrate(ctx context.Context, log *slog.Logger, connStr string) error {
	log.Info("history: running migrations")

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info("history: migrations completed")
	return nil
}

type StoreConfig struct {
	Logger  *slog.Logger
	Pool    *pgxpool.Pool
	ChainID int64
}

func (cfg *StoreConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Pool == nil {
		return errors.New("pool is required")
	}
	if cfg.ChainID <= 0 {
		return errors.New("chain id is required")
	}
	return nil
}

// Store persists distribution cycles and their transfers.
type Store struct {
	log *slog.Logger
	cfg StoreConfig
}

func NewStore(cfg StoreConfig) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Store{log: cfg.Logger, cfg: cfg}, nil
}

// RecordCycle writes the cycle, every completed transfer and the failed entry, if any, in one
// transaction.
func (s *Store) RecordCycle(ctx context.Context, res *distributor.CycleResult) error {
	if res == nil {
		return errors.New("cycle result is required")
	}

	status := CycleStatusCompleted
	var (
		failedIndex *int
		failedKey   *string
		errText     *string
	)
	if f := res.Failure; f != nil {
		status = CycleStatusHalted
		failedIndex = &f.Index
		if f.Index >= 0 {
			failedKey = &f.Entry.Key
		}
		if f.Err != nil {
			msg := f.Err.Error()
			errText = &msg
		}
	}

	skipped := make([]string, len(res.Skipped))
	for i, e := range res.Skipped {
		skipped[i] = e.Key
	}
	entries := len(res.Transfers) + len(res.Skipped)
	if res.Failure != nil && res.Failure.Index >= 0 && !res.Failure.Submitted {
		entries++
	}

	tx, err := s.cfg.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO distribution_cycles
			(id, chain_id, started_at, finished_at, status, entries, failed_index, failed_key, error, skipped_keys)
		VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		res.ID.String(), s.cfg.ChainID, res.StartedAt, res.FinishedAt, status, entries,
		failedIndex, failedKey, errText, skipped,
	)
	if err != nil {
		return fmt.Errorf("failed to insert cycle: %w", err)
	}

	batch := &pgx.Batch{}
	for i, t := range res.Transfers {
		transferStatus := TransferStatusSucceeded
		var transferErr *string
		if res.Failure != nil && res.Failure.Submitted && res.Failure.Index == i {
			transferStatus = TransferStatusUnverified
			transferErr = errText
		}
		batch.Queue(`
			INSERT INTO distribution_transfers
				(cycle_id, position, key, status, strategy, want, amount, decimals, tx_hash, error)
			VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			res.ID.String(), i, t.Key, transferStatus, t.Strategy.Hex(), t.Want.Hex(),
			pgtype.Numeric{Int: t.Amount, Valid: t.Amount != nil}, t.Decimals, t.TxHash.Hex(), transferErr,
		)
	}
	if f := res.Failure; f != nil && f.Index >= 0 && !f.Submitted {
		batch.Queue(`
			INSERT INTO distribution_transfers (cycle_id, position, key, status, decimals, error)
			VALUES ($1::uuid, $2, $3, $4, $5, $6)`,
			res.ID.String(), f.Index, f.Entry.Key, TransferStatusFailed, f.Entry.Decimals, errText,
		)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert transfers: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit cycle: %w", err)
	}

	s.log.Info("history: recorded distribution cycle", "cycle", res.ID.String(), "status", status, "transfers", len(res.Transfers))
	return nil
}

type CycleRecord struct {
	ID          uuid.UUID
	ChainID     int64
	StartedAt   time.Time
	FinishedAt  time.Time
	Status      string
	Entries     int
	FailedIndex *int
	FailedKey   *string
	Error       *string
	SkippedKeys []string
	Transfers   []TransferRecord
}

type TransferRecord struct {
	Position int
	Key      string
	Status   string
	Strategy *string
	Want     *string
	Amount   *string
	Decimals int
	TxHash   *string
	Error    *string
}

// Cycle loads a recorded cycle with its transfers ordered by position.
func (s *Store) Cycle(ctx context.Context, id uuid.UUID) (*CycleRecord, error) {
	var (
		rec   CycleRecord
		rawID string
	)
	err := s.cfg.Pool.QueryRow(ctx, `
		SELECT id::text, chain_id, started_at, finished_at, status, entries, failed_index, failed_key, error, skipped_keys
		FROM distribution_cycles
		WHERE id = $1::uuid`, id.String(),
	).Scan(&rawID, &rec.ChainID, &rec.StartedAt, &rec.FinishedAt, &rec.Status, &rec.Entries,
		&rec.FailedIndex, &rec.FailedKey, &rec.Error, &rec.SkippedKeys)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrCycleNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query cycle: %w", err)
	}
	if rec.ID, err = uuid.Parse(rawID); err != nil {
		return nil, fmt.Errorf("failed to parse cycle id: %w", err)
	}

	rows, err := s.cfg.Pool.Query(ctx, `
		SELECT position, key, status, strategy, want, amount::text, decimals, tx_hash, error
		FROM distribution_transfers
		WHERE cycle_id = $1::uuid
		ORDER BY position`, id.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var t TransferRecord
		if err := rows.Scan(&t.Position, &t.Key, &t.Status, &t.Strategy, &t.Want, &t.Amount,
			&t.Decimals, &t.TxHash, &t.Error); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		rec.Transfers = append(rec.Transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transfers: %w", err)
	}
	return &rec, nil
}
