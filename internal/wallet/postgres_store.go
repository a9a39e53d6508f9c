package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const schema = `
CREATE TABLE IF NOT EXISTS wallets (
    id      UUID PRIMARY KEY,
    balance NUMERIC(28, 8) NOT NULL CHECK (balance >= 0),
    version BIGINT NOT NULL DEFAULT 0
)`

// PostgreSQL error codes that mean the row lock could not be taken.
const (
	pgLockNotAvailable     = "55P03"
	pgDeadlockDetected     = "40P01"
	pgSerializationFailure = "40001"
	pgUniqueViolation      = "23505"
)

// PostgresStore keeps one row per wallet and serializes writers with
// SELECT ... FOR UPDATE under a per-transaction lock_timeout.
type PostgresStore struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresStore builds a store backed by PostgreSQL.
func NewPostgresStore(db *pgxpool.Pool, lockTimeout time.Duration) *PostgresStore {
	return &PostgresStore{db: db, lockTimeout: lockTimeout}
}

// Migrate creates the wallets table if it does not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate wallets: %w", err)
	}
	return nil
}

// Create inserts a wallet record.
func (s *PostgresStore) Create(ctx context.Context, w Wallet) error {
	_, err := s.db.Exec(ctx, `INSERT INTO wallets (id, balance, version) VALUES ($1, $2::numeric, $3)`,
		w.ID, w.Balance.String(), w.Version)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrWalletExists
		}
		return fmt.Errorf("insert wallet: %w", err)
	}
	return nil
}

// Lookup reads the committed wallet row without taking a lock.
func (s *PostgresStore) Lookup(ctx context.Context, id uuid.UUID) (Wallet, error) {
	row := s.db.QueryRow(ctx, `SELECT id, balance::text, version FROM wallets WHERE id = $1`, id)
	w, err := scanWallet(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, fmt.Errorf("lookup wallet %s: %w", id, err)
	}
	return w, nil
}

// LockedLookup opens a transaction and locks the wallet row. The transaction
// stays open until the returned scope is released or written back. Waiting
// for a pool connection and for the row lock share one lockTimeout budget.
func (s *PostgresStore) LockedLookup(ctx context.Context, id uuid.UUID) (Wallet, Scope, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, s.lockTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(acquireCtx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Wallet{}, nil, fmt.Errorf("%w: begin: %v", ErrContention, err)
	}

	timeout := fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())
	if _, err := tx.Exec(acquireCtx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
		tx.Rollback(ctx) // nolint:errcheck
		return Wallet{}, nil, fmt.Errorf("%w: set lock timeout: %v", ErrContention, err)
	}

	row := tx.QueryRow(acquireCtx, `SELECT id, balance::text, version FROM wallets WHERE id = $1 FOR UPDATE`, id)
	w, err := scanWallet(row)
	if err != nil {
		tx.Rollback(ctx) // nolint:errcheck
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, nil, ErrWalletNotFound
		}
		return Wallet{}, nil, lockError(id, err)
	}

	return w, &postgresScope{tx: tx, id: id}, nil
}

func lockError(id uuid.UUID, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgDeadlockDetected, pgSerializationFailure:
			return fmt.Errorf("%w: wallet %s: %s", ErrContention, id, pgErr.Message)
		}
	}
	return fmt.Errorf("%w: lock wallet %s: %v", ErrContention, id, err)
}

type postgresScope struct {
	tx   pgx.Tx
	id   uuid.UUID
	done atomic.Bool
}

// WriteBack updates the locked row and commits, which also drops the lock.
func (sc *postgresScope) WriteBack(ctx context.Context, w *Wallet) error {
	if sc.done.Load() {
		return ErrScopeReleased
	}
	if w.ID != sc.id {
		return fmt.Errorf("write back wallet %s through scope of %s", w.ID, sc.id)
	}

	next := w.Version + 1
	tag, err := sc.tx.Exec(ctx, `UPDATE wallets SET balance = $1::numeric, version = $2 WHERE id = $3`,
		w.Balance.String(), next, w.ID)
	if err != nil {
		return fmt.Errorf("update wallet %s: %w", w.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}

	if !sc.done.CompareAndSwap(false, true) {
		return ErrScopeReleased
	}
	if err := sc.tx.Commit(ctx); err != nil {
		sc.tx.Rollback(ctx) // nolint:errcheck
		return fmt.Errorf("commit wallet %s: %w", w.ID, err)
	}
	w.Version = next
	return nil
}

// Release rolls back the transaction if it was not committed.
func (sc *postgresScope) Release(ctx context.Context) error {
	if !sc.done.CompareAndSwap(false, true) {
		return nil
	}
	if err := sc.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("release wallet %s: %w", sc.id, err)
	}
	return nil
}

func scanWallet(row pgx.Row) (Wallet, error) {
	var (
		w       Wallet
		balance string
	)
	if err := row.Scan(&w.ID, &balance, &w.Version); err != nil {
		return Wallet{}, err
	}
	amount, err := decimal.NewFromString(balance)
	if err != nil {
		return Wallet{}, fmt.Errorf("parse balance %q: %w", balance, err)
	}
	w.Balance = amount
	return w, nil
}
