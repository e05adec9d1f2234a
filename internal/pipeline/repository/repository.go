package repository

import (
	"context"
	"errors"
	"fmt"

	"pipeline_backend/internal/pipeline/ports"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = ports.ErrNotFound

// querier is the subset shared by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository is the pgx implementation of ports.Store. A Repository returned
// by WithinTx routes every statement through the open transaction.
type Repository struct {
	pool *pgxpool.Pool
	q    querier
	inTx bool
}

var (
	_ ports.Store      = (*Repository)(nil)
	_ ports.Transactor = (*Repository)(nil)
)

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, q: pool}
}

func (r *Repository) WithinTx(ctx context.Context, fn func(ctx context.Context, store ports.Store) error) error {
	if r.inTx {
		return fn(ctx, r)
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &Repository{pool: r.pool, q: tx, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
