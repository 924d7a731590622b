package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store pairs the pool with its query set and scopes ledger writes to a
// transaction.
type Store struct {
	db      *pgxpool.Pool
	queries *Queries
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{
		db:      db,
		queries: New(db),
	}
}

// Queries returns the non-transactional query set.
func (s *Store) Queries() *Queries {
	return s.queries
}

// RunInTx executes fn in a read-committed transaction. Movement rows are
// locked explicitly with FOR UPDATE, so a stricter level buys nothing.
// Rollback runs detached from ctx so a canceled caller still releases locks.
func (s *Store) RunInTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(context.WithoutCancel(ctx)) }()

	if err := fn(s.queries.WithTx(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
