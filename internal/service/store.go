package service

import (
	"context"

	"github.com/ayo6706/funds-movement/internal/repository"
)

// QueryStore is the slice of repository.Store the Postgres ledger needs:
// plain queries for reads and a transaction for every state change.
type QueryStore interface {
	Queries() *repository.Queries
	RunInTx(ctx context.Context, fn func(q *repository.Queries) error) error
}

var _ QueryStore = (*repository.Store)(nil)
