// Package store provides the Postgres persistence layer for the campaign
// engine. All queries are raw SQL over database/sql; every method takes a
// context and applies its own statement timeout.
package store

import (
	"context"
	"database/sql"
	"time"
)

// queryTimeout bounds individual statements so one slow query cannot stall a
// whole scan pass.
const queryTimeout = 15 * time.Second

// Store provides database operations for campaigns, recipients, steps,
// messages, and mailboxes.
type Store struct {
	db *sql.DB
}

// NewStore creates a store over an existing connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying pool for components that need it directly, such
// as advisory-lock leases.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, queryTimeout)
}
