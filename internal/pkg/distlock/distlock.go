// Package distlock provides the optional per-campaign lease used to keep two
// overlapping engine invocations from processing the same campaign. Without a
// lease the engine runs with at-least-once semantics and relies on message
// dedupe; with a lease, overlap is narrowed to lease expiry.
package distlock

import (
	"context"
	"database/sql"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lease is the interface for a distributed campaign lease.
// Implementations must be safe for use from a single goroutine;
// concurrent use across goroutines requires separate lease instances.
type Lease interface {
	// Acquire tries to take the lease. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lease if we still own it.
	Release(ctx context.Context) error
}

// ForCampaign creates a lease for one campaign using the best available
// backend. If redisClient is non-nil, uses Redis (preferred for cross-host
// coordination). Otherwise falls back to PostgreSQL advisory locks.
func ForCampaign(redisClient *redis.Client, db *sql.DB, campaignID string, ttl time.Duration) Lease {
	key := "campaign:" + campaignID
	if redisClient != nil {
		return NewRedisLease(redisClient, key, ttl)
	}
	return NewPGAdvisoryLease(db, key)
}

// =============================================================================
// PostgreSQL Advisory Lock (fallback when Redis is unavailable)
// =============================================================================
// Uses pg_try_advisory_lock / pg_advisory_unlock which are session-scoped.
// The lock is automatically released if the DB connection drops, providing
// crash-safety similar to Redis TTL expiration.

// PGAdvisoryLease implements Lease using PostgreSQL advisory locks.
type PGAdvisoryLease struct {
	db     *sql.DB
	lockID int64
}

// NewPGAdvisoryLease creates a PG advisory lease with a deterministic lock ID
// derived from the given key string.
func NewPGAdvisoryLease(db *sql.DB, key string) *PGAdvisoryLease {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLease{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire tries to take the advisory lock. Returns true if successful.
// Uses pg_try_advisory_lock which returns immediately (non-blocking).
func (l *PGAdvisoryLease) Acquire(ctx context.Context) (bool, error) {
	var acquired bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired)
	return acquired, err
}

// Release releases the advisory lock.
func (l *PGAdvisoryLease) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}
