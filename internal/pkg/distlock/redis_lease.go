package distlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLease provides a distributed lease via Redis using SET NX with TTL.
// It uses a random ownership value and a Lua script for atomic release to
// prevent accidental release of leases held by other processes. The TTL
// bounds how long a crashed holder can block other workers.
type RedisLease struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration
}

// NewRedisLease creates a new lease backed by Redis.
func NewRedisLease(client *redis.Client, key string, ttl time.Duration) *RedisLease {
	// Random ownership value so Release only deletes our own lease
	b := make([]byte, 16)
	rand.Read(b)
	return &RedisLease{
		client: client,
		key:    fmt.Sprintf("lease:%s", key),
		value:  hex.EncodeToString(b),
		ttl:    ttl,
	}
}

// Acquire tries to take the lease. Returns true if successful.
func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	result, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", l.key, err)
	}
	return result, nil
}

// Release releases the lease only if we still own it.
func (l *RedisLease) Release(ctx context.Context) error {
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`)
	_, err := script.Run(ctx, l.client, []string{l.key}, l.value).Result()
	return err
}
