package policy

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Throttle enforces a per-campaign cooldown between scanner passes so a
// campaign is not drained by overlapping cron invocations.
type Throttle interface {
	// Acquire returns true when the campaign may be processed now. A
	// successful acquire starts the cooldown; callers do not release it.
	Acquire(ctx context.Context, campaignID string) Decision
}

// RedisThrottle implements Throttle with a SET-NX key per campaign. Redis
// being unreachable fails open: a broken cache must not halt sending.
type RedisThrottle struct {
	client   *redis.Client
	cooldown time.Duration
}

// NewRedisThrottle builds a throttle with the given cooldown. Cooldowns
// below one second are clamped to one second.
func NewRedisThrottle(client *redis.Client, cooldown time.Duration) *RedisThrottle {
	if cooldown < time.Second {
		cooldown = time.Second
	}
	return &RedisThrottle{client: client, cooldown: cooldown}
}

func (t *RedisThrottle) Acquire(ctx context.Context, campaignID string) Decision {
	key := fmt.Sprintf("campaign:throttle:%s", campaignID)
	ok, err := t.client.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), t.cooldown).Result()
	if err != nil {
		log.Printf("[Throttle] redis unavailable, failing open for campaign %s: %v", campaignID, err)
		return Allow()
	}
	if !ok {
		return Deny("throttled: cooldown active")
	}
	return Allow()
}

// NopThrottle always allows. Used when no Redis is configured.
type NopThrottle struct{}

func (NopThrottle) Acquire(ctx context.Context, campaignID string) Decision { return Allow() }
