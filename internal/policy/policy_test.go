package policy

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadmap/campaign-engine/internal/domain"
)

func TestRedisThrottle(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	th := NewRedisThrottle(client, 60*time.Second)
	ctx := context.Background()

	id := uuid.NewString()
	assert.True(t, th.Acquire(ctx, id).Allowed)
	assert.False(t, th.Acquire(ctx, id).Allowed, "second acquire inside cooldown must deny")

	// Another campaign has its own key.
	assert.True(t, th.Acquire(ctx, uuid.NewString()).Allowed)

	mr.FastForward(61 * time.Second)
	assert.True(t, th.Acquire(ctx, id).Allowed, "cooldown expiry must readmit")
}

func TestRedisThrottleFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close()

	th := NewRedisThrottle(client, time.Minute)
	assert.True(t, th.Acquire(context.Background(), uuid.NewString()).Allowed)
}

func warmupCampaign(start time.Time, schedule domain.WarmupSchedule) *domain.Campaign {
	return &domain.Campaign{
		ID:             uuid.New(),
		Timezone:       "UTC",
		StartAt:        &start,
		WarmupEnabled:  true,
		WarmupSchedule: schedule,
	}
}

func TestEvaluateWarmup(t *testing.T) {
	sched := domain.WarmupSchedule{1: 5, 2: 10, 3: 20}
	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	t.Run("day one budget", func(t *testing.T) {
		c := warmupCampaign(start, sched)
		now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		st := EvaluateWarmup(c, now, 4)
		assert.True(t, st.Allowed)
		assert.Equal(t, 1, st.Day)
		assert.Equal(t, 5, st.Cap)
	})

	t.Run("day one cap reached", func(t *testing.T) {
		c := warmupCampaign(start, sched)
		now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		st := EvaluateWarmup(c, now, 5)
		assert.False(t, st.Allowed)
		assert.Contains(t, st.Reason, "cap reached")
	})

	t.Run("advances by calendar day regardless of pauses", func(t *testing.T) {
		c := warmupCampaign(start, sched)
		now := time.Date(2024, 3, 3, 1, 0, 0, 0, time.UTC)
		st := EvaluateWarmup(c, now, 0)
		assert.Equal(t, 3, st.Day)
		assert.Equal(t, 20, st.Cap)
	})

	t.Run("carries last cap past schedule end", func(t *testing.T) {
		c := warmupCampaign(start, sched)
		now := time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)
		st := EvaluateWarmup(c, now, 19)
		assert.Equal(t, 20, st.Cap)
		assert.True(t, st.Allowed)
	})

	t.Run("disabled warmup always allows", func(t *testing.T) {
		c := warmupCampaign(start, sched)
		c.WarmupEnabled = false
		st := EvaluateWarmup(c, time.Now(), 1_000_000)
		assert.True(t, st.Allowed)
	})

	t.Run("anchor falls back to creation time", func(t *testing.T) {
		c := warmupCampaign(start, sched)
		c.StartAt = nil
		c.CreatedAt = time.Date(2024, 3, 2, 23, 0, 0, 0, time.UTC)
		now := time.Date(2024, 3, 3, 1, 0, 0, 0, time.UTC)
		st := EvaluateWarmup(c, now, 0)
		assert.Equal(t, 2, st.Day, "day boundary is calendar midnight, not 24h elapsed")
	})
}

func TestEvaluateWindow(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	w := domain.SendWindow{
		Start:    "09:00",
		End:      "17:00",
		Weekdays: []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
	}

	t.Run("inside window", func(t *testing.T) {
		// Wednesday 10:30 New York.
		now := time.Date(2024, 3, 6, 15, 30, 0, 0, time.UTC)
		d := EvaluateWindow(w, ny, now)
		assert.True(t, d.Allowed)
	})

	t.Run("end bound is exclusive", func(t *testing.T) {
		// Wednesday 17:00 New York exactly.
		now := time.Date(2024, 3, 6, 22, 0, 0, 0, time.UTC)
		d := EvaluateWindow(w, ny, now)
		assert.False(t, d.Allowed)
		next := d.NextAvailable.In(ny)
		assert.Equal(t, time.Thursday, next.Weekday())
		assert.Equal(t, 9, next.Hour())
	})

	t.Run("before opening resumes same day", func(t *testing.T) {
		// Wednesday 06:00 New York.
		now := time.Date(2024, 3, 6, 11, 0, 0, 0, time.UTC)
		d := EvaluateWindow(w, ny, now)
		assert.False(t, d.Allowed)
		next := d.NextAvailable.In(ny)
		assert.Equal(t, time.Wednesday, next.Weekday())
		assert.Equal(t, 9, next.Hour())
	})

	t.Run("weekend skips to monday", func(t *testing.T) {
		// Saturday noon New York.
		now := time.Date(2024, 3, 9, 17, 0, 0, 0, time.UTC)
		d := EvaluateWindow(w, ny, now)
		assert.False(t, d.Allowed)
		assert.Equal(t, time.Monday, d.NextAvailable.In(ny).Weekday())
	})

	t.Run("unset window allows", func(t *testing.T) {
		d := EvaluateWindow(domain.SendWindow{}, ny, time.Now())
		assert.True(t, d.Allowed)
	})

	t.Run("malformed window allows", func(t *testing.T) {
		d := EvaluateWindow(domain.SendWindow{Start: "nine", End: "17:00"}, ny, time.Now())
		assert.True(t, d.Allowed)
	})
}

func TestEvaluateMailboxLimits(t *testing.T) {
	m := &domain.Mailbox{HourlyLimit: 10, DailyLimit: 50}

	d := EvaluateMailboxLimits(m, 3, 20)
	assert.True(t, d.Allowed)
	assert.Equal(t, 7, d.RemainingHourly)
	assert.Equal(t, 30, d.RemainingDaily)

	d = EvaluateMailboxLimits(m, 10, 20)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "hourly")

	d = EvaluateMailboxLimits(m, 0, 50)
	assert.False(t, d.Allowed)
	assert.Contains(t, d.Reason, "daily")

	d = EvaluateMailboxLimits(&domain.Mailbox{}, 9999, 9999)
	assert.True(t, d.Allowed, "zero limits mean unlimited")
	assert.Equal(t, -1, d.RemainingHourly)
}

func TestEvaluateCampaignCaps(t *testing.T) {
	c := &domain.Campaign{HourlyCap: 10, DailyCap: 100, TotalCap: 1000}

	assert.True(t, EvaluateCampaignCaps(c, 9, 99, 999).Allowed)
	assert.False(t, EvaluateCampaignCaps(c, 10, 0, 0).Allowed)
	assert.False(t, EvaluateCampaignCaps(c, 0, 100, 0).Allowed)
	assert.False(t, EvaluateCampaignCaps(c, 0, 0, 1000).Allowed)
	assert.True(t, EvaluateCampaignCaps(&domain.Campaign{}, 500, 500, 500).Allowed)
}
