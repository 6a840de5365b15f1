package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/leadmap/campaign-engine/internal/pkg/httputil"
)

// HealthStatus is the /health response body.
type HealthStatus struct {
	Status string                    `json:"status"` // healthy, degraded, unhealthy
	Uptime string                    `json:"uptime"`
	Checks map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck reports one dependency.
type ComponentCheck struct {
	Status  string `json:"status"` // up, down, not_configured
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// HealthChecker probes the engine's dependencies. Redis may be nil; the
// engine runs without it.
type HealthChecker struct {
	db        *sql.DB
	redis     *redis.Client
	startTime time.Time
}

func NewHealthChecker(db *sql.DB, redisClient *redis.Client) *HealthChecker {
	return &HealthChecker{db: db, redis: redisClient, startTime: time.Now()}
}

func (hc *HealthChecker) Handle(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := HealthStatus{
		Status: "healthy",
		Uptime: time.Since(hc.startTime).Round(time.Second).String(),
		Checks: map[string]ComponentCheck{},
	}

	status.Checks["database"] = hc.checkDB(ctx)
	status.Checks["redis"] = hc.checkRedis(ctx)

	code := http.StatusOK
	if status.Checks["database"].Status == "down" {
		// The engine cannot do anything without its database.
		status.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	} else if status.Checks["redis"].Status == "down" {
		// Redis loss degrades throttling and leasing but sends continue.
		status.Status = "degraded"
	}

	httputil.JSON(w, code, status)
}

func (hc *HealthChecker) checkDB(ctx context.Context) ComponentCheck {
	if hc.db == nil {
		return ComponentCheck{Status: "not_configured"}
	}
	start := time.Now()
	if err := hc.db.PingContext(ctx); err != nil {
		return ComponentCheck{Status: "down", Message: err.Error()}
	}
	return ComponentCheck{Status: "up", Latency: time.Since(start).Round(time.Millisecond).String()}
}

func (hc *HealthChecker) checkRedis(ctx context.Context) ComponentCheck {
	if hc.redis == nil {
		return ComponentCheck{Status: "not_configured"}
	}
	start := time.Now()
	if err := hc.redis.Ping(ctx).Err(); err != nil {
		return ComponentCheck{Status: "down", Message: err.Error()}
	}
	return ComponentCheck{Status: "up", Latency: time.Since(start).Round(time.Millisecond).String()}
}
