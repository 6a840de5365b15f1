// The server binary exposes the engine's trigger surface: an external cron
// scheduler calls /jobs/process-campaigns and /jobs/process-emails, and each
// call runs one pass synchronously.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/leadmap/campaign-engine/internal/api"
	"github.com/leadmap/campaign-engine/internal/config"
	"github.com/leadmap/campaign-engine/internal/delivery"
	"github.com/leadmap/campaign-engine/internal/engine"
	"github.com/leadmap/campaign-engine/internal/gateway"
	"github.com/leadmap/campaign-engine/internal/pkg/distlock"
	"github.com/leadmap/campaign-engine/internal/policy"
	"github.com/leadmap/campaign-engine/internal/render"
	"github.com/leadmap/campaign-engine/internal/store"
)

func main() {
	log.Println("Starting LeadMap Campaign Engine server...")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}
	if cfg.Engine.CronSecret == "" {
		log.Println("[config] WARNING: no cron secret configured, job endpoints will reject all calls")
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancelPing()
		log.Fatalf("Failed to ping database: %v", err)
	}
	cancelPing()
	log.Println("Connected to database")

	var redisClient *redis.Client
	var throttle policy.Throttle = policy.NopThrottle{}
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Invalid REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opt)
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			// The throttle fails open and the lease falls back to advisory
			// locks, so a dead Redis only degrades the engine.
			log.Printf("[redis] ping failed, continuing degraded: %v", err)
		}
		throttle = policy.NewRedisThrottle(redisClient, time.Duration(cfg.Engine.ThrottleCooldownSeconds)*time.Second)
	}

	st := store.NewStore(db)
	renderer := render.NewEngine()
	compliance := render.NewCompliance(cfg.Tracking.BaseURL, cfg.Tracking.SigningKey,
		cfg.Compliance.CompanyName, cfg.Compliance.PhysicalAddress)

	var sparkpostSender, sesSender gateway.Sender
	if cfg.SparkPost.APIKey != "" {
		sparkpostSender = gateway.NewSparkPostSender(cfg.SparkPost.APIKey, cfg.SparkPost.BaseURL,
			time.Duration(cfg.SparkPost.TimeoutSeconds)*time.Second)
	}
	if s := gateway.NewSESSender(cfg.SES.AccessKey, cfg.SES.SecretKey, cfg.SES.Region); s != nil {
		sesSender = s
	}
	gw := gateway.NewRouter(sparkpostSender, sesSender, gateway.NewSMTPSender())

	refresher := gateway.NewTokenRefresher(
		cfg.OAuth.GoogleClientID, cfg.OAuth.GoogleClientSecret,
		cfg.OAuth.OutlookClientID, cfg.OAuth.OutlookClientSecret,
		time.Duration(cfg.Delivery.TokenRefreshWindowMinutes)*time.Minute)

	var tracker *delivery.Tracker
	if cfg.Tracking.BaseURL != "" && cfg.Tracking.SigningKey != "" {
		tracker = delivery.NewTracker(cfg.Tracking.BaseURL, cfg.Tracking.SigningKey)
	}

	var inline engine.InlineSender
	if cfg.Engine.InlineSend {
		inline = delivery.NewInlineSender(st, gw, tracker, refresher)
		log.Println("[engine] inline send enabled, messages deliver during the scan pass")
	}

	advancer := engine.NewAdvancer(st, renderer, compliance, inline, cfg.Engine.MaxRecipientErrors)

	var leaseFor engine.LeaseFactory
	if cfg.Engine.LockStrategy == "lease" {
		ttl := time.Duration(cfg.Engine.LeaseTTLSeconds) * time.Second
		leaseFor = func(campaignID uuid.UUID) distlock.Lease {
			return distlock.ForCampaign(redisClient, db, campaignID.String(), ttl)
		}
		log.Println("[engine] per-campaign lease enabled")
	}

	scanner := engine.NewScanner(st, throttle, advancer, leaseFor, cfg.Engine.RecipientBatchSize)

	worker := delivery.NewWorker(st, gw, tracker, refresher, delivery.Options{
		BatchSize:       cfg.Delivery.BatchSize,
		StaleAfter:      time.Duration(cfg.Delivery.StaleSendingMinutes) * time.Minute,
		MaxSendAttempts: cfg.Delivery.MaxSendAttempts,
		MaxRecipErrors:  cfg.Engine.MaxRecipientErrors,
	})

	handlers := api.NewHandlers(scanner, worker, api.NewHealthChecker(db, redisClient), cfg.Engine.AlternateBackendEnabled)
	router := api.SetupRoutes(handlers, cfg.Engine.CronSecret)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		// A scan pass over many campaigns can legitimately take minutes.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("Server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Shutdown error: %v", err)
	}
	if redisClient != nil {
		redisClient.Close()
	}
	log.Println("Server stopped")
}
