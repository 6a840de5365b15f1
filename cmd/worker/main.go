// The worker binary runs the delivery worker as a standalone daemon,
// draining the queued-message table on an interval. Deployments that trigger
// everything through cron can skip it and call /jobs/process-emails instead.
package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/leadmap/campaign-engine/internal/config"
	"github.com/leadmap/campaign-engine/internal/delivery"
	"github.com/leadmap/campaign-engine/internal/gateway"
	"github.com/leadmap/campaign-engine/internal/store"
)

func main() {
	log.Println("Starting LeadMap Delivery Worker...")

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

	st := store.NewStore(db)

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

	worker := delivery.NewWorker(st, gw, tracker, refresher, delivery.Options{
		BatchSize:       cfg.Delivery.BatchSize,
		Interval:        time.Duration(cfg.Delivery.IntervalSeconds) * time.Second,
		StaleAfter:      time.Duration(cfg.Delivery.StaleSendingMinutes) * time.Minute,
		MaxSendAttempts: cfg.Delivery.MaxSendAttempts,
		MaxRecipErrors:  cfg.Engine.MaxRecipientErrors,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := worker.Start(ctx); err != nil {
		log.Fatalf("Failed to start worker: %v", err)
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-done
	log.Println("Shutting down...")

	cancel()
	worker.Stop()
	log.Println("Worker stopped")
}
