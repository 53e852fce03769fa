package main

import (
	"context"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/Cyannimazing/churchms-backend-sub001/internal/repository"
	"github.com/Cyannimazing/churchms-backend-sub001/internal/service"
	"github.com/Cyannimazing/churchms-backend-sub001/pkg/cache"
	"github.com/Cyannimazing/churchms-backend-sub001/pkg/clock"
	"github.com/Cyannimazing/churchms-backend-sub001/pkg/config"
	"github.com/Cyannimazing/churchms-backend-sub001/pkg/database"
	"github.com/Cyannimazing/churchms-backend-sub001/pkg/logger"
)

// Runs one subscription sweep and exits. Meant for cron when the in-process
// ticker is disabled.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg, "subscription-tick")
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close()

	repo := repository.NewSubscriptionRepository(db)
	var subs *service.SubscriptionService
	if client, err := cache.NewRedis(cfg.Redis); err != nil {
		logr.Warn("redis unavailable, running tick without lock", zap.Error(err))
		subs = service.NewSubscriptionService(repo, db, nil, cfg.Subscriptions.LockTTL, nil, clock.System(), logr)
	} else {
		defer client.Close()
		subs = service.NewSubscriptionService(repo, db, repository.NewLockRepository(client), cfg.Subscriptions.LockTTL, nil, clock.System(), logr)
	}
	subs.WithLockKey(cfg.Subscriptions.LockKey)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	report, ran, err := subs.GuardedTick(ctx)
	if err != nil {
		logr.Error("subscription tick failed", zap.Error(err))
		os.Exit(1)
	}
	if !ran {
		logr.Info("subscription tick skipped, another runner holds the lock")
		return
	}
	logr.Info("subscription tick done",
		zap.Int64("expired", report.Expired),
		zap.Int("activated", report.Activated),
		zap.Int64("hidden_churches", report.HiddenChurches))
}
