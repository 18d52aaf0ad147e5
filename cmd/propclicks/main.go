// Command propclicks serves the guide click analytics API: collect
// endpoints for the site frontend, the Popular Now ranking, the
// authenticated rollup job, and a small session-gated admin surface.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hannerluke-gif/prop-tools/analytics"
	"github.com/hannerluke-gif/prop-tools/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("propclicks: load config: %v", err)
	}

	logger := newLogger(cfg.Env)
	defer logger.Sync()

	store, err := analytics.NewStore(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer store.Close()

	svc := analytics.NewService(store, cfg.AdminSecret, cfg.RetentionDays, cfg.RollupBufferDays)

	a := &app{cfg: cfg, log: logger, svc: svc}
	e := a.newServer()

	sched := startScheduler(cfg, svc, logger)

	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		if err := e.Start(cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	if sched != nil {
		<-sched.Stop().Done()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}

func newLogger(env string) *zap.Logger {
	var logger *zap.Logger
	var err error
	if env == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("propclicks: init logger: %v", err)
	}
	return logger
}

// startScheduler wires the in-process cron rollup when a schedule is set.
// The job calls the same authenticated path the HTTP endpoint uses, so it
// needs the admin secret too.
func startScheduler(cfg *config.Config, svc *analytics.Service, logger *zap.Logger) *cron.Cron {
	if cfg.RollupSchedule == "" {
		return nil
	}
	if cfg.AdminSecret == "" {
		logger.Error("rollup_schedule set but admin_secret is empty, scheduler disabled")
		return nil
	}

	sched := cron.New()
	_, err := sched.AddFunc(cfg.RollupSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		result, err := svc.Rollup(ctx, cfg.AdminSecret)
		if err != nil {
			logger.Error("scheduled rollup failed", zap.Error(err))
			return
		}
		logger.Info("scheduled rollup complete",
			zap.Int("aggregated_guides", result.AggregatedGuides),
			zap.Int("purged_records", result.PurgedRecords))
	})
	if err != nil {
		logger.Fatal("invalid rollup_schedule", zap.String("schedule", cfg.RollupSchedule), zap.Error(err))
	}
	sched.Start()
	logger.Info("rollup scheduler started", zap.String("schedule", cfg.RollupSchedule))
	return sched
}
