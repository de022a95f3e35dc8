// Command janitor runs periodic expiry sweeps over the token and
// verification-token tables so they don't grow unbounded. It is meant to
// run as a single long-lived process (one per deployment, not per pod).
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nullstack-id/identitycore/internal/config"
	"github.com/nullstack-id/identitycore/internal/repo/postgres"
	"github.com/nullstack-id/identitycore/internal/storage"
	"github.com/robfig/cron/v3"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	pool, err := storage.NewPostgres(cfg.Database.URL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	refreshTokens := postgres.NewRefreshTokens(pool)
	revokedTokens := postgres.NewRevokedTokens(pool)
	verificationTokens := postgres.NewVerificationTokens(pool)

	sweep := func() {
		runSweep(context.Background(), logger, refreshTokens, revokedTokens, verificationTokens)
	}

	c := cron.New()
	if _, err := c.AddFunc("@hourly", sweep); err != nil {
		logger.Error("failed to schedule sweep", "error", err)
		os.Exit(1)
	}
	c.Start()
	defer c.Stop()

	logger.Info("janitor started", "schedule", "@hourly")
	sweep()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("janitor shutting down")
}

type expirySweeper interface {
	DeleteExpiredBefore(ctx context.Context, before time.Time) (int64, error)
}

func runSweep(ctx context.Context, logger *slog.Logger, refreshTokens, revokedTokens, verificationTokens expirySweeper) {
	logger.Info("running expiry sweep")
	now := time.Now()

	sweepOne := func(name string, s expirySweeper) {
		n, err := s.DeleteExpiredBefore(ctx, now)
		if err != nil {
			logger.Error("sweep failed", "table", name, "error", err)
			return
		}
		if n > 0 {
			logger.Info("swept expired rows", "table", name, "deleted", n)
		}
	}

	sweepOne("refresh_tokens", refreshTokens)
	sweepOne("revoked_tokens", revokedTokens)
	sweepOne("verification_tokens", verificationTokens)
}
