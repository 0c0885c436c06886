package main

import (
	"context"
	"fmt"
	"time"

	"github.com/EasterCompany/dex-triage-service/internal/logging"
	"github.com/EasterCompany/dex-triage-service/utils"
)

const healthInterval = 5 * time.Second

// RunCoreLogic keeps the health status current until ctx is cancelled.
func RunCoreLogic(ctx context.Context, svc *service) error {
	logger := svc.logs.Logger(logging.LoggerMain)
	utils.SetHealthStatus(utils.StatusOK, "Service is running normally")
	logger.Info("initialization complete, service is healthy")

	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	var lastDropped uint64
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutdown signal received")
			utils.SetHealthStatus(utils.StatusShuttingDown, "Core logic is shutting down")
			return nil

		case <-ticker.C:
			if err := checkDependencies(ctx, svc); err != nil {
				logger.Warn("dependency check failed", "error", err)
				utils.SetHealthStatus(utils.StatusDegraded, err.Error())
			} else {
				utils.SetHealthStatus(utils.StatusOK, "Service is running normally")
			}

			stats := svc.router.Stats()
			if stats.Dropped > lastDropped {
				logger.Warn("console broadcast queue full, messages dropped", "dropped", stats.Dropped-lastDropped)
				lastDropped = stats.Dropped
			}
		}
	}
}

// checkDependencies verifies the external services the triage path needs.
func checkDependencies(ctx context.Context, svc *service) error {
	if svc.redis == nil {
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := svc.redis.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis unreachable: %w", err)
	}
	return nil
}
