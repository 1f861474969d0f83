package tasks

import (
	"context"
	"fmt"
	"time"

	"newsagent/internal/metrics"
)

// newRetentionPurgeTask creates the scheduled task that removes stored
// messages older than the configured retention age.
func newRetentionPurgeTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "retention_purge")

	return func(ctx context.Context) error {
		age := deps.Config.RetentionAge()
		log.InfoContext(ctx, "Starting scheduled retention purge task...", "age", age)
		startTime := time.Now()

		timeoutCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		defer cancel()

		count, err := deps.Store.PurgeOlderThan(timeoutCtx, age)
		duration := time.Since(startTime)

		if err != nil {
			log.ErrorContext(ctx, "Retention purge task failed", "error", err, "duration", duration)
			return fmt.Errorf("retention purge failed: %w", err)
		}

		metrics.PurgedMessages.Add(float64(count))
		log.InfoContext(ctx, "Scheduled retention purge task completed",
			"purged", count, "duration", duration)
		return nil
	}
}
