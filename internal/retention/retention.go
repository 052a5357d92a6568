// Package retention schedules the purge of tombstoned messages. Deletes
// are soft everywhere else in the system; this is the only place rows are
// physically removed.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"chatsync/pkg/config"
	"chatsync/pkg/logger"
	"chatsync/pkg/store"
)

const defaultCron = "0 2 * * *"

// RunOnce executes a single purge pass with the given policy.
func RunOnce(st *store.Store, ret config.RetentionConfig) (int, error) {
	maxAge := ret.MaxAge.Duration()
	if maxAge <= 0 {
		maxAge = 30 * 24 * time.Hour
	}
	cutoff := time.Now().Add(-maxAge).UnixNano()
	n, err := st.PurgeDeletedBefore(cutoff, ret.BatchSize, ret.DryRun)
	if err != nil {
		logger.Error("retention_run_error", "error", err)
		return n, err
	}
	logger.Info("retention_run_complete", "purged", n, "dry_run", ret.DryRun)
	return n, nil
}

// Start launches the cron scheduler when retention is enabled. The returned
// cancel stops it.
func Start(ctx context.Context, st *store.Store, ret config.RetentionConfig) (context.CancelFunc, error) {
	if !ret.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}
	cronExpr := ret.Cron
	if cronExpr == "" {
		cronExpr = defaultCron
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", ret.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", ret.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "max_age", ret.MaxAge.Duration().String())
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, st, ret, cronExpr)
	return cancel, nil
}

// runScheduler sleeps until the next cron tick and runs a purge pass. gronx
// computes the tick, so full cron syntax is supported.
func runScheduler(ctx context.Context, st *store.Store, ret config.RetentionConfig, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		wait := time.Until(next)
		if wait <= 0 {
			_, _ = RunOnce(st, ret)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(wait):
			_, _ = RunOnce(st, ret)
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}
