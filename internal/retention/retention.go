// Package retention runs the scheduled maintenance sweep: re-asserting the
// per-conversation cap and purging conversations idle beyond the
// configured age.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"parley/pkg/config"
	"parley/pkg/logger"
	"parley/pkg/store"
	"parley/pkg/window"
)

// Start launches the scheduler when retention is enabled. Returns a cancel
// func; callers always get a usable one.
func Start(ctx context.Context, cfg *config.Config, st *store.Store, windows *window.Reader) (context.CancelFunc, error) {
	ret := cfg.Retention
	if !ret.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	cronExpr := ret.Cron
	if cronExpr == "" {
		cronExpr = "0 2 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", ret.Cron)
		return nil, fmt.Errorf("invalid retention cron expression: %s", ret.Cron)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "max_age", ret.MaxAge.Duration().String(), "dry_run", ret.DryRun)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cronExpr, ret.MaxAge.Duration(), ret.DryRun, st, windows)
	return cancel, nil
}

// runScheduler computes the next cron tick with gronx and sleeps until it.
func runScheduler(ctx context.Context, cronExpr string, maxAge time.Duration, dryRun bool, st *store.Store, windows *window.Reader) {
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
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err.Error())
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if err := RunOnce(st, windows, maxAge, dryRun); err != nil {
				logger.Error("retention_run_error", "error", err.Error())
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// RunOnce performs a single sweep over every conversation.
func RunOnce(st *store.Store, windows *window.Reader, maxAge time.Duration, dryRun bool) error {
	convs, err := st.ListConversations()
	if err != nil {
		return fmt.Errorf("list conversations: %w", err)
	}
	var trimmed, purged int
	cutoff := time.Now().UTC().Add(-maxAge).UnixNano()
	for _, conv := range convs {
		if maxAge > 0 {
			newest, err := st.NewestTS(conv)
			if err == nil && newest > 0 && newest < cutoff {
				if dryRun {
					logger.Info("retention_would_purge", "conversation", conv)
					continue
				}
				if err := st.Purge(conv); err != nil {
					logger.Error("retention_purge_failed", "conversation", conv, "error", err.Error())
					continue
				}
				windows.Evict(conv)
				purged++
				continue
			}
		}
		if dryRun {
			continue
		}
		n, err := st.TrimToCap(conv)
		if err != nil {
			logger.Error("retention_trim_failed", "conversation", conv, "error", err.Error())
			continue
		}
		if n > 0 {
			trimmed += n
			if _, err := windows.Refresh(conv); err != nil {
				logger.Warn("window_refresh_failed", "conversation", conv, "error", err.Error())
			}
		}
	}
	logger.Info("retention_run_complete", "conversations", len(convs), "trimmed", trimmed, "purged", purged)
	return nil
}
