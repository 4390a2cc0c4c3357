package app

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/bobmcallan/stocksync/internal/common"
	"github.com/bobmcallan/stocksync/internal/interfaces"
	"github.com/bobmcallan/stocksync/internal/services/pricesync"
)

// nextRun returns the first instant strictly after now that falls at
// hour:minute in loc on one of weekdays.
func nextRun(now time.Time, loc *time.Location, hour, minute int, weekdays []time.Weekday) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	for i := 0; i <= 7; i++ {
		d := local.AddDate(0, 0, i)
		candidate := time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, loc)
		if !candidate.After(now) {
			continue
		}
		if len(weekdays) == 0 || slices.Contains(weekdays, candidate.Weekday()) {
			return candidate
		}
	}
	// unreachable with a non-empty weekday set
	return local.AddDate(0, 0, 1)
}

// startSyncScheduler runs the price sync cycle at the configured time of day
// until ctx is cancelled. A cycle still running at the next tick is skipped.
func startSyncScheduler(ctx context.Context, svc interfaces.PriceSyncService, cfg *common.SyncConfig, logger *common.Logger, now func() time.Time) {
	loc := cfg.GetLocation()
	hour, minute := cfg.GetRunTime()
	weekdays := cfg.GetWeekdays()

	for {
		next := nextRun(now(), loc, hour, minute, weekdays)
		logger.Info().Time("next_run", next).Msg("Sync scheduler: next cycle scheduled")

		timer := time.NewTimer(next.Sub(now()))
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info().Msg("Sync scheduler: stopped")
			return
		case <-timer.C:
		}

		start := now()
		run, err := svc.RunCycle(ctx, pricesync.TriggerSchedule)
		switch {
		case errors.Is(err, pricesync.ErrSyncInProgress):
			logger.Warn().Msg("Sync scheduler: previous cycle still running, skipped")
		case err != nil:
			logger.Error().Err(err).Msg("Sync scheduler: cycle failed")
		default:
			logger.Info().
				Str("run_id", run.ID).
				Int("stocks_updated", run.StocksUpdated).
				Int("trades_updated", run.TradesUpdated).
				Dur("elapsed", now().Sub(start)).
				Msg("Sync scheduler: cycle complete")
		}
	}
}
