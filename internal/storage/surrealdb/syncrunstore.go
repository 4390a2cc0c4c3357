package surrealdb

import (
	"context"
	"fmt"
	"time"

	"github.com/bobmcallan/stocksync/internal/common"
	"github.com/bobmcallan/stocksync/internal/interfaces"
	"github.com/bobmcallan/stocksync/internal/models"
	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
)

const syncRunSelectFields = `run_id, sync_trigger, status, started_at, completed_at, duration_ms,
	stocks_total, stocks_updated, stocks_failed, trades_updated, trades_paused, trades_failed,
	rebalanced, averages_updated, item_errors, fatal_error`

// syncRunRecord is the stored form of models.SyncRun. Field names avoid SurrealQL keywords.
type syncRunRecord struct {
	RunID           string    `json:"run_id"`
	SyncTrigger     string    `json:"sync_trigger"`
	Status          string    `json:"status"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
	DurationMS      int64     `json:"duration_ms"`
	StocksTotal     int       `json:"stocks_total"`
	StocksUpdated   int       `json:"stocks_updated"`
	StocksFailed    int       `json:"stocks_failed"`
	TradesUpdated   int       `json:"trades_updated"`
	TradesPaused    int       `json:"trades_paused"`
	TradesFailed    int       `json:"trades_failed"`
	Rebalanced      bool      `json:"rebalanced"`
	AveragesUpdated int       `json:"averages_updated"`
	ItemErrors      []string  `json:"item_errors"`
	FatalError      string    `json:"fatal_error"`
}

func (r *syncRunRecord) toModel() *models.SyncRun {
	return &models.SyncRun{
		ID:              r.RunID,
		Trigger:         r.SyncTrigger,
		Status:          r.Status,
		StartedAt:       r.StartedAt,
		CompletedAt:     r.CompletedAt,
		DurationMS:      r.DurationMS,
		StocksTotal:     r.StocksTotal,
		StocksUpdated:   r.StocksUpdated,
		StocksFailed:    r.StocksFailed,
		TradesUpdated:   r.TradesUpdated,
		TradesPaused:    r.TradesPaused,
		TradesFailed:    r.TradesFailed,
		Rebalanced:      r.Rebalanced,
		AveragesUpdated: r.AveragesUpdated,
		Errors:          r.ItemErrors,
		Error:           r.FatalError,
	}
}

const maxSyncRunList = 100

// SyncRunStore implements interfaces.SyncRunStore using SurrealDB.
type SyncRunStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewSyncRunStore creates a new SyncRunStore.
func NewSyncRunStore(db *surrealdb.DB, logger *common.Logger) *SyncRunStore {
	return &SyncRunStore{db: db, logger: logger}
}

func (s *SyncRunStore) Save(ctx context.Context, run *models.SyncRun) error {
	errs := run.Errors
	if errs == nil {
		errs = []string{}
	}

	sql := `UPSERT $rid SET
		run_id = $run_id, sync_trigger = $sync_trigger, status = $status,
		started_at = $started_at, completed_at = $completed_at, duration_ms = $duration_ms,
		stocks_total = $stocks_total, stocks_updated = $stocks_updated, stocks_failed = $stocks_failed,
		trades_updated = $trades_updated, trades_paused = $trades_paused, trades_failed = $trades_failed,
		rebalanced = $rebalanced, averages_updated = $averages_updated,
		item_errors = $item_errors, fatal_error = $fatal_error`
	vars := map[string]any{
		"rid":              surrealmodels.NewRecordID(tableSyncRun, run.ID),
		"run_id":           run.ID,
		"sync_trigger":     run.Trigger,
		"status":           run.Status,
		"started_at":       run.StartedAt,
		"completed_at":     run.CompletedAt,
		"duration_ms":      run.DurationMS,
		"stocks_total":     run.StocksTotal,
		"stocks_updated":   run.StocksUpdated,
		"stocks_failed":    run.StocksFailed,
		"trades_updated":   run.TradesUpdated,
		"trades_paused":    run.TradesPaused,
		"trades_failed":    run.TradesFailed,
		"rebalanced":       run.Rebalanced,
		"averages_updated": run.AveragesUpdated,
		"item_errors":      errs,
		"fatal_error":      run.Error,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to save sync run %s: %w", run.ID, err)
	}
	return nil
}

// Latest returns the most recently started run, or nil when there are none.
func (s *SyncRunStore) Latest(ctx context.Context) (*models.SyncRun, error) {
	runs, err := s.List(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return runs[0], nil
}

// List returns up to limit runs, newest first. limit is capped at 100.
func (s *SyncRunStore) List(ctx context.Context, limit int) ([]*models.SyncRun, error) {
	if limit < 1 || limit > maxSyncRunList {
		limit = maxSyncRunList
	}

	sql := "SELECT " + syncRunSelectFields + " FROM sync_run ORDER BY started_at DESC LIMIT $limit"
	results, err := surrealdb.Query[[]syncRunRecord](ctx, s.db, sql, map[string]any{"limit": limit})
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}

	runs := make([]*models.SyncRun, 0)
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			runs = append(runs, (*results)[0].Result[i].toModel())
		}
	}
	return runs, nil
}

// Compile-time check
var _ interfaces.SyncRunStore = (*SyncRunStore)(nil)
