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

const tradeSelectFields = `trade_id as id, stock_code, stock_name, invest_per, status, start_date, end_date,
	average_price, current_buy_count, target_buy_count, current_price,
	final_return_rate, final_period, created_at, updated_at`

// TradeStore implements interfaces.TradeStore using SurrealDB.
type TradeStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewTradeStore creates a new TradeStore.
func NewTradeStore(db *surrealdb.DB, logger *common.Logger) *TradeStore {
	return &TradeStore{db: db, logger: logger}
}

// Save writes every field of the trade in a single UPSERT, so a price update
// and an automatic pause are persisted together.
func (s *TradeStore) Save(ctx context.Context, trade *models.SimulatedTrade) error {
	if trade.ID == "" {
		return fmt.Errorf("failed to save trade: %w: empty id", models.ErrInvalidInput)
	}
	if trade.CreatedAt.IsZero() {
		trade.CreatedAt = time.Now()
	}
	if trade.UpdatedAt.IsZero() {
		trade.UpdatedAt = trade.CreatedAt
	}

	sql := `UPSERT $rid SET
		trade_id = $trade_id, stock_code = $stock_code, stock_name = $stock_name,
		invest_per = $invest_per, status = $status, start_date = $start_date, end_date = $end_date,
		average_price = $average_price, current_buy_count = $current_buy_count,
		target_buy_count = $target_buy_count, current_price = $current_price,
		final_return_rate = $final_return_rate, final_period = $final_period,
		created_at = $created_at, updated_at = $updated_at`
	vars := map[string]any{
		"rid":               surrealmodels.NewRecordID(tableSimulatedTrade, trade.ID),
		"trade_id":          trade.ID,
		"stock_code":        trade.StockCode,
		"stock_name":        trade.StockName,
		"invest_per":        trade.InvestPer,
		"status":            trade.Status,
		"start_date":        trade.StartDate,
		"end_date":          trade.EndDate,
		"average_price":     trade.AveragePrice,
		"current_buy_count": trade.CurrentBuyCount,
		"target_buy_count":  trade.TargetBuyCount,
		"current_price":     trade.CurrentPrice,
		"final_return_rate": trade.FinalReturnRate,
		"final_period":      trade.FinalPeriod,
		"created_at":        trade.CreatedAt,
		"updated_at":        trade.UpdatedAt,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to save trade %s: %w", trade.ID, err)
	}
	return nil
}

// Get returns a trade by ID, or an error wrapping models.ErrNotFound.
func (s *TradeStore) Get(ctx context.Context, id string) (*models.SimulatedTrade, error) {
	sql := "SELECT " + tradeSelectFields + " FROM $rid"
	vars := map[string]any{
		"rid": surrealmodels.NewRecordID(tableSimulatedTrade, id),
	}

	trades, err := s.query(ctx, sql, vars)
	if err != nil {
		return nil, err
	}
	if len(trades) == 0 {
		return nil, fmt.Errorf("trade %s: %w", id, models.ErrNotFound)
	}
	return trades[0], nil
}

func (s *TradeStore) FindByStatus(ctx context.Context, status string) ([]*models.SimulatedTrade, error) {
	sql := "SELECT " + tradeSelectFields + " FROM simulated_trade WHERE status = $status ORDER BY created_at DESC"
	return s.query(ctx, sql, map[string]any{"status": status})
}

func (s *TradeStore) List(ctx context.Context) ([]*models.SimulatedTrade, error) {
	sql := "SELECT " + tradeSelectFields + " FROM simulated_trade ORDER BY created_at DESC"
	return s.query(ctx, sql, nil)
}

func (s *TradeStore) query(ctx context.Context, sql string, vars map[string]any) ([]*models.SimulatedTrade, error) {
	results, err := surrealdb.Query[[]models.SimulatedTrade](ctx, s.db, sql, vars)
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}

	trades := make([]*models.SimulatedTrade, 0)
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			trades = append(trades, &(*results)[0].Result[i])
		}
	}
	return trades, nil
}

// Compile-time check
var _ interfaces.TradeStore = (*TradeStore)(nil)
