// Package trade manages the simulated trade lifecycle
package trade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/stocksync/internal/common"
	"github.com/bobmcallan/stocksync/internal/interfaces"
	"github.com/bobmcallan/stocksync/internal/models"
	"github.com/bobmcallan/stocksync/internal/services/pricing"
)

// Compile-time interface check
var _ interfaces.TradeService = (*Service)(nil)

// Service implements TradeService
type Service struct {
	storage  interfaces.StorageManager
	logger   *common.Logger
	location *time.Location
	now      func() time.Time
}

// NewService creates a new trade service. Dates are taken in loc.
func NewService(storage interfaces.StorageManager, logger *common.Logger, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		storage:  storage,
		logger:   logger,
		location: loc,
		now:      time.Now,
	}
}

// Create stores a new ACTIVE trade. A zero start date means today.
func (s *Service) Create(ctx context.Context, trade *models.SimulatedTrade) (*models.SimulatedTrade, error) {
	trade.StockCode = strings.TrimSpace(trade.StockCode)
	if trade.StockCode == "" {
		return nil, fmt.Errorf("%w: stock_code is required", models.ErrInvalidInput)
	}
	if trade.InvestPer < 0 {
		return nil, fmt.Errorf("%w: invest_per must not be negative", models.ErrInvalidInput)
	}
	if trade.TargetBuyCount != nil && *trade.TargetBuyCount < 0 {
		return nil, fmt.Errorf("%w: target_buy_count must not be negative", models.ErrInvalidInput)
	}

	now := s.now()
	trade.ID = uuid.New().String()
	trade.Status = models.TradeStatusActive
	if trade.StartDate.IsZero() {
		trade.StartDate = models.DateOf(now, s.location)
	} else {
		trade.StartDate = models.DateOf(trade.StartDate, time.UTC)
	}
	trade.EndDate = nil
	trade.FinalReturnRate = nil
	trade.FinalPeriod = nil
	trade.CreatedAt = now
	trade.UpdatedAt = now

	if err := s.storage.TradeStore().Save(ctx, trade); err != nil {
		return nil, fmt.Errorf("failed to save trade: %w", err)
	}

	s.logger.Info().
		Str("trade_id", trade.ID).
		Str("stock_code", trade.StockCode).
		Time("start_date", trade.StartDate).
		Msg("Trade created")
	return trade, nil
}

// Get returns a trade with its buy price resolved from the stock captured on
// the trade's start date. BuyPrice is nil when no such capture exists.
func (s *Service) Get(ctx context.Context, id string) (*models.TradeView, error) {
	trade, err := s.storage.TradeStore().Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get trade %s: %w", id, err)
	}

	view := &models.TradeView{SimulatedTrade: trade}
	price, err := s.storage.StockStore().FindCapturedPrice(ctx, trade.StockCode, models.DateOf(trade.StartDate, time.UTC))
	switch {
	case err == nil:
		view.BuyPrice = &price
	case errors.Is(err, models.ErrNotFound):
	default:
		s.logger.Warn().Err(err).Str("trade_id", id).Msg("Buy price lookup failed")
	}
	return view, nil
}

// List returns trades, newest first, optionally filtered by status.
func (s *Service) List(ctx context.Context, status string) ([]*models.SimulatedTrade, error) {
	if status == "" {
		trades, err := s.storage.TradeStore().List(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list trades: %w", err)
		}
		return trades, nil
	}

	status = strings.ToUpper(status)
	if !models.IsValidTradeStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrInvalidInput, status)
	}
	trades, err := s.storage.TradeStore().FindByStatus(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s trades: %w", status, err)
	}
	return trades, nil
}

// Pause stops an ACTIVE trade from being priced and rebalanced.
func (s *Service) Pause(ctx context.Context, id string) (*models.SimulatedTrade, error) {
	return s.transition(ctx, id, models.TradeStatusPaused, nil)
}

// Resume reactivates a PAUSED trade.
func (s *Service) Resume(ctx context.Context, id string) (*models.SimulatedTrade, error) {
	return s.transition(ctx, id, models.TradeStatusActive, nil)
}

// Complete closes a trade, recording end date, final return rate and holding period.
func (s *Service) Complete(ctx context.Context, id string) (*models.SimulatedTrade, error) {
	return s.transition(ctx, id, models.TradeStatusCompleted, func(trade *models.SimulatedTrade) {
		today := models.DateOf(s.now(), s.location)
		trade.EndDate = &today

		if rate, ok := pricing.ReturnRate(trade.AveragePrice, trade.CurrentPrice); ok {
			trade.FinalReturnRate = &rate
		}

		period := max(models.DaysBetween(models.DateOf(trade.StartDate, time.UTC), today), 0)
		trade.FinalPeriod = &period
	})
}

func (s *Service) transition(ctx context.Context, id, status string, apply func(*models.SimulatedTrade)) (*models.SimulatedTrade, error) {
	trade, err := s.storage.TradeStore().Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get trade %s: %w", id, err)
	}

	from := trade.Status
	if err := trade.TransitionTo(status); err != nil {
		return nil, err
	}
	if apply != nil {
		apply(trade)
	}
	trade.UpdatedAt = s.now()

	if err := s.storage.TradeStore().Save(ctx, trade); err != nil {
		return nil, fmt.Errorf("failed to save trade %s: %w", id, err)
	}

	s.logger.Info().
		Str("trade_id", id).
		Str("from", from).
		Str("to", status).
		Msg("Trade status changed")
	return trade, nil
}
