// Package pricesync runs the scheduled price synchronization cycle: it
// refreshes every tracked stock from the upstream daily price API, updates
// active trades and auto-pauses them at the profit threshold, and rebalances
// trade cost bases once a week.
package pricesync

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/stocksync/internal/common"
	"github.com/bobmcallan/stocksync/internal/interfaces"
	"github.com/bobmcallan/stocksync/internal/models"
	"github.com/bobmcallan/stocksync/internal/services/pricing"
)

var (
	// ErrSyncInProgress is returned when a cycle is requested while one is running.
	ErrSyncInProgress = errors.New("price sync already running")
	// ErrStockNotFound is returned by UpdateStock for an unknown stock code.
	ErrStockNotFound = errors.New("tracked stock not found")
)

// Cycle triggers
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
	TriggerCLI      = "cli"
)

const queryDateLayout = "20060102"

// EventPublisher receives sync events; SyncWSHub is the production implementation.
type EventPublisher interface {
	Broadcast(event models.SyncEvent)
}

// Options tune a Service. Zero values fall back to the defaults of common.SyncConfig.
type Options struct {
	Location        *time.Location
	RebalanceDay    time.Weekday
	StockDelay      time.Duration
	MaxHistoryDays  int
	ProfitThreshold float64
}

// OptionsFromConfig builds Options from the sync configuration section.
func OptionsFromConfig(cfg *common.SyncConfig) Options {
	return Options{
		Location:        cfg.GetLocation(),
		RebalanceDay:    cfg.GetRebalanceDay(),
		StockDelay:      cfg.GetStockDelay(),
		MaxHistoryDays:  cfg.MaxHistoryDays,
		ProfitThreshold: cfg.ProfitThreshold,
	}
}

// Service implements interfaces.PriceSyncService
type Service struct {
	storage  interfaces.StorageManager
	upstream interfaces.UpstreamClient
	tokens   interfaces.TokenSource
	events   EventPublisher
	logger   *common.Logger
	opts     Options

	now   func() time.Time
	sleep common.SleepFunc

	running atomic.Bool
}

// NewService creates a price sync service. events may be nil.
func NewService(
	storage interfaces.StorageManager,
	upstream interfaces.UpstreamClient,
	tokens interfaces.TokenSource,
	events EventPublisher,
	logger *common.Logger,
	opts Options,
) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.MaxHistoryDays <= 0 {
		opts.MaxHistoryDays = 365
	}
	if opts.ProfitThreshold <= 0 {
		opts.ProfitThreshold = 5.0
	}
	return &Service{
		storage:  storage,
		upstream: upstream,
		tokens:   tokens,
		events:   events,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
		sleep:    common.SleepContext,
	}
}

// IsRunning reports whether a cycle is in progress. Safe for concurrent use.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}

// LastRun returns the most recently started persisted run, or nil.
func (s *Service) LastRun(ctx context.Context) (*models.SyncRun, error) {
	return s.storage.SyncRunStore().Latest(ctx)
}

// RunCycle performs one full synchronization cycle.
//
// Only a failure to obtain a token (or cancellation of ctx) aborts the cycle;
// failures for individual stocks and trades are logged, recorded on the
// returned run and skipped. The busy flag is cleared on every exit path.
func (s *Service) RunCycle(ctx context.Context, trigger string) (*models.SyncRun, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer s.running.Store(false)

	run := &models.SyncRun{
		ID:        uuid.New().String(),
		Trigger:   trigger,
		Status:    models.SyncRunStatusRunning,
		StartedAt: s.now(),
	}

	s.logger.Info().Str("run_id", run.ID).Str("trigger", trigger).Msg("Price sync cycle started")
	s.publish(run, models.SyncEvent{Type: models.SyncEventCycleStarted})
	s.saveRun(ctx, run)

	err := s.safeCycle(ctx, run)

	run.CompletedAt = s.now()
	run.DurationMS = run.CompletedAt.Sub(run.StartedAt).Milliseconds()
	if err != nil {
		run.Status = models.SyncRunStatusFailed
		run.Error = err.Error()
		s.logger.Error().Err(err).Str("run_id", run.ID).Msg("Price sync cycle aborted")
	} else {
		run.Status = models.SyncRunStatusCompleted
	}

	s.saveRun(ctx, run)
	s.publish(run, models.SyncEvent{Type: models.SyncEventCycleFinished, Message: run.Status})

	s.logger.Info().
		Str("run_id", run.ID).
		Str("status", run.Status).
		Int("stocks_updated", run.StocksUpdated).
		Int("stocks_failed", run.StocksFailed).
		Int("trades_updated", run.TradesUpdated).
		Int("trades_paused", run.TradesPaused).
		Bool("rebalanced", run.Rebalanced).
		Dur("elapsed", time.Duration(run.DurationMS)*time.Millisecond).
		Msg("Price sync cycle finished")

	return run, err
}

// safeCycle runs the cycle, converting a panic outside the per-item guards
// into an error.
func (s *Service) safeCycle(ctx context.Context, run *models.SyncRun) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("Recovered from panic in price sync cycle")
			err = fmt.Errorf("panic in price sync cycle: %v", r)
		}
	}()
	return s.cycle(ctx, run)
}

func (s *Service) cycle(ctx context.Context, run *models.SyncRun) error {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("token acquisition failed: %w", err)
	}

	today := s.today()
	queryDate := today.Format(queryDateLayout)
	current := token.Token

	if err := s.syncStocks(ctx, run, &current, today, queryDate); err != nil {
		return err
	}
	if err := s.syncTradePrices(ctx, run, &current, queryDate); err != nil {
		return err
	}

	if s.now().In(s.opts.Location).Weekday() != s.opts.RebalanceDay {
		return nil
	}

	s.logger.Info().Str("weekday", s.opts.RebalanceDay.String()).Msg("Rebalance day, updating trade average prices")
	token, err = s.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("token acquisition for rebalance failed: %w", err)
	}
	run.Rebalanced = true
	current = token.Token
	return s.rebalance(ctx, run, &current, queryDate)
}

func (s *Service) syncStocks(ctx context.Context, run *models.SyncRun, token *string, today time.Time, queryDate string) error {
	stocks, err := s.storage.StockStore().FindAll(ctx)
	if err != nil {
		s.recordError(run, "list stocks: %v", err)
		s.logger.Error().Err(err).Msg("Failed to list tracked stocks")
		return nil
	}
	run.StocksTotal = len(stocks)
	s.logger.Info().Int("count", len(stocks)).Msg("Updating tracked stocks")

	for _, stock := range stocks {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cycle cancelled: %w", err)
		}

		err := s.isolate(func() error {
			return s.updateStock(ctx, *token, stock, today, queryDate)
		})
		if err != nil {
			if rerr := s.renewToken(ctx, token, err); rerr != nil {
				return rerr
			}
			run.StocksFailed++
			s.recordError(run, "stock %s: %v", stock.Code, err)
			s.logger.Error().Err(err).Str("stock_code", stock.Code).Msg("Stock update failed")
			s.publish(run, models.SyncEvent{Type: models.SyncEventStockFailed, StockCode: stock.Code, Message: err.Error()})
		} else {
			run.StocksUpdated++
			s.publish(run, models.SyncEvent{Type: models.SyncEventStockUpdated, StockCode: stock.Code, Price: stock.CurrentPrice})
		}

		if err := s.sleep(ctx, s.opts.StockDelay); err != nil {
			return fmt.Errorf("cycle interrupted: %w", err)
		}
	}
	return nil
}

// updateStock fetches the history since capture and persists the merged prices.
// The record is saved once, after every field has been computed.
func (s *Service) updateStock(ctx context.Context, token string, stock *models.TrackedStock, today time.Time, queryDate string) error {
	days := models.DaysBetween(models.DateOf(stock.CaptureDate, time.UTC), today)
	maxCount := min(max(days+1, 1), s.opts.MaxHistoryDays)

	s.logger.Debug().
		Str("stock_code", stock.Code).
		Time("capture_date", stock.CaptureDate).
		Int("max_count", maxCount).
		Msg("Fetching stock history")

	points, err := s.upstream.FetchDailyPrices(ctx, token, stock.Code, queryDate, maxCount)
	if err != nil {
		return err
	}
	if len(points) == 0 {
		s.logger.Warn().Str("stock_code", stock.Code).Msg("No daily prices returned")
	}

	merged := pricing.Merge(stock.HighestPrice, stock.LowestPrice, points)
	stock.CurrentPrice = merged.CurrentPrice
	stock.HighestPrice = &merged.HighestPrice
	stock.LowestPrice = &merged.LowestPrice
	stock.UpdatedAt = s.now()

	if err := s.storage.StockStore().Save(ctx, stock); err != nil {
		return fmt.Errorf("save stock: %w", err)
	}

	s.logger.Info().
		Str("stock_code", stock.Code).
		Int("current", merged.CurrentPrice).
		Int("highest", merged.HighestPrice).
		Int("lowest", merged.LowestPrice).
		Msg("Stock updated")
	return nil
}

func (s *Service) syncTradePrices(ctx context.Context, run *models.SyncRun, token *string, queryDate string) error {
	trades, err := s.storage.TradeStore().FindByStatus(ctx, models.TradeStatusActive)
	if err != nil {
		s.recordError(run, "list active trades: %v", err)
		s.logger.Error().Err(err).Msg("Failed to list active trades")
		return nil
	}
	s.logger.Info().Int("count", len(trades)).Msg("Updating active trade prices")

	for _, trade := range trades {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cycle cancelled: %w", err)
		}

		var paused, updated bool
		err := s.isolate(func() error {
			var err error
			updated, paused, err = s.updateTradePrice(ctx, *token, trade, queryDate)
			return err
		})
		if rerr := s.renewToken(ctx, token, err); rerr != nil {
			return rerr
		}
		switch {
		case err != nil:
			run.TradesFailed++
			s.recordError(run, "trade %s (%s): %v", trade.ID, trade.StockCode, err)
			s.logger.Error().Err(err).Str("trade_id", trade.ID).Str("stock_code", trade.StockCode).Msg("Trade price update failed")
			s.publish(run, models.SyncEvent{Type: models.SyncEventTradeFailed, TradeID: trade.ID, StockCode: trade.StockCode, Message: err.Error()})
		case updated:
			run.TradesUpdated++
			evt := models.SyncEventTradeUpdated
			if paused {
				run.TradesPaused++
				evt = models.SyncEventTradePaused
			}
			s.publish(run, models.SyncEvent{Type: evt, TradeID: trade.ID, StockCode: trade.StockCode, Price: *trade.CurrentPrice})
		}

		if err := s.sleep(ctx, s.opts.StockDelay); err != nil {
			return fmt.Errorf("cycle interrupted: %w", err)
		}
	}
	return nil
}

// updateTradePrice sets the trade's current price from today's close and
// pauses it when the profit against its buy price reaches the threshold.
func (s *Service) updateTradePrice(ctx context.Context, token string, trade *models.SimulatedTrade, queryDate string) (updated, paused bool, err error) {
	points, err := s.upstream.FetchDailyPrices(ctx, token, trade.StockCode, queryDate, 1)
	if err != nil {
		return false, false, err
	}
	if len(points) == 0 {
		s.logger.Warn().Str("trade_id", trade.ID).Str("stock_code", trade.StockCode).Msg("No price for trade, skipping")
		return false, false, nil
	}

	closePrice := points[0].Close
	trade.CurrentPrice = &closePrice

	buyPrice, err := s.buyPrice(ctx, trade)
	switch {
	case err == nil:
		if rate, ok := pricing.ProfitRate(buyPrice, closePrice); ok {
			s.logger.Debug().
				Str("stock_code", trade.StockCode).
				Int("buy_price", buyPrice).
				Int("current_price", closePrice).
				Str("profit_rate", rate.StringFixed(2)).
				Msg("Trade profit evaluated")
			if pricing.ReachesThreshold(rate, s.opts.ProfitThreshold) {
				if err := trade.TransitionTo(models.TradeStatusPaused); err != nil {
					return false, false, err
				}
				paused = true
				s.logger.Info().
					Str("trade_id", trade.ID).
					Str("stock_code", trade.StockCode).
					Str("profit_rate", rate.StringFixed(2)).
					Msg("Profit threshold reached, trade paused")
			}
		}
	case errors.Is(err, models.ErrNotFound):
		s.logger.Debug().Str("trade_id", trade.ID).Msg("No buy price for trade, profit rule skipped")
	default:
		s.logger.Warn().Err(err).Str("trade_id", trade.ID).Msg("Buy price lookup failed, profit rule skipped")
	}

	trade.UpdatedAt = s.now()
	if err := s.storage.TradeStore().Save(ctx, trade); err != nil {
		return false, false, fmt.Errorf("save trade: %w", err)
	}
	return true, paused, nil
}

// buyPrice is the capture price of the trade's stock on the trade's start date.
func (s *Service) buyPrice(ctx context.Context, trade *models.SimulatedTrade) (int, error) {
	if trade.StartDate.IsZero() {
		return 0, models.ErrNotFound
	}
	return s.storage.StockStore().FindCapturedPrice(ctx, trade.StockCode, models.DateOf(trade.StartDate, time.UTC))
}

// rebalance buys one tranche of every active trade at today's close and
// folds it into the trade's average price.
func (s *Service) rebalance(ctx context.Context, run *models.SyncRun, token *string, queryDate string) error {
	trades, err := s.storage.TradeStore().FindByStatus(ctx, models.TradeStatusActive)
	if err != nil {
		s.recordError(run, "list trades for rebalance: %v", err)
		s.logger.Error().Err(err).Msg("Failed to list trades for rebalance")
		return nil
	}

	for _, trade := range trades {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cycle cancelled: %w", err)
		}

		var updated bool
		err := s.isolate(func() error {
			var err error
			updated, err = s.rebalanceTrade(ctx, *token, trade, queryDate)
			return err
		})
		if err != nil {
			if rerr := s.renewToken(ctx, token, err); rerr != nil {
				return rerr
			}
			run.TradesFailed++
			s.recordError(run, "rebalance %s (%s): %v", trade.ID, trade.StockCode, err)
			s.logger.Error().Err(err).Str("trade_id", trade.ID).Msg("Average price update failed")
			s.publish(run, models.SyncEvent{Type: models.SyncEventTradeFailed, TradeID: trade.ID, StockCode: trade.StockCode, Message: err.Error()})
		} else if updated {
			run.AveragesUpdated++
			s.publish(run, models.SyncEvent{Type: models.SyncEventAverageUpdated, TradeID: trade.ID, StockCode: trade.StockCode, Price: *trade.AveragePrice})
		}

		if err := s.sleep(ctx, s.opts.StockDelay); err != nil {
			return fmt.Errorf("cycle interrupted: %w", err)
		}
	}
	return nil
}

func (s *Service) rebalanceTrade(ctx context.Context, token string, trade *models.SimulatedTrade, queryDate string) (bool, error) {
	points, err := s.upstream.FetchDailyPrices(ctx, token, trade.StockCode, queryDate, 1)
	if err != nil {
		return false, err
	}
	if len(points) == 0 {
		s.logger.Warn().Str("trade_id", trade.ID).Str("stock_code", trade.StockCode).Msg("No price for rebalance, skipping")
		return false, nil
	}

	closePrice := points[0].Close
	avg, total := pricing.Accumulate(trade.AveragePrice, trade.CurrentBuyCount, closePrice, pricing.TrancheSize(trade))
	trade.AveragePrice = &avg
	trade.CurrentBuyCount = total
	trade.UpdatedAt = s.now()

	if err := s.storage.TradeStore().Save(ctx, trade); err != nil {
		return false, fmt.Errorf("save trade: %w", err)
	}

	s.logger.Info().
		Str("trade_id", trade.ID).
		Str("stock_code", trade.StockCode).
		Int("buy_price", closePrice).
		Int("average_price", avg).
		Int("buy_count", total).
		Msg("Trade average price updated")
	return true, nil
}

// UpdateStock refreshes one tracked stock by code outside the scheduled cycle.
func (s *Service) UpdateStock(ctx context.Context, code string) error {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("token acquisition failed: %w", err)
	}

	stock, err := s.storage.StockStore().FindByCode(ctx, code)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrStockNotFound, code)
		}
		return fmt.Errorf("find stock %s: %w", code, err)
	}

	today := s.today()
	current := token.Token
	update := func() error {
		return s.isolate(func() error {
			return s.updateStock(ctx, current, stock, today, today.Format(queryDateLayout))
		})
	}

	err = update()
	if errors.Is(err, models.ErrUpstreamUnauthorized) {
		if rerr := s.renewToken(ctx, &current, err); rerr != nil {
			return rerr
		}
		err = update()
	}
	return err
}

// renewToken replaces *token with a fresh one when err shows the upstream
// rejected it. The failed item is not retried. Only a failure to obtain the
// new token is returned, and it aborts the cycle.
func (s *Service) renewToken(ctx context.Context, token *string, err error) error {
	if !errors.Is(err, models.ErrUpstreamUnauthorized) {
		return nil
	}

	s.logger.Warn().Err(err).Msg("Upstream rejected access token, re-authenticating")
	s.tokens.Invalidate()
	fresh, terr := s.tokens.Token(ctx)
	if terr != nil {
		return fmt.Errorf("token renewal failed: %w", terr)
	}
	*token = fresh.Token
	return nil
}

func (s *Service) today() time.Time {
	return models.DateOf(s.now(), s.opts.Location)
}

// isolate runs one item's work, turning a panic into an error.
func (s *Service) isolate(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack", string(debug.Stack())).
				Msg("Recovered from panic while syncing item")
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func (s *Service) recordError(run *models.SyncRun, format string, args ...any) {
	run.Errors = append(run.Errors, fmt.Sprintf(format, args...))
}

func (s *Service) publish(run *models.SyncRun, event models.SyncEvent) {
	if s.events == nil {
		return
	}
	event.RunID = run.ID
	event.Timestamp = s.now()
	s.events.Broadcast(event)
}

// saveRun persists run history. It uses a context detached from cancellation
// so an interrupted cycle is still recorded.
func (s *Service) saveRun(ctx context.Context, run *models.SyncRun) {
	store := s.storage.SyncRunStore()
	if store == nil {
		return
	}
	if err := store.Save(context.WithoutCancel(ctx), run); err != nil {
		s.logger.Warn().Err(err).Str("run_id", run.ID).Msg("Failed to save sync run")
	}
}

// Compile-time check
var _ interfaces.PriceSyncService = (*Service)(nil)
