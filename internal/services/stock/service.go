// Package stock provides tracked stock capture and lookup
package stock

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/stocksync/internal/common"
	"github.com/bobmcallan/stocksync/internal/interfaces"
	"github.com/bobmcallan/stocksync/internal/models"
	"github.com/bobmcallan/stocksync/internal/services/pricing"
)

// Compile-time interface check
var _ interfaces.StockService = (*Service)(nil)

var stockCodePattern = regexp.MustCompile(`^[0-9A-Z]{6}$`)

// Service implements StockService
type Service struct {
	storage  interfaces.StorageManager
	logger   *common.Logger
	location *time.Location
	now      func() time.Time
}

// NewService creates a new stock service. Capture dates default to today in loc.
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

// Capture records a stock at its capture price. The current, highest and
// lowest prices start at the capture price and are maintained by the sync cycle.
func (s *Service) Capture(ctx context.Context, stock *models.TrackedStock) (*models.TrackedStock, error) {
	stock.Code = strings.ToUpper(strings.TrimSpace(stock.Code))
	if !stockCodePattern.MatchString(stock.Code) {
		return nil, fmt.Errorf("%w: stock code %q must be six characters", models.ErrInvalidInput, stock.Code)
	}
	if stock.CapturePrice < 0 {
		return nil, fmt.Errorf("%w: capture_price must not be negative", models.ErrInvalidInput)
	}

	now := s.now()
	stock.ID = uuid.New().String()
	if stock.CaptureDate.IsZero() {
		stock.CaptureDate = models.DateOf(now, s.location)
	} else {
		stock.CaptureDate = models.DateOf(stock.CaptureDate, time.UTC)
	}

	stock.CurrentPrice = stock.CapturePrice
	if stock.CapturePrice > 0 {
		high, low := stock.CapturePrice, stock.CapturePrice
		stock.HighestPrice = &high
		stock.LowestPrice = &low
	} else {
		high, low := 0, pricing.UnknownLowest
		stock.HighestPrice = &high
		stock.LowestPrice = &low
	}
	stock.CreatedAt = now
	stock.UpdatedAt = now

	if err := s.storage.StockStore().Save(ctx, stock); err != nil {
		return nil, fmt.Errorf("failed to save stock: %w", err)
	}

	s.logger.Info().
		Str("stock_id", stock.ID).
		Str("stock_code", stock.Code).
		Int("capture_price", stock.CapturePrice).
		Time("capture_date", stock.CaptureDate).
		Msg("Stock captured")
	return stock, nil
}

// Get returns a tracked stock by ID
func (s *Service) Get(ctx context.Context, id string) (*models.TrackedStock, error) {
	stock, err := s.storage.StockStore().Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get stock %s: %w", id, err)
	}
	return stock, nil
}

// List returns all tracked stocks
func (s *Service) List(ctx context.Context) ([]*models.TrackedStock, error) {
	stocks, err := s.storage.StockStore().FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list stocks: %w", err)
	}
	return stocks, nil
}
