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

// stockSelectFields lists the fields to select from tracked_stock, aliasing stock_id to id for struct mapping.
// capture_day and created_at are selected so they can be ordered on.
const stockSelectFields = `stock_id as id, code, name, market, capture_price, capture_date, capture_day,
	current_price, highest_price, lowest_price, created_at, updated_at`

// captureDayLayout is the form of capture_day, the date part of capture_date used for equality lookups.
const captureDayLayout = "2006-01-02"

// StockStore implements interfaces.StockStore using SurrealDB.
type StockStore struct {
	db     *surrealdb.DB
	logger *common.Logger
}

// NewStockStore creates a new StockStore.
func NewStockStore(db *surrealdb.DB, logger *common.Logger) *StockStore {
	return &StockStore{db: db, logger: logger}
}

// Save writes every field of the stock in a single UPSERT.
func (s *StockStore) Save(ctx context.Context, stock *models.TrackedStock) error {
	if stock.ID == "" {
		return fmt.Errorf("failed to save stock: %w: empty id", models.ErrInvalidInput)
	}
	if stock.CreatedAt.IsZero() {
		stock.CreatedAt = time.Now()
	}
	if stock.UpdatedAt.IsZero() {
		stock.UpdatedAt = stock.CreatedAt
	}

	sql := `UPSERT $rid SET
		stock_id = $stock_id, code = $code, name = $name, market = $market,
		capture_price = $capture_price, capture_date = $capture_date, capture_day = $capture_day,
		current_price = $current_price, highest_price = $highest_price, lowest_price = $lowest_price,
		created_at = $created_at, updated_at = $updated_at`
	vars := map[string]any{
		"rid":           surrealmodels.NewRecordID(tableTrackedStock, stock.ID),
		"stock_id":      stock.ID,
		"code":          stock.Code,
		"name":          stock.Name,
		"market":        stock.Market,
		"capture_price": stock.CapturePrice,
		"capture_date":  stock.CaptureDate,
		"capture_day":   stock.CaptureDate.UTC().Format(captureDayLayout),
		"current_price": stock.CurrentPrice,
		"highest_price": stock.HighestPrice,
		"lowest_price":  stock.LowestPrice,
		"created_at":    stock.CreatedAt,
		"updated_at":    stock.UpdatedAt,
	}

	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return fmt.Errorf("failed to save stock %s: %w", stock.Code, err)
	}
	return nil
}

// Get returns a stock by ID, or an error wrapping models.ErrNotFound.
func (s *StockStore) Get(ctx context.Context, id string) (*models.TrackedStock, error) {
	sql := "SELECT " + stockSelectFields + " FROM $rid"
	vars := map[string]any{
		"rid": surrealmodels.NewRecordID(tableTrackedStock, id),
	}

	stocks, err := s.query(ctx, sql, vars)
	if err != nil {
		return nil, err
	}
	if len(stocks) == 0 {
		return nil, fmt.Errorf("stock %s: %w", id, models.ErrNotFound)
	}
	return stocks[0], nil
}

// FindAll returns every stock, oldest capture first.
func (s *StockStore) FindAll(ctx context.Context) ([]*models.TrackedStock, error) {
	sql := "SELECT " + stockSelectFields + " FROM tracked_stock ORDER BY capture_day ASC, created_at ASC"
	return s.query(ctx, sql, nil)
}

// FindByCode returns the stock with code captured most recently.
func (s *StockStore) FindByCode(ctx context.Context, code string) (*models.TrackedStock, error) {
	sql := "SELECT " + stockSelectFields + " FROM tracked_stock WHERE code = $code ORDER BY capture_day DESC, created_at DESC LIMIT 1"
	stocks, err := s.query(ctx, sql, map[string]any{"code": code})
	if err != nil {
		return nil, err
	}
	if len(stocks) == 0 {
		return nil, fmt.Errorf("stock %s: %w", code, models.ErrNotFound)
	}
	return stocks[0], nil
}

// FindCapturedPrice returns the capture price of the stock with code captured on date.
func (s *StockStore) FindCapturedPrice(ctx context.Context, code string, date time.Time) (int, error) {
	type capturedPrice struct {
		CapturePrice int       `json:"capture_price"`
		CreatedAt    time.Time `json:"created_at"`
	}

	sql := "SELECT capture_price, created_at FROM tracked_stock WHERE code = $code AND capture_day = $day ORDER BY created_at DESC LIMIT 1"
	vars := map[string]any{
		"code": code,
		"day":  date.UTC().Format(captureDayLayout),
	}

	results, err := surrealdb.Query[[]capturedPrice](ctx, s.db, sql, vars)
	if err != nil {
		return 0, fmt.Errorf("failed to find captured price for %s: %w", code, err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, fmt.Errorf("capture of %s on %s: %w", code, vars["day"], models.ErrNotFound)
	}
	return (*results)[0].Result[0].CapturePrice, nil
}

func (s *StockStore) query(ctx context.Context, sql string, vars map[string]any) ([]*models.TrackedStock, error) {
	results, err := surrealdb.Query[[]models.TrackedStock](ctx, s.db, sql, vars)
	if err != nil {
		if isNotFoundError(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query stocks: %w", err)
	}

	stocks := make([]*models.TrackedStock, 0)
	if results != nil && len(*results) > 0 {
		for i := range (*results)[0].Result {
			stocks = append(stocks, &(*results)[0].Result[i])
		}
	}
	return stocks, nil
}

// Compile-time check
var _ interfaces.StockStore = (*StockStore)(nil)
