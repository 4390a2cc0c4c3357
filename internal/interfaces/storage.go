package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/stocksync/internal/models"
)

// StorageManager coordinates all storage backends
type StorageManager interface {
	StockStore() StockStore
	TradeStore() TradeStore
	SyncRunStore() SyncRunStore
	InternalStore() InternalStore

	Close() error
}

// StockStore persists tracked stocks
type StockStore interface {
	// FindAll returns every tracked stock in storage order
	FindAll(ctx context.Context) ([]*models.TrackedStock, error)

	// FindByCode returns the most recently captured stock with the given code
	FindByCode(ctx context.Context, code string) (*models.TrackedStock, error)

	// FindCapturedPrice returns the capture price of the stock captured with
	// code on date, or models.ErrNotFound
	FindCapturedPrice(ctx context.Context, code string, date time.Time) (int, error)

	Get(ctx context.Context, id string) (*models.TrackedStock, error)
	Save(ctx context.Context, stock *models.TrackedStock) error
}

// TradeStore persists simulated trades
type TradeStore interface {
	// FindByStatus returns trades with the given status, newest first
	FindByStatus(ctx context.Context, status string) ([]*models.SimulatedTrade, error)

	// List returns all trades, newest first
	List(ctx context.Context) ([]*models.SimulatedTrade, error)

	Get(ctx context.Context, id string) (*models.SimulatedTrade, error)
	Save(ctx context.Context, trade *models.SimulatedTrade) error
}

// SyncRunStore keeps the history of sync cycles
type SyncRunStore interface {
	Save(ctx context.Context, run *models.SyncRun) error

	// Latest returns the most recently started run, or nil when none exist
	Latest(ctx context.Context) (*models.SyncRun, error)

	// List returns up to limit runs, newest first
	List(ctx context.Context, limit int) ([]*models.SyncRun, error)
}

// InternalStore holds system-level key/value settings such as upstream credentials.
type InternalStore interface {
	GetSystemKV(ctx context.Context, key string) (string, error)
	SetSystemKV(ctx context.Context, key, value string) error
	Close() error
}
