package interfaces

import (
	"context"

	"github.com/bobmcallan/stocksync/internal/models"
)

// PriceSyncService runs the price synchronization cycle
type PriceSyncService interface {
	// RunCycle performs one full cycle. It returns pricesync.ErrSyncInProgress
	// when another cycle is already running.
	RunCycle(ctx context.Context, trigger string) (*models.SyncRun, error)

	// UpdateStock refreshes a single tracked stock by code
	UpdateStock(ctx context.Context, code string) error

	// IsRunning reports whether a cycle is in progress
	IsRunning() bool

	// LastRun returns the most recent persisted run, if any
	LastRun(ctx context.Context) (*models.SyncRun, error)
}

// TradeService manages the simulated trade lifecycle
type TradeService interface {
	Create(ctx context.Context, trade *models.SimulatedTrade) (*models.SimulatedTrade, error)
	Get(ctx context.Context, id string) (*models.TradeView, error)
	List(ctx context.Context, status string) ([]*models.SimulatedTrade, error)
	Pause(ctx context.Context, id string) (*models.SimulatedTrade, error)
	Resume(ctx context.Context, id string) (*models.SimulatedTrade, error)
	Complete(ctx context.Context, id string) (*models.SimulatedTrade, error)
}

// StockService manages tracked stock capture and lookup
type StockService interface {
	Capture(ctx context.Context, stock *models.TrackedStock) (*models.TrackedStock, error)
	Get(ctx context.Context, id string) (*models.TrackedStock, error)
	List(ctx context.Context) ([]*models.TrackedStock, error)
}
