package surrealdb

import (
	"context"
	"fmt"

	"github.com/bobmcallan/stocksync/internal/common"
	"github.com/bobmcallan/stocksync/internal/interfaces"
	"github.com/surrealdb/surrealdb.go"
)

// Tables used by stocksync
const (
	tableTrackedStock   = "tracked_stock"
	tableSimulatedTrade = "simulated_trade"
	tableSyncRun        = "sync_run"
	tableSystemKV       = "system_kv"
)

// Manager implements interfaces.StorageManager using SurrealDB.
type Manager struct {
	db     *surrealdb.DB
	logger *common.Logger

	internalStore *InternalStore
	stockStore    *StockStore
	tradeStore    *TradeStore
	syncRunStore  *SyncRunStore
}

// NewManager creates a new StorageManager connected to SurrealDB.
func NewManager(ctx context.Context, logger *common.Logger, config *common.Config) (*Manager, error) {
	db, err := surrealdb.New(config.Storage.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": config.Storage.Username,
		"pass": config.Storage.Password,
	}); err != nil {
		db.Close(context.Background())
		return nil, fmt.Errorf("failed to sign in to SurrealDB: %w", err)
	}

	if err := db.Use(ctx, config.Storage.Namespace, config.Storage.Database); err != nil {
		db.Close(context.Background())
		return nil, fmt.Errorf("failed to select namespace/database: %w", err)
	}

	m, err := newManager(ctx, db, logger)
	if err != nil {
		db.Close(context.Background())
		return nil, err
	}

	logger.Info().
		Str("address", config.Storage.Address).
		Str("namespace", config.Storage.Namespace).
		Str("database", config.Storage.Database).
		Msg("SurrealDB storage manager initialized")

	return m, nil
}

// newManager defines the tables on an already connected database and builds the stores.
func newManager(ctx context.Context, db *surrealdb.DB, logger *common.Logger) (*Manager, error) {
	// SurrealDB v3 errors on querying non-existent tables
	for _, table := range []string{tableTrackedStock, tableSimulatedTrade, tableSyncRun, tableSystemKV} {
		sql := fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", table)
		if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
			return nil, fmt.Errorf("failed to define table %s: %w", table, err)
		}
	}

	return &Manager{
		db:            db,
		logger:        logger,
		internalStore: NewInternalStore(db, logger),
		stockStore:    NewStockStore(db, logger),
		tradeStore:    NewTradeStore(db, logger),
		syncRunStore:  NewSyncRunStore(db, logger),
	}, nil
}

func (m *Manager) InternalStore() interfaces.InternalStore {
	return m.internalStore
}

func (m *Manager) StockStore() interfaces.StockStore {
	return m.stockStore
}

func (m *Manager) TradeStore() interfaces.TradeStore {
	return m.tradeStore
}

func (m *Manager) SyncRunStore() interfaces.SyncRunStore {
	return m.syncRunStore
}

func (m *Manager) Close() error {
	m.db.Close(context.Background())
	return nil
}

// Compile-time check
var _ interfaces.StorageManager = (*Manager)(nil)
