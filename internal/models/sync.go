package models

import "time"

// Sync run status constants
const (
	SyncRunStatusRunning   = "running"
	SyncRunStatusCompleted = "completed"
	SyncRunStatusFailed    = "failed"
)

// SyncRun records the outcome of one price synchronization cycle.
type SyncRun struct {
	ID              string    `json:"id"`
	Trigger         string    `json:"trigger"` // "schedule", "manual", "cli"
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
	Errors          []string  `json:"errors,omitempty"`
	Error           string    `json:"error,omitempty"` // fatal cycle error
}

// Sync event type constants
const (
	SyncEventCycleStarted   = "cycle_started"
	SyncEventCycleFinished  = "cycle_finished"
	SyncEventStockUpdated   = "stock_updated"
	SyncEventStockFailed    = "stock_failed"
	SyncEventTradeUpdated   = "trade_updated"
	SyncEventTradePaused    = "trade_paused"
	SyncEventTradeFailed    = "trade_failed"
	SyncEventAverageUpdated = "average_updated"
)

// SyncEvent is broadcast to WebSocket subscribers while a cycle runs.
type SyncEvent struct {
	Type      string    `json:"type"`
	RunID     string    `json:"run_id,omitempty"`
	StockCode string    `json:"stock_code,omitempty"`
	TradeID   string    `json:"trade_id,omitempty"`
	Price     int       `json:"price,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
