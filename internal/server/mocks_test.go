package server

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bobmcallan/stocksync/internal/app"
	"github.com/bobmcallan/stocksync/internal/common"
	"github.com/bobmcallan/stocksync/internal/interfaces"
	"github.com/bobmcallan/stocksync/internal/models"
)

// --- price sync ---

type mockSyncService struct {
	mu        sync.Mutex
	running   bool
	last      *models.SyncRun
	run       *models.SyncRun
	runErr    error
	updateErr error
	triggers  []string
	updated   []string
}

func (m *mockSyncService) RunCycle(ctx context.Context, trigger string) (*models.SyncRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers = append(m.triggers, trigger)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return m.run, m.runErr
}

func (m *mockSyncService) UpdateStock(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updated = append(m.updated, code)
	return m.updateErr
}

func (m *mockSyncService) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *mockSyncService) LastRun(context.Context) (*models.SyncRun, error) {
	return m.last, nil
}

// --- stocks ---

type mockStockService struct {
	mu       sync.Mutex
	stocks   []*models.TrackedStock
	captured []*models.TrackedStock
	// captureLow, when set, is stored as the captured stock's lowest price
	captureLow *int
	err        error
}

func (m *mockStockService) Capture(_ context.Context, stock *models.TrackedStock) (*models.TrackedStock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.captured = append(m.captured, stock)
	out := *stock
	out.ID = fmt.Sprintf("stock-%d", len(m.captured))
	if m.captureLow != nil {
		out.LowestPrice = m.captureLow
	}
	return &out, nil
}

func (m *mockStockService) Get(_ context.Context, id string) (*models.TrackedStock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.stocks {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, fmt.Errorf("stock %s: %w", id, models.ErrNotFound)
}

func (m *mockStockService) List(context.Context) ([]*models.TrackedStock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stocks, m.err
}

// --- trades ---

type mockTradeService struct {
	mu         sync.Mutex
	trades     map[string]*models.SimulatedTrade
	created    []*models.SimulatedTrade
	listStatus []string
	createErr  error
}

func newMockTradeService(trades ...*models.SimulatedTrade) *mockTradeService {
	m := &mockTradeService{trades: make(map[string]*models.SimulatedTrade)}
	for _, t := range trades {
		m.trades[t.ID] = t
	}
	return m
}

func (m *mockTradeService) Create(_ context.Context, trade *models.SimulatedTrade) (*models.SimulatedTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.created = append(m.created, trade)
	out := *trade
	out.ID = "trade-new"
	out.Status = models.TradeStatusActive
	return &out, nil
}

func (m *mockTradeService) lookup(id string) (*models.SimulatedTrade, error) {
	t, ok := m.trades[id]
	if !ok {
		return nil, fmt.Errorf("trade %s: %w", id, models.ErrNotFound)
	}
	return t, nil
}

func (m *mockTradeService) Get(_ context.Context, id string) (*models.TradeView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	price := 1000
	return &models.TradeView{SimulatedTrade: t, BuyPrice: &price}, nil
}

func (m *mockTradeService) List(_ context.Context, status string) ([]*models.SimulatedTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listStatus = append(m.listStatus, status)
	if status == "BOGUS" {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrInvalidInput, status)
	}
	var out []*models.SimulatedTrade
	for _, t := range m.trades {
		if status == "" || t.Status == status {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockTradeService) move(id, status string) (*models.SimulatedTrade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	if err := t.TransitionTo(status); err != nil {
		return nil, err
	}
	return t, nil
}

func (m *mockTradeService) Pause(_ context.Context, id string) (*models.SimulatedTrade, error) {
	return m.move(id, models.TradeStatusPaused)
}

func (m *mockTradeService) Resume(_ context.Context, id string) (*models.SimulatedTrade, error) {
	return m.move(id, models.TradeStatusActive)
}

func (m *mockTradeService) Complete(_ context.Context, id string) (*models.SimulatedTrade, error) {
	return m.move(id, models.TradeStatusCompleted)
}

// --- storage ---

type mockSyncRunStore struct {
	runs      []*models.SyncRun
	lastLimit int
}

func (m *mockSyncRunStore) Save(_ context.Context, run *models.SyncRun) error {
	m.runs = append(m.runs, run)
	return nil
}

func (m *mockSyncRunStore) Latest(context.Context) (*models.SyncRun, error) {
	if len(m.runs) == 0 {
		return nil, nil
	}
	return m.runs[0], nil
}

func (m *mockSyncRunStore) List(_ context.Context, limit int) ([]*models.SyncRun, error) {
	m.lastLimit = limit
	if limit < len(m.runs) {
		return m.runs[:limit], nil
	}
	return m.runs, nil
}

type mockStorage struct {
	interfaces.StorageManager
	runs *mockSyncRunStore
}

func (m *mockStorage) SyncRunStore() interfaces.SyncRunStore { return m.runs }
func (m *mockStorage) Close() error                          { return nil }

// --- server ---

type testDeps struct {
	sync   *mockSyncService
	stocks *mockStockService
	trades *mockTradeService
	runs   *mockSyncRunStore
}

func newTestServer(t *testing.T) (*Server, *testDeps) {
	t.Helper()
	deps := &testDeps{
		sync:   &mockSyncService{},
		stocks: &mockStockService{},
		trades: newMockTradeService(),
		runs:   &mockSyncRunStore{},
	}
	a := &app.App{
		Config:           common.NewDefaultConfig(),
		Logger:           common.NewSilentLogger(),
		Storage:          &mockStorage{runs: deps.runs},
		PriceSyncService: deps.sync,
		StockService:     deps.stocks,
		TradeService:     deps.trades,
		StartupTime:      time.Now(),
	}
	return NewServer(a), deps
}

func intPtr(v int) *int { return &v }
