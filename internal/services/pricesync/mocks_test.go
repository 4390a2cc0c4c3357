package pricesync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bobmcallan/stocksync/internal/interfaces"
	"github.com/bobmcallan/stocksync/internal/models"
)

// --- storage ---

type mockStorage struct {
	stocks *mockStockStore
	trades *mockTradeStore
	runs   *mockSyncRunStore
}

func newMockStorage() *mockStorage {
	return &mockStorage{
		stocks: &mockStockStore{byID: map[string]*models.TrackedStock{}},
		trades: &mockTradeStore{byID: map[string]*models.SimulatedTrade{}},
		runs:   &mockSyncRunStore{},
	}
}

func (m *mockStorage) StockStore() interfaces.StockStore       { return m.stocks }
func (m *mockStorage) TradeStore() interfaces.TradeStore       { return m.trades }
func (m *mockStorage) SyncRunStore() interfaces.SyncRunStore   { return m.runs }
func (m *mockStorage) InternalStore() interfaces.InternalStore { return nil }
func (m *mockStorage) Close() error                            { return nil }

type mockStockStore struct {
	mu      sync.Mutex
	order   []string
	byID    map[string]*models.TrackedStock
	saves   int
	listErr error
}

func (s *mockStockStore) add(stock *models.TrackedStock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = append(s.order, stock.ID)
	s.byID[stock.ID] = stock
}

func (s *mockStockStore) FindAll(_ context.Context) ([]*models.TrackedStock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []*models.TrackedStock
	for _, id := range s.order {
		cp := *s.byID[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *mockStockStore) FindByCode(_ context.Context, code string) (*models.TrackedStock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.order) - 1; i >= 0; i-- {
		if st := s.byID[s.order[i]]; st.Code == code {
			cp := *st
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (s *mockStockStore) FindCapturedPrice(_ context.Context, code string, date time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		st := s.byID[id]
		if st.Code == code && st.CaptureDate.Equal(date) {
			return st.CapturePrice, nil
		}
	}
	return 0, models.ErrNotFound
}

func (s *mockStockStore) Get(_ context.Context, id string) (*models.TrackedStock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (s *mockStockStore) Save(_ context.Context, stock *models.TrackedStock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[stock.ID]; !ok {
		s.order = append(s.order, stock.ID)
	}
	cp := *stock
	s.byID[stock.ID] = &cp
	s.saves++
	return nil
}

type mockTradeStore struct {
	mu    sync.Mutex
	order []string
	byID  map[string]*models.SimulatedTrade
	saves int
}

func (s *mockTradeStore) add(trade *models.SimulatedTrade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = append(s.order, trade.ID)
	s.byID[trade.ID] = trade
}

func (s *mockTradeStore) FindByStatus(_ context.Context, status string) ([]*models.SimulatedTrade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.SimulatedTrade
	for _, id := range s.order {
		if t := s.byID[id]; t.Status == status {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *mockTradeStore) List(_ context.Context) ([]*models.SimulatedTrade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.SimulatedTrade
	for _, id := range s.order {
		cp := *s.byID[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *mockTradeStore) Get(_ context.Context, id string) (*models.SimulatedTrade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.byID[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *mockTradeStore) Save(_ context.Context, trade *models.SimulatedTrade) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[trade.ID]; !ok {
		s.order = append(s.order, trade.ID)
	}
	cp := *trade
	s.byID[trade.ID] = &cp
	s.saves++
	return nil
}

type mockSyncRunStore struct {
	mu   sync.Mutex
	runs []models.SyncRun
}

func (s *mockSyncRunStore) Save(_ context.Context, run *models.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.runs {
		if s.runs[i].ID == run.ID {
			s.runs[i] = *run
			return nil
		}
	}
	s.runs = append(s.runs, *run)
	return nil
}

func (s *mockSyncRunStore) Latest(_ context.Context) (*models.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.runs) == 0 {
		return nil, nil
	}
	r := s.runs[len(s.runs)-1]
	return &r, nil
}

func (s *mockSyncRunStore) List(_ context.Context, limit int) ([]*models.SyncRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.SyncRun
	for i := len(s.runs) - 1; i >= 0 && len(out) < limit; i-- {
		r := s.runs[i]
		out = append(out, &r)
	}
	return out, nil
}

// --- upstream ---

type fetchCall struct {
	Token     string
	Code      string
	QueryDate string
	MaxCount  int
}

type mockUpstream struct {
	mu     sync.Mutex
	prices map[string][]models.DailyPricePoint
	errs   map[string]error
	panics map[string]bool
	calls  []fetchCall
	// rejectToken, when set, is answered with ErrUpstreamUnauthorized
	rejectToken string
	// block, when set, is closed by the test to release FetchDailyPrices
	block chan struct{}
}

func newMockUpstream() *mockUpstream {
	return &mockUpstream{
		prices: map[string][]models.DailyPricePoint{},
		errs:   map[string]error{},
		panics: map[string]bool{},
	}
}

func (u *mockUpstream) Authenticate(_ context.Context) (*models.UpstreamToken, error) {
	return &models.UpstreamToken{Token: "tok"}, nil
}

func (u *mockUpstream) FetchDailyPrices(_ context.Context, token, code, queryDate string, maxCount int) ([]models.DailyPricePoint, error) {
	u.mu.Lock()
	u.calls = append(u.calls, fetchCall{Token: token, Code: code, QueryDate: queryDate, MaxCount: maxCount})
	rejected := u.rejectToken != "" && token == u.rejectToken
	block := u.block
	panics := u.panics[code]
	err := u.errs[code]
	points := u.prices[code]
	u.mu.Unlock()

	if block != nil {
		<-block
	}
	if rejected {
		return nil, fmt.Errorf("daily prices for %s: %w", code, models.ErrUpstreamUnauthorized)
	}
	if panics {
		panic("upstream exploded for " + code)
	}
	if err != nil {
		return nil, err
	}
	if maxCount > 0 && len(points) > maxCount {
		points = points[:maxCount]
	}
	return points, nil
}

func (u *mockUpstream) Calls() []fetchCall {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]fetchCall(nil), u.calls...)
}

// --- tokens ---

// mockTokens hands out "tok" until invalidated, then "tok-1", "tok-2", ...
type mockTokens struct {
	mu            sync.Mutex
	calls         int
	invalidations int
	err           error
	// renewErr is returned once the token has been invalidated
	renewErr error
}

func (m *mockTokens) Token(_ context.Context) (*models.UpstreamToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if m.invalidations == 0 {
		return &models.UpstreamToken{Token: "tok"}, nil
	}
	if m.renewErr != nil {
		return nil, m.renewErr
	}
	return &models.UpstreamToken{Token: fmt.Sprintf("tok-%d", m.invalidations)}, nil
}

func (m *mockTokens) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidations++
}

// --- events ---

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.SyncEvent
}

func (p *recordingPublisher) Broadcast(e models.SyncEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// --- sleeper ---

type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
	err    error
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return s.err
}

func (s *recordingSleeper) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delays)
}

var errUpstreamDown = errors.New("upstream down")
