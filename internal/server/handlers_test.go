package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/stocksync/internal/models"
	"github.com/bobmcallan/stocksync/internal/services/pricesync"
	"github.com/bobmcallan/stocksync/internal/services/pricing"
)

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHealthAndVersion(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)

	rec = do(t, srv, http.MethodGet, "/api/version", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version"`)

	rec = do(t, srv, http.MethodPost, "/api/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSyncStatus(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.sync.running = true
	deps.sync.last = &models.SyncRun{ID: "run-1", Status: models.SyncRunStatusCompleted}

	rec := do(t, srv, http.MethodGet, "/api/sync/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SyncStatusResponse
	decode(t, rec, &resp)
	assert.True(t, resp.Running)
	require.NotNil(t, resp.LastRun)
	assert.Equal(t, "run-1", resp.LastRun.ID)
}

func TestSyncRun_Success(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.sync.run = &models.SyncRun{ID: "run-2", Status: models.SyncRunStatusCompleted, StocksUpdated: 3}

	rec := do(t, srv, http.MethodPost, "/api/sync/run", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SyncRunResponse
	decode(t, rec, &resp)
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Run)
	assert.Equal(t, 3, resp.Run.StocksUpdated)
	assert.Equal(t, []string{pricesync.TriggerManual}, deps.sync.triggers)
}

func TestSyncRun_AlreadyRunning(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.sync.runErr = pricesync.ErrSyncInProgress

	rec := do(t, srv, http.MethodPost, "/api/sync/run", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	var resp SyncRunResponse
	decode(t, rec, &resp)
	assert.False(t, resp.Success)
	assert.Nil(t, resp.Run)
}

func TestSyncRun_FatalError(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.sync.run = &models.SyncRun{ID: "run-3", Status: models.SyncRunStatusFailed, Error: "token refused"}
	deps.sync.runErr = errors.New("token refused")

	rec := do(t, srv, http.MethodPost, "/api/sync/run", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp SyncRunResponse
	decode(t, rec, &resp)
	assert.False(t, resp.Success)
	assert.Equal(t, "token refused", resp.Message)
	require.NotNil(t, resp.Run)
	assert.Equal(t, models.SyncRunStatusFailed, resp.Run.Status)
}

func TestSyncRun_RefusedAfterAppClose(t *testing.T) {
	srv, deps := newTestServer(t)
	srv.app.Close()

	rec := do(t, srv, http.MethodPost, "/api/sync/run", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, deps.sync.triggers)

	rec = do(t, srv, http.MethodPost, "/api/sync/stocks/005930", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Empty(t, deps.sync.updated)
}

func TestSyncRun_RequiresPost(t *testing.T) {
	srv, deps := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/api/sync/run", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Empty(t, deps.sync.triggers)
}

func TestSyncRuns(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.runs.runs = []*models.SyncRun{{ID: "b"}, {ID: "a"}}

	rec := do(t, srv, http.MethodGet, "/api/sync/runs?limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Runs  []*models.SyncRun `json:"runs"`
		Count int               `json:"count"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "b", resp.Runs[0].ID)
	assert.Equal(t, 1, deps.runs.lastLimit)

	rec = do(t, srv, http.MethodGet, "/api/sync/runs?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	do(t, srv, http.MethodGet, "/api/sync/runs", "")
	assert.Equal(t, 20, deps.runs.lastLimit)
}

func TestSyncStock(t *testing.T) {
	srv, deps := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/sync/stocks/005930", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SyncStockResponse
	decode(t, rec, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, "005930", resp.StockCode)
	assert.Equal(t, []string{"005930"}, deps.sync.updated)
}

func TestSyncStock_NotFound(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.sync.updateErr = fmt.Errorf("%w: 999999", pricesync.ErrStockNotFound)

	rec := do(t, srv, http.MethodPost, "/api/sync/stocks/999999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp SyncStockResponse
	decode(t, rec, &resp)
	assert.False(t, resp.Success)
	assert.Equal(t, "999999", resp.StockCode)
}

func TestSyncStock_MissingCode(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv, http.MethodPost, "/api/sync/stocks/", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSyncWS_NoHub(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := do(t, srv, http.MethodGet, "/api/sync/ws", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStocks_ListEmpty(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/api/stocks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"stocks":[],"count":0}`, rec.Body.String())
}

func TestStocks_Capture(t *testing.T) {
	srv, deps := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/stocks",
		`{"code":"005930","name":"Samsung","capture_price":71000,"capture_date":"2026-10-14"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	require.Len(t, deps.stocks.captured, 1)
	got := deps.stocks.captured[0]
	assert.Equal(t, "005930", got.Code)
	assert.Equal(t, 71000, got.CapturePrice)
	assert.True(t, got.CaptureDate.Equal(time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)))

	var stock models.TrackedStock
	decode(t, rec, &stock)
	assert.Equal(t, "stock-1", stock.ID)
}

func TestStocks_CaptureDefaultsDate(t *testing.T) {
	srv, deps := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/stocks", `{"code":"005930","capture_price":71000}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, deps.stocks.captured[0].CaptureDate.IsZero())
}

func TestStocks_CaptureBadInput(t *testing.T) {
	srv, deps := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/stocks", `{"code":"005930","capture_date":"14/10/2026"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/stocks", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/stocks", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	deps.stocks.err = models.ErrInvalidInput
	rec = do(t, srv, http.MethodPost, "/api/stocks", `{"code":"bad"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_input")
}

func TestStocks_Get(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.stocks.stocks = []*models.TrackedStock{{ID: "s1", Code: "005930", CurrentPrice: 72000}}

	rec := do(t, srv, http.MethodGet, "/api/stocks/s1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stock models.TrackedStock
	decode(t, rec, &stock)
	assert.Equal(t, 72000, stock.CurrentPrice)

	rec = do(t, srv, http.MethodGet, "/api/stocks/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStocks_UnknownLowestIsOmitted(t *testing.T) {
	srv, deps := newTestServer(t)
	unknown, known := pricing.UnknownLowest, 69000
	deps.stocks.stocks = []*models.TrackedStock{
		{ID: "s1", Code: "005930", HighestPrice: new(int), LowestPrice: &unknown},
		{ID: "s2", Code: "000660", LowestPrice: &known},
	}

	rec := do(t, srv, http.MethodGet, "/api/stocks/s1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "lowest_price")
	assert.NotContains(t, rec.Body.String(), "2147483647")
	assert.Equal(t, pricing.UnknownLowest, *deps.stocks.stocks[0].LowestPrice, "stored value untouched")

	rec = do(t, srv, http.MethodGet, "/api/stocks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Stocks []map[string]any `json:"stocks"`
	}
	decode(t, rec, &list)
	require.Len(t, list.Stocks, 2)
	assert.NotContains(t, list.Stocks[0], "lowest_price")
	assert.Equal(t, float64(69000), list.Stocks[1]["lowest_price"])

	deps.stocks.captureLow = &unknown
	rec = do(t, srv, http.MethodPost, "/api/stocks", `{"code":"035720","capture_price":0}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, rec.Body.String(), "lowest_price")
}

func TestTrades_CreateAndList(t *testing.T) {
	srv, deps := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/trades",
		`{"stock_code":"005930","stock_name":"Samsung","invest_per":100000,"target_buy_count":10,"start_date":"2026-10-01"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	require.Len(t, deps.trades.created, 1)
	got := deps.trades.created[0]
	assert.Equal(t, 100000, got.InvestPer)
	require.NotNil(t, got.TargetBuyCount)
	assert.Equal(t, 10, *got.TargetBuyCount)
	assert.True(t, got.StartDate.Equal(time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)))

	deps.trades.trades["t1"] = &models.SimulatedTrade{ID: "t1", Status: models.TradeStatusPaused}
	deps.trades.trades["t2"] = &models.SimulatedTrade{ID: "t2", Status: models.TradeStatusActive}

	rec = do(t, srv, http.MethodGet, "/api/trades?status=PAUSED", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Trades []*models.SimulatedTrade `json:"trades"`
		Count  int                      `json:"count"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "t1", resp.Trades[0].ID)

	rec = do(t, srv, http.MethodGet, "/api/trades?status=BOGUS", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTrades_GetIncludesBuyPrice(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.trades.trades["t1"] = &models.SimulatedTrade{ID: "t1", StockCode: "005930", Status: models.TradeStatusActive}

	rec := do(t, srv, http.MethodGet, "/api/trades/t1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var view struct {
		ID       string `json:"id"`
		BuyPrice *int   `json:"buy_price"`
	}
	decode(t, rec, &view)
	assert.Equal(t, "t1", view.ID)
	require.NotNil(t, view.BuyPrice)
	assert.Equal(t, 1000, *view.BuyPrice)

	rec = do(t, srv, http.MethodGet, "/api/trades/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTrades_Commands(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.trades.trades["t1"] = &models.SimulatedTrade{ID: "t1", Status: models.TradeStatusActive}

	rec := do(t, srv, http.MethodPost, "/api/trades/t1/pause", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.TradeStatusPaused, deps.trades.trades["t1"].Status)

	rec = do(t, srv, http.MethodPost, "/api/trades/t1/resume", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.TradeStatusActive, deps.trades.trades["t1"].Status)

	rec = do(t, srv, http.MethodPost, "/api/trades/t1/complete", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.TradeStatusCompleted, deps.trades.trades["t1"].Status)

	// completed is terminal
	rec = do(t, srv, http.MethodPost, "/api/trades/t1/resume", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_transition")
}

func TestTrades_CommandRouting(t *testing.T) {
	srv, deps := newTestServer(t)
	deps.trades.trades["t1"] = &models.SimulatedTrade{ID: "t1", Status: models.TradeStatusActive}

	rec := do(t, srv, http.MethodGet, "/api/trades/t1/pause", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, models.TradeStatusActive, deps.trades.trades["t1"].Status)

	rec = do(t, srv, http.MethodPost, "/api/trades/t1/cancel", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/trades/missing/pause", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestShutdown_DisabledInProduction(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.app.Config.Environment = "production"

	rec := do(t, srv, http.MethodPost, "/api/shutdown", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestShutdown_SignalsChannel(t *testing.T) {
	srv, _ := newTestServer(t)
	ch := make(chan struct{}, 1)
	srv.SetShutdownChannel(ch)

	rec := do(t, srv, http.MethodPost, "/api/shutdown", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown channel was not signalled")
	}
}
