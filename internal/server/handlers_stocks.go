package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bobmcallan/stocksync/internal/models"
	"github.com/bobmcallan/stocksync/internal/services/pricing"
)

// CaptureStockRequest is the body of POST /api/stocks.
type CaptureStockRequest struct {
	Code         string `json:"code"`
	Name         string `json:"name"`
	Market       string `json:"market"`
	CapturePrice int    `json:"capture_price"`
	CaptureDate  string `json:"capture_date"` // YYYY-MM-DD, defaults to today
}

// parseDate accepts YYYY-MM-DD or RFC 3339. Empty input yields the zero time.
func parseDate(field, value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", models.ErrInvalidInput, field)
	}
	return t, nil
}

// stockView copies a stock for a response, dropping the stored
// "no low seen yet" marker so clients never see it as a price.
func stockView(stock *models.TrackedStock) *models.TrackedStock {
	view := *stock
	if !pricing.IsKnownLowest(view.LowestPrice) {
		view.LowestPrice = nil
	}
	return &view
}

func (s *Server) handleStocksRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleStockList(w, r)
	case http.MethodPost:
		s.handleStockCapture(w, r)
	default:
		RequireMethod(w, r, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) handleStockList(w http.ResponseWriter, r *http.Request) {
	stocks, err := s.app.StockService.List(r.Context())
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	views := make([]*models.TrackedStock, 0, len(stocks))
	for _, stock := range stocks {
		views = append(views, stockView(stock))
	}
	WriteJSON(w, http.StatusOK, map[string]any{"stocks": views, "count": len(views)})
}

func (s *Server) handleStockCapture(w http.ResponseWriter, r *http.Request) {
	var req CaptureStockRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	captureDate, err := parseDate("capture_date", req.CaptureDate)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	stock, err := s.app.StockService.Capture(r.Context(), &models.TrackedStock{
		Code:         req.Code,
		Name:         req.Name,
		Market:       req.Market,
		CapturePrice: req.CapturePrice,
		CaptureDate:  captureDate,
	})
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, stockView(stock))
}

func (s *Server) handleStockGet(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	id := PathParam(r, "/api/stocks/", "")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "stock id is required in path")
		return
	}

	stock, err := s.app.StockService.Get(r.Context(), id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, stockView(stock))
}
