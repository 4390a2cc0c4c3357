package server

import (
	"net/http"

	"github.com/bobmcallan/stocksync/internal/models"
)

// CreateTradeRequest is the body of POST /api/trades.
type CreateTradeRequest struct {
	StockCode      string `json:"stock_code"`
	StockName      string `json:"stock_name"`
	InvestPer      int    `json:"invest_per"`
	TargetBuyCount *int   `json:"target_buy_count,omitempty"`
	StartDate      string `json:"start_date"` // YYYY-MM-DD, defaults to today
}

func (s *Server) handleTradesRoot(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleTradeList(w, r)
	case http.MethodPost:
		s.handleTradeCreate(w, r)
	default:
		RequireMethod(w, r, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) handleTradeList(w http.ResponseWriter, r *http.Request) {
	trades, err := s.app.TradeService.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if trades == nil {
		trades = []*models.SimulatedTrade{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"trades": trades, "count": len(trades)})
}

func (s *Server) handleTradeCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateTradeRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	startDate, err := parseDate("start_date", req.StartDate)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	trade, err := s.app.TradeService.Create(r.Context(), &models.SimulatedTrade{
		StockCode:      req.StockCode,
		StockName:      req.StockName,
		InvestPer:      req.InvestPer,
		TargetBuyCount: req.TargetBuyCount,
		StartDate:      startDate,
	})
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, trade)
}

func (s *Server) handleTradeGet(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	view, err := s.app.TradeService.Get(r.Context(), id)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, view)
}

func (s *Server) handleTradeCommand(w http.ResponseWriter, r *http.Request, id, action string) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	svc := s.app.TradeService
	var (
		trade *models.SimulatedTrade
		err   error
	)
	switch action {
	case "pause":
		trade, err = svc.Pause(r.Context(), id)
	case "resume":
		trade, err = svc.Resume(r.Context(), id)
	case "complete":
		trade, err = svc.Complete(r.Context(), id)
	}
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, trade)
}
