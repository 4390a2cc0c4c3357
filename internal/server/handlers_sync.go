package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/bobmcallan/stocksync/internal/app"
	"github.com/bobmcallan/stocksync/internal/models"
	"github.com/bobmcallan/stocksync/internal/services/pricesync"
)

// SyncStatusResponse is returned by GET /api/sync/status.
type SyncStatusResponse struct {
	Running bool            `json:"running"`
	LastRun *models.SyncRun `json:"last_run,omitempty"`
}

// SyncRunResponse is returned by POST /api/sync/run.
type SyncRunResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Run     *models.SyncRun `json:"run,omitempty"`
}

// SyncStockResponse is returned by POST /api/sync/stocks/{code}.
type SyncStockResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	StockCode string `json:"stock_code"`
}

func (s *Server) handleSyncStatus(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	svc := s.app.PriceSyncService
	last, err := svc.LastRun(r.Context())
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to load last sync run")
	}
	WriteJSON(w, http.StatusOK, SyncStatusResponse{Running: svc.IsRunning(), LastRun: last})
}

// handleSyncRun runs a full cycle inside the request. The cycle runs on the
// app lifetime rather than the request, so a dropped client does not abort
// it and shutdown waits for it.
func (s *Server) handleSyncRun(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var run *models.SyncRun
	err := s.app.RunTracked(func(ctx context.Context) error {
		var err error
		run, err = s.app.PriceSyncService.RunCycle(ctx, pricesync.TriggerManual)
		return err
	})
	switch {
	case errors.Is(err, app.ErrAppClosing):
		WriteJSON(w, http.StatusServiceUnavailable, SyncRunResponse{Success: false, Message: err.Error()})
	case errors.Is(err, pricesync.ErrSyncInProgress):
		WriteJSON(w, http.StatusConflict, SyncRunResponse{Success: false, Message: "price sync already running"})
	case err != nil:
		WriteJSON(w, http.StatusInternalServerError, SyncRunResponse{Success: false, Message: err.Error(), Run: run})
	default:
		WriteJSON(w, http.StatusOK, SyncRunResponse{Success: true, Message: "price sync completed", Run: run})
	}
}

func (s *Server) handleSyncRuns(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.app.Storage.SyncRunStore().List(r.Context(), limit)
	if err != nil {
		WriteServiceError(w, err)
		return
	}
	if runs == nil {
		runs = []*models.SyncRun{}
	}
	WriteJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

func (s *Server) handleSyncStock(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	code := strings.TrimSpace(PathParam(r, "/api/sync/stocks/", ""))
	if code == "" {
		WriteError(w, http.StatusBadRequest, "stock code is required in path")
		return
	}

	err := s.app.RunTracked(func(ctx context.Context) error {
		return s.app.PriceSyncService.UpdateStock(ctx, code)
	})
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, pricesync.ErrStockNotFound):
			status = http.StatusNotFound
		case errors.Is(err, app.ErrAppClosing):
			status = http.StatusServiceUnavailable
		}
		WriteJSON(w, status, SyncStockResponse{Success: false, Message: err.Error(), StockCode: code})
		return
	}
	WriteJSON(w, http.StatusOK, SyncStockResponse{Success: true, Message: "stock updated", StockCode: code})
}

func (s *Server) handleSyncWS(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	if s.app.SyncHub == nil {
		WriteError(w, http.StatusServiceUnavailable, "sync event stream not available")
		return
	}
	s.app.SyncHub.ServeWS(w, r)
}
