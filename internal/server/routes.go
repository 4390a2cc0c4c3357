package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bobmcallan/stocksync/internal/common"
)

// registerRoutes sets up all REST API routes on the mux.
func (s *Server) registerRoutes(mux *http.ServeMux) {
	// System
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/shutdown", s.handleShutdown)

	// Price sync
	mux.HandleFunc("/api/sync/status", s.handleSyncStatus)
	mux.HandleFunc("/api/sync/run", s.handleSyncRun)
	mux.HandleFunc("/api/sync/runs", s.handleSyncRuns)
	mux.HandleFunc("/api/sync/stocks/", s.handleSyncStock)
	mux.HandleFunc("/api/sync/ws", s.handleSyncWS)

	// Tracked stocks
	mux.HandleFunc("/api/stocks/", s.handleStockGet)
	mux.HandleFunc("/api/stocks", s.handleStocksRoot)

	// Simulated trades
	mux.HandleFunc("/api/trades/", s.routeTrades)
	mux.HandleFunc("/api/trades", s.handleTradesRoot)
}

// routeTrades dispatches /api/trades/{id}[/action].
func (s *Server) routeTrades(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/trades/"), "/")
	if path == "" {
		WriteError(w, http.StatusBadRequest, "trade id is required in path")
		return
	}

	id, action, _ := strings.Cut(path, "/")
	switch action {
	case "":
		s.handleTradeGet(w, r, id)
	case "pause", "resume", "complete":
		s.handleTradeCommand(w, r, id, action)
	default:
		WriteError(w, http.StatusNotFound, "unknown trade action: "+action)
	}
}

// handleShutdown handles POST /api/shutdown (dev mode only).
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	if s.app.Config.IsProduction() {
		WriteError(w, http.StatusForbidden, "Shutdown endpoint disabled in production")
		return
	}

	s.logger.Info().Msg("Shutdown requested via HTTP endpoint")

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Shutting down gracefully...\n"))

	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}

	if s.shutdownChan != nil {
		go func() {
			time.Sleep(100 * time.Millisecond)
			s.shutdownChan <- struct{}{}
		}()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodHead) {
		return
	}
	WriteJSON(w, http.StatusOK, common.GetVersionInfo())
}
