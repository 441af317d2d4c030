package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"rejoin/internal/chat"
	"rejoin/internal/observability"
)

// SessionReader is the read-only view of the session engine the debug
// server exposes. Nothing behind this interface mutates state.
type SessionReader interface {
	State() chat.SessionState
	History(conversationID string) []chat.ResponseRecord
	HistoryAll() []chat.ResponseRecord
}

// Server serves the read-only debug surface. It is started only when a
// debug address is configured and is meant for loopback use.
type Server struct {
	engine SessionReader
	window *observability.StageWindow
}

func New(engine SessionReader, window *observability.StageWindow) *Server {
	return &Server{engine: engine, window: window}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/debug/state", s.handleState)
	r.Get("/debug/history", s.handleHistory)
	r.Get("/debug/perf", s.handlePerf)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	state := s.engine.State()
	respondJSON(w, http.StatusOK, map[string]any{
		"phase": state.Phase(),
		"state": state,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	var records []chat.ResponseRecord
	if r.URL.Query().Get("all") == "1" {
		records = s.engine.HistoryAll()
	} else {
		records = s.engine.History(s.engine.State().CurrentConversationID)
	}
	if records == nil {
		records = []chat.ResponseRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"count":   len(records),
		"records": records,
	})
}

func (s *Server) handlePerf(w http.ResponseWriter, _ *http.Request) {
	if s.window == nil {
		respondJSON(w, http.StatusOK, observability.StageSnapshot{})
		return
	}
	respondJSON(w, http.StatusOK, s.window.Snapshot())
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
