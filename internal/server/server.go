// Package server exposes a running search over a read-only HTTP API.
package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/cwbudde/bctune/internal/param"
	"github.com/cwbudde/bctune/internal/store"
)

// Source is the state the server reports. *progress.Tracker implements it.
type Source interface {
	Snapshot() store.Progress
	Best() (param.Solution, bool)
	History(limit int) []store.HistoryEntry
}

// BestResponse is the body of GET /api/v1/best.
type BestResponse struct {
	Score  float64             `json:"score"`
	Config param.Configuration `json:"config"`
}

// Server represents the HTTP server
type Server struct {
	source       Source
	broadcaster  *EventBroadcaster
	addr         string
	server       *http.Server
	pingInterval time.Duration
}

// NewServer creates a server reporting on src.
func NewServer(addr string, src Source) *Server {
	s := &Server{
		source:       src,
		broadcaster:  NewEventBroadcaster(),
		addr:         addr,
		pingInterval: 30 * time.Second,
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Broadcaster returns the event broadcaster; register it as a tracker observer.
func (s *Server) Broadcaster() *EventBroadcaster {
	return s.broadcaster
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/progress", s.handleProgress)
	mux.HandleFunc("GET /api/v1/best", s.handleBest)
	mux.HandleFunc("GET /api/v1/history", s.handleHistory)
	mux.HandleFunc("GET /api/v1/stream", s.handleStream)

	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown, including when Shutdown ran first.
func (s *Server) Start() error {
	slog.Info("Starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	s.broadcaster.Close()
	return s.server.Shutdown(ctx)
}

// handleProgress handles GET /api/v1/progress
func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.source.Snapshot())
}

// handleBest handles GET /api/v1/best
func (s *Server) handleBest(w http.ResponseWriter, r *http.Request) {
	best, ok := s.source.Best()
	if !ok {
		http.Error(w, "No successful evaluation yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, BestResponse{Score: best.Score, Config: best.Config})
}

// handleHistory handles GET /api/v1/history?limit=N
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, s.source.History(limit))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
