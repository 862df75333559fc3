// Package api serves the read-only HTTP surface: health, online users,
// recent messages and metrics.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"nightingale/internal/broadcast"
	"nightingale/internal/registry"
	"nightingale/pkg/interfaces"
	"nightingale/pkg/types"
)

const defaultRecentLimit = 50

// Server handles the HTTP query endpoints. No business logic lives here,
// only HTTP handling and JSON serialization.
type Server struct {
	ledger      interfaces.Ledger
	registry    *registry.Registry
	broadcaster *broadcast.Broadcaster
	router      *http.ServeMux
}

// NewServer wires the query endpoints over the live components.
func NewServer(led interfaces.Ledger, reg *registry.Registry, b *broadcast.Broadcaster) *Server {
	s := &Server{
		ledger:      led,
		registry:    reg,
		broadcaster: b,
		router:      http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("GET /{$}", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleRoot))))
	s.router.Handle("GET /health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleHealth))))
	s.router.Handle("GET /users/online", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleOnlineUsers))))
	s.router.Handle("GET /messages/recent", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleRecentMessages))))
	s.router.Handle("GET /metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type rootResponse struct {
	Message string `json:"message"`
}

type healthResponse struct {
	Status      string    `json:"status"`
	ActiveUsers int       `json:"active_users"`
	Timestamp   time.Time `json:"timestamp"`
}

type onlineUsersResponse struct {
	OnlineUsers []broadcast.OnlineUser `json:"online_users"`
	Count       int                    `json:"count"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, rootResponse{Message: "Nightingale chat relay is running"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{
		Status:      "healthy",
		ActiveUsers: s.registry.Count(),
		Timestamp:   time.Now().UTC(),
	})
}

func (s *Server) handleOnlineUsers(w http.ResponseWriter, r *http.Request) {
	users, count := s.broadcaster.OnlineUsers(r.Context())
	s.writeJSON(w, http.StatusOK, onlineUsersResponse{OnlineUsers: users, Count: count})
}

func (s *Server) handleRecentMessages(w http.ResponseWriter, r *http.Request) {
	limit := defaultRecentLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.sendError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	messages, err := s.ledger.RecentMessages(r.Context(), limit, 0)
	if err != nil {
		log.Error().Err(err).Msg("recent messages query failed")
		s.sendError(w, "Failed to load messages", http.StatusInternalServerError)
		return
	}
	if messages == nil {
		messages = []*types.Message{}
	}

	s.writeJSON(w, http.StatusOK, messages)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("response encoding failed")
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, status int) {
	s.writeJSON(w, status, errorResponse{Error: message})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

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
