package gateway

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
)

// Service exposes the gateway's HTTP surface: the WebSocket upgrade
// endpoint, a side-effect-free liveness check, and connection stats.
type Service struct {
	manager *Manager
}

// NewService wraps a manager.
func NewService(manager *Manager) *Service {
	return &Service{manager: manager}
}

// RegisterRoutes registers the gateway endpoints on mux.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
}

func (s *Service) handleWS(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Upgrade(w, r); err != nil {
		log.Error().Err(err).Msg("websocket upgrade failed")
		// Upgrade already wrote the HTTP error response.
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	connections, rooms := s.manager.Stats()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"total_connections":%d,"active_rooms":%d}`, connections, rooms)
}

// Close shuts the manager down.
func (s *Service) Close() {
	s.manager.Close()
}
