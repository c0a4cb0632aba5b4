// Package microservice hosts the process's HTTP surface: a health check and
// the cache administration endpoints.
package microservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
)

// CacheAdmin is the part of the query client the admin endpoints drive.
type CacheAdmin interface {
	InvalidateMatching(ctx context.Context, pattern string) (int, error)
	ClearCache(ctx context.Context) error
}

type invalidateResponse struct {
	Pattern string `json:"pattern"`
	Removed int    `json:"removed"`
}

// CacheServer serves:
//
//	GET  /healthz
//	POST /cache/invalidate?pattern=<substring>
//	POST /cache/clear
type CacheServer struct {
	admin      CacheAdmin
	logger     zerolog.Logger
	httpPort   string
	httpServer *http.Server

	mu         sync.RWMutex
	actualAddr string
}

// NewCacheServer creates a server for admin on httpPort (":0" picks a free port).
func NewCacheServer(admin CacheAdmin, httpPort string, logger zerolog.Logger) (*CacheServer, error) {
	if admin == nil {
		return nil, fmt.Errorf("cache admin cannot be nil")
	}
	s := &CacheServer{
		admin:    admin,
		logger:   logger.With().Str("component", "CacheServer").Logger(),
		httpPort: httpPort,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /cache/invalidate", s.handleInvalidate)
	mux.HandleFunc("POST /cache/clear", s.handleClear)
	s.httpServer = &http.Server{Addr: httpPort, Handler: mux}
	return s, nil
}

// Handler returns the server's routes, for mounting or testing without a listener.
func (s *CacheServer) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start listens on the configured port and serves in a background goroutine.
func (s *CacheServer) Start() error {
	listener, err := net.Listen("tcp", s.httpPort)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", s.httpPort, err)
	}

	s.mu.Lock()
	s.actualAddr = listener.Addr().String()
	s.mu.Unlock()
	s.logger.Info().Str("address", s.actualAddr).Msg("Cache server listening.")

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Cache server failed.")
		}
	}()
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx ends.
func (s *CacheServer) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("cache server shutdown: %w", err)
	}
	s.logger.Info().Msg("Cache server stopped.")
	return nil
}

// Port returns ":<port>" the server listens on, or the configured port before Start.
func (s *CacheServer) Port() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, port, err := net.SplitHostPort(s.actualAddr)
	if err != nil {
		return s.httpPort
	}
	return ":" + port
}

func (s *CacheServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *CacheServer) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	pattern := r.URL.Query().Get("pattern")
	if pattern == "" {
		http.Error(w, "pattern is required", http.StatusBadRequest)
		return
	}
	removed, err := s.admin.InvalidateMatching(r.Context(), pattern)
	if err != nil {
		s.logger.Error().Err(err).Str("pattern", pattern).Msg("Cache invalidation failed.")
		http.Error(w, "cache invalidation failed", http.StatusInternalServerError)
		return
	}
	s.logger.Info().Str("pattern", pattern).Int("removed", removed).Msg("Cache invalidated.")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(invalidateResponse{Pattern: pattern, Removed: removed})
}

func (s *CacheServer) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.admin.ClearCache(r.Context()); err != nil {
		s.logger.Error().Err(err).Msg("Cache clear failed.")
		http.Error(w, "cache clear failed", http.StatusInternalServerError)
		return
	}
	s.logger.Info().Msg("Cache cleared.")
	w.WriteHeader(http.StatusNoContent)
}
