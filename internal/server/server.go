// Package server exposes experiment analysis over HTTP and, for the local
// backend, accepts exposure and conversion beacons.
package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nip10/varyant/internal/analysis"
	"github.com/nip10/varyant/internal/store"
)

type Server struct {
	store     store.Store
	fetcher   *analysis.Fetcher
	port      int
	token     string
	tokenFile string
	router    *http.ServeMux
	startTime time.Time
	log       *slog.Logger
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithToken fixes the access token instead of generating one.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

func New(st store.Store, f *analysis.Fetcher, port int, tokenFile string, opts ...Option) *Server {
	srv := &Server{
		store:     st,
		fetcher:   f,
		port:      port,
		tokenFile: tokenFile,
		router:    http.NewServeMux(),
		startTime: time.Now(),
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(srv)
	}
	if srv.token == "" {
		srv.token = generateToken()
	}

	srv.setupRoutes()
	return srv
}

func (s *Server) setupRoutes() {
	// Public endpoints
	s.router.HandleFunc("/health", s.handleHealth)
	if rec, ok := s.store.(store.Recorder); ok {
		s.router.Handle("/b", s.handleBeacon(rec))
	}

	// API endpoints (protected)
	s.router.Handle("GET /api/experiments", s.authMiddleware(http.HandlerFunc(s.handleListExperiments)))
	s.router.Handle("GET /api/experiments/{id}/analysis", s.authMiddleware(http.HandlerFunc(s.handleAnalysis)))
	s.router.Handle("GET /api/experiments/{id}/results", s.authMiddleware(http.HandlerFunc(s.handleResults)))

	// Dashboard endpoints (protected)
	s.router.Handle("GET /dashboard", s.authMiddleware(http.HandlerFunc(s.handleDashboard)))
	s.router.Handle("GET /dashboard/experiments/{id}", s.authMiddleware(http.HandlerFunc(s.handleDashboardExperiment)))
}

// Start writes the token file and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if s.tokenFile != "" {
		if err := os.WriteFile(s.tokenFile, []byte(s.token), 0600); err != nil {
			s.log.Warn("failed to write token file", "path", s.tokenFile, "err", err)
		}
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "port", s.port)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) Token() string {
	return s.token
}

func (s *Server) Port() int {
	return s.port
}

func (s *Server) StartTime() time.Time {
	return s.startTime
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func generateToken() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to a time-derived token if crypto/rand fails
		return fmt.Sprintf("%016x", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
