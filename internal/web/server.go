// Package web provides the HTTP server for the Spotify connect backend.
package web

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/justestif/spotify-connect/internal/logging"
)

const shutdownTimeout = 10 * time.Second

// ServerConfig holds server configuration.
type ServerConfig struct {
	Port        int
	Handlers    *Handlers
	RateLimiter *RateLimiter // nil disables rate limiting of action routes
	Logger      *log.Logger
}

// Server is the HTTP server for the web application.
type Server struct {
	router   chi.Router
	server   *http.Server
	port     int
	handlers *Handlers
	limiter  *RateLimiter
	logger   *log.Logger
}

// NewServer creates a new web server.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	s := &Server{
		router:   chi.NewRouter(),
		port:     cfg.Port,
		handlers: cfg.Handlers,
		limiter:  cfg.RateLimiter,
		logger:   logger,
	}

	// Configure middleware
	s.setupMiddleware()

	// Configure routes
	s.setupRoutes(cfg.Handlers.static)

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		ErrorLog:     logger.StandardLog(log.StandardLogOptions{ForceLevel: log.ErrorLevel}),
	}

	return s
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures middleware for the router.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  s.logger.StandardLog(),
		NoColor: true,
	}))
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Compress(5))
}

// setupRoutes configures routes for the application.
func (s *Server) setupRoutes(staticFS fs.FS) {
	// Static files
	fileServer := http.FileServer(http.FS(staticFS))
	s.router.Handle("/static/*", http.StripPrefix("/static/", fileServer))

	s.router.Get("/", s.handlers.Home)
	s.router.Get("/healthz", s.handlers.Health)
	s.router.Get("/data", s.handlers.Data)

	s.router.Route("/spotify", func(r chi.Router) {
		r.Get("/auth", s.handlers.SpotifyAuth)
		r.Get("/callback", s.handlers.SpotifyCallback)
		r.Get("/data", s.handlers.SpotifyData)
		r.Post("/logout", s.handlers.Logout)

		r.Group(func(r chi.Router) {
			if s.limiter != nil {
				r.Use(s.limiter.Middleware)
			}
			r.Post("/play-track", s.handlers.PlayTrack)
			r.Post("/add-to-playlist", s.handlers.AddToPlaylist)
			r.Post("/follow-artist", s.handlers.FollowArtist)
			r.Post("/follow-playlist", s.handlers.FollowPlaylist)
			r.Post("/add-to-favorites", s.handlers.AddToFavorites)
		})
	})

	s.router.Get("/instagram/auth", s.handlers.InstagramAuth)
	s.router.Get("/instagram/callback", s.handlers.InstagramCallback)
	s.router.Get("/x/auth", s.handlers.XAuth)
	s.router.Get("/x/callback", s.handlers.XCallback)
}

// listen binds port, or port+1 when port is already in use.
func listen(port int) (net.Listener, error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err == nil {
		return ln, nil
	}
	if !errors.Is(err, syscall.EADDRINUSE) {
		return nil, err
	}

	ln, fallbackErr := net.Listen("tcp", fmt.Sprintf(":%d", port+1))
	if fallbackErr != nil {
		return nil, fmt.Errorf("port %d in use and fallback failed: %w", port, fallbackErr)
	}
	return ln, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := listen(s.port)
	if err != nil {
		return fmt.Errorf("listening: %w", err)
	}

	addr := ln.Addr().(*net.TCPAddr)
	if addr.Port != s.port {
		s.logger.Warn("port busy, using fallback", "port", s.port, "fallback", addr.Port)
	}
	s.logger.Info("server started", "url", fmt.Sprintf("http://localhost:%d", addr.Port))

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for cancellation or error
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("shutting down server")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}
