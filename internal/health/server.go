// Package health serves the liveness endpoint that hosting platforms poll.
package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mediagrab/internal/metrics"
)

// LiveText is the body of every successful liveness check.
const LiveText = "Bot is running!"

const shutdownTimeout = 5 * time.Second

type Config struct {
	Host          string
	Port          int
	EnableMetrics bool
	Logger        *slog.Logger
}

// Server answers liveness checks. It holds no state about the bot.
type Server struct {
	addr    string
	handler http.Handler
	logger  *slog.Logger
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		addr:    net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		handler: newRouter(cfg.Logger, cfg.EnableMetrics),
		logger:  cfg.Logger,
	}
}

func newRouter(logger *slog.Logger, enableMetrics bool) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.CleanPath)
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/", live)
	r.Head("/", live)
	r.Get("/health", live)
	if enableMetrics {
		r.Handle("/metrics", metrics.Handler())
	}
	return r
}

func live(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write([]byte(LiveText))
	}
}

// Handler exposes the routes without a listener.
func (s *Server) Handler() http.Handler { return s.handler }

// Addr is the host:port the server listens on.
func (s *Server) Addr() string { return s.addr }

// Start listens and serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("health listen on %s: %w", s.addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("health server listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("health serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("health shutdown: %w", err)
	}
	s.logger.Info("health server stopped")
	return nil
}
