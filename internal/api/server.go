// Package api provides the HTTP API server for the Rootline engine.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rootline-io/rootline/internal/api/middleware"
	"github.com/rootline-io/rootline/internal/correlation"
	"github.com/rootline-io/rootline/internal/storage"
	"github.com/rootline-io/rootline/internal/topology"
)

// Server is the HTTP API server: alert ingestion, incident queries, operator
// lifecycle actions and topology sync, wrapped in the middleware stack.
type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	config      *ServerConfig
	startTime   time.Time
	engine      *correlation.Engine
	topo        *topology.Store
	keyStore    storage.KeyStore
	rateLimiter middleware.RateLimiter
}

// NewServer creates a new HTTP server with structured logging and the full
// middleware stack.
//
// Dependencies are injected explicitly rather than carried in ServerConfig,
// keeping configuration (what) separate from collaborators (how).
//
// Parameters:
//   - cfg: pure server configuration (address, timeouts, CORS)
//   - engine: the correlation engine handlers operate on
//   - topo: the topology store backing the sync endpoint
//   - keyStore: API key storage, nil disables authentication
//   - rateLimiter: rate limiter, nil disables rate limiting
func NewServer(
	cfg *ServerConfig,
	engine *correlation.Engine,
	topo *topology.Store,
	keyStore storage.KeyStore,
	rateLimiter middleware.RateLimiter,
) *Server {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))

	mux := http.NewServeMux()

	server := &Server{
		logger:      logger,
		config:      cfg,
		engine:      engine,
		topo:        topo,
		keyStore:    keyStore,
		rateLimiter: rateLimiter,
	}

	server.setupRoutes(mux)

	if keyStore != nil { // pragma: allowlist secret
		logger.Info("Source authentication middleware enabled")
	} else {
		logger.Warn("KeyStore not configured - source authentication middleware disabled")
	}

	if rateLimiter != nil {
		logger.Info("Rate limiting middleware enabled")
	} else {
		logger.Warn("RateLimiter not configured - rate limiting middleware disabled")
	}

	// Middleware executes in the order listed (top-to-bottom):
	//   1. CorrelationID - tag every request and response
	//   2. Recovery - catch panics in all downstream middleware
	//   3. Source auth - identify the alert source and set SourceContext
	//   4. RateLimit - block floods before expensive work
	//   5. RequestLogger - log only legitimate requests, not rate-limited spam
	//   6. CORS - lightweight header manipulation
	handler := middleware.Apply(mux,
		middleware.WithCorrelationID(),
		middleware.WithRecovery(logger),
		middleware.WithSourceAuth(keyStore, logger),
		middleware.WithRateLimit(rateLimiter, logger),
		middleware.WithRequestLogger(logger),
		middleware.WithCORS(cfg.ToCORSConfig()),
	)

	server.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return server
}

// Handler exposes the fully wrapped handler, mainly for tests that drive
// the server through httptest instead of a real listener.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server and blocks until shutdown.
// It handles graceful shutdown on SIGINT and SIGTERM.
func (s *Server) Start() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server configuration: %w", err)
	}

	// Start time feeds the /health uptime field.
	s.startTime = time.Now()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("Starting Rootline API server",
			slog.String("address", s.config.Address()),
			slog.Duration("read_timeout", s.config.ReadTimeout),
			slog.Duration("write_timeout", s.config.WriteTimeout),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Server failed to start",
				slog.String("address", s.config.Address()),
				slog.String("error", err.Error()),
			)

			serverErrors <- fmt.Errorf("server failed to start: %w", err)
		}
	}()

	select {
	case err := <-serverErrors:
		return err
	case sig := <-stop:
		s.logger.Info("Received shutdown signal",
			slog.String("signal", sig.String()),
		)

		return s.shutdown()
	}
}

// shutdown gracefully shuts down the server and releases the resources it
// owns. The engine and topology store belong to the caller and are closed
// there.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Initiating server shutdown",
		slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
	)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Server shutdown failed",
			slog.String("error", err.Error()),
			slog.Duration("shutdown_timeout", s.config.ShutdownTimeout),
		)

		return fmt.Errorf("server shutdown failed: %w", err)
	}

	if s.keyStore != nil { // pragma: allowlist secret
		if store, ok := s.keyStore.(io.Closer); ok {
			if err := store.Close(); err != nil {
				s.logger.Error("Failed to close API key store", slog.String("error", err.Error()))
			} else {
				s.logger.Info("API key store closed")
			}
		}
	}

	if s.rateLimiter != nil {
		if limiter, ok := s.rateLimiter.(io.Closer); ok {
			if err := limiter.Close(); err != nil {
				s.logger.Error("Failed to close rate limiter", slog.String("error", err.Error()))
			} else {
				s.logger.Info("Rate limiter closed")
			}
		}
	}

	s.logger.Info("Server shutdown completed successfully")

	return nil
}
