// calgenie - meeting negotiation server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/calgenie/internal/api"
	"github.com/ashureev/calgenie/internal/app"
	"github.com/ashureev/calgenie/internal/chat"
	"github.com/ashureev/calgenie/internal/config"
	"github.com/ashureev/calgenie/internal/identity"
	"github.com/ashureev/calgenie/internal/metrics"
	"github.com/ashureev/calgenie/internal/middleware"
	"github.com/ashureev/calgenie/internal/session"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"store", cfg.StoreDriver,
		"sessions", cfg.SessionBackend,
		"nlp", cfg.NLP.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rec := metrics.New()
	a, err := app.New(ctx, cfg, logger, rec)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Error("Failed to release resources", "error", closeErr)
		}
	}()

	// Initialize handlers.
	conns := chat.NewConnections()
	limiter := api.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	limiter.StartEviction(ctx)
	apiHandler := api.NewHandler(a.Chat, a.Store, limiter)
	wsHandler := chat.NewWebSocketHandler(a.Chat, conns, cfg.AllowedOrigins(), cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	apiHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	// WebSocket connections are long-lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Expired sessions also lose their live socket.
	a.Sessions.StartSweeper(ctx, session.DefaultSweepInterval, func(key string) {
		conns.CloseSession(identity.SplitSessionKey(key))
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			return metrics.NewServer(cfg.MetricsAddr, rec).Run(gctx)
		})
	}
	g.Go(func() error {
		// Wait for shutdown signal or a failed listener.
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	})

	return g.Wait()
}
