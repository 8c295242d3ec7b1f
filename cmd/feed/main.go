package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/joho/godotenv"
	"github.com/rs/cors"

	"github.com/madfeed/feed-service/api"
	"github.com/madfeed/feed-service/api/validator"
	"github.com/madfeed/feed-service/config"
	"github.com/madfeed/feed-service/feed"
	"github.com/madfeed/feed-service/gateway"
	"github.com/madfeed/feed-service/redis"
	"github.com/madfeed/feed-service/sqlstore"
)

func main() {
	// Load .env
	_ = godotenv.Load()

	cfg, err := config.Load(".")
	if err != nil {
		slog.Error("Could not load config", "error", err.Error())
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel()}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("Exiting", "error", err.Error())
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	logger.Info("Store ready", "mode", cfg.Store.Mode)

	svc := &feed.Service{
		Store:  store,
		Logger: logger,
	}
	if cfg.Redis.Addr != "" {
		cache, err := redis.Connect(ctx, cfg.Redis.Addr, cfg.Redis.TTL, cfg.Redis.MaxPosts)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer cache.Close()
		svc.Cache = cache
		logger.Info("Post cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.TTL.String())
	}

	a := &api.API{
		Logger: logger,
		Feed:   svc,
		Val:    validator.New(),
	}

	var h http.Handler = a
	h = cors.New(cors.Options{
		AllowedOrigins: cfg.Server.CORSOrigins,
		AllowedMethods: []string{"OPTIONS", "GET", "POST", "DELETE"},
		AllowedHeaders: []string{"*"},
	}).Handler(h)
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError)),
	)(h)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("Listening", "addr", cfg.Server.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg *config.Config) (feed.Store, func(), error) {
	switch cfg.Store.Mode {
	case config.ModePostgres:
		s, err := sqlstore.Connect(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	case config.ModeSQLite:
		s, err := sqlstore.OpenSQLite(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return gateway.New(cfg.Gateway.BaseURL, cfg.Gateway.Timeout), func() {}, nil
	}
}
