package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/ecocrm-platform/ecocrm-stack/api/internal/config"
	"github.com/ecocrm-platform/ecocrm-stack/api/internal/handlers"
	"github.com/ecocrm-platform/ecocrm-stack/api/internal/repository"
	"github.com/ecocrm-platform/ecocrm-stack/api/internal/server"
	"github.com/ecocrm-platform/ecocrm-stack/api/internal/service"
	"github.com/ecocrm-platform/ecocrm-stack/api/pkg/tokens"
	"github.com/ecocrm-platform/ecocrm-stack/common/logging"
	"github.com/ecocrm-platform/ecocrm-stack/common/streams"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	migrationsPath := flag.String("migrations", "file://migrations", "migrations source URL")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logging.SetDefault(logger)

	connString := cfg.Database.ConnString()

	logger.Info("running database migrations")
	m, err := migrate.New(*migrationsPath, connString)
	if err != nil {
		logger.Error("failed to initialize migrations", "error", err)
		os.Exit(1)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	repo, err := repository.NewPostgresRepository(ctx, connString)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	broker, err := streams.New(ctx, cfg.Redis.URL, logger.Logger)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer broker.Close()

	generator := tokens.NewTokenGenerator(cfg.Auth.JWTSecret, cfg.Auth.AccessTTL)
	registry := service.NewRegistryService(repo)
	auth := service.NewAuthService(repo, generator)
	webhooks := service.NewWebhookService(repo, broker, cfg.Redis.Stream, logger.Logger)

	handler := handlers.NewHandler(repo, registry, auth, webhooks, cfg.Webhook.Token, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewRouter(handler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("api service listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped gracefully")
}
