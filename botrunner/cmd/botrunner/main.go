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
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ecocrm-platform/ecocrm-stack/botrunner/internal/config"
	"github.com/ecocrm-platform/ecocrm-stack/botrunner/internal/consumer"
	"github.com/ecocrm-platform/ecocrm-stack/botrunner/internal/executor"
	"github.com/ecocrm-platform/ecocrm-stack/botrunner/internal/repository"
	"github.com/ecocrm-platform/ecocrm-stack/common/chatwoot"
	"github.com/ecocrm-platform/ecocrm-stack/common/logging"
	"github.com/ecocrm-platform/ecocrm-stack/common/streams"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := repository.NewPostgresRepository(ctx, cfg.Database.ConnString())
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

	replier := chatwoot.New(cfg.Chatwoot.BaseURL, cfg.Chatwoot.Token, cfg.Chatwoot.AccountID)
	exec := executor.NewOpenAIExecutor(executor.Config{
		BaseURL: cfg.Executor.BaseURL,
		APIKey:  cfg.Executor.APIKey,
		Model:   cfg.Executor.Model,
	})

	c := consumer.New(broker, repo, exec, replier, consumer.Options{
		Stream:        cfg.Redis.Stream,
		Group:         cfg.Redis.Group,
		Consumer:      cfg.Redis.Consumer,
		Block:         cfg.Redis.Block,
		CrewVersionID: cfg.Executor.CrewVersionID,
	}, logger.Logger)

	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler: promhttp.Handler(),
	}
	go func() {
		logger.Info("metrics listening", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	logger.Info("botrunner consuming",
		"stream", cfg.Redis.Stream,
		"group", cfg.Redis.Group,
		"consumer", cfg.Redis.Consumer)

	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("consumer stopped with error", "error", err)
		os.Exit(1)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server forced to shutdown", "error", err)
	}
	logger.Info("botrunner stopped")
}
