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

	"github.com/ecocrm-platform/ecocrm-stack/common/chatwoot"
	"github.com/ecocrm-platform/ecocrm-stack/common/logging"
	"github.com/ecocrm-platform/ecocrm-stack/datahub/internal/config"
	"github.com/ecocrm-platform/ecocrm-stack/datahub/internal/repository"
	"github.com/ecocrm-platform/ecocrm-stack/datahub/internal/worker"
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

	repo, err := repository.NewPostgresRepository(ctx, cfg.Database.ConnString(), logger.Logger)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	source := chatwoot.New(cfg.Chatwoot.BaseURL, cfg.Chatwoot.Token, cfg.Chatwoot.AccountID)

	w := worker.New(source, repo, worker.Options{
		Interval:  cfg.Sync.Interval,
		Status:    cfg.Sync.Status,
		AccountID: cfg.Chatwoot.AccountID,
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

	go w.Start(ctx)

	<-ctx.Done()
	w.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server forced to shutdown", "error", err)
	}
	logger.Info("datahub stopped")
}
