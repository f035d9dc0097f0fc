package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IlyasAtabaev731/onlyfrens/internal/api"
	"github.com/IlyasAtabaev731/onlyfrens/internal/config"
	"github.com/IlyasAtabaev731/onlyfrens/internal/ledger"
	"github.com/IlyasAtabaev731/onlyfrens/internal/lib/metrics"
	"github.com/IlyasAtabaev731/onlyfrens/internal/storage"
	"github.com/IlyasAtabaev731/onlyfrens/internal/storage/memory"
	"github.com/IlyasAtabaev731/onlyfrens/internal/storage/postgres"
	"github.com/shopspring/decimal"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)

	log.Info("Starting application",
		slog.String("env", cfg.Env),
		slog.String("host", cfg.ApiHost),
		slog.Int("port", cfg.ApiPort),
		slog.String("storage", cfg.Storage),
	)

	grant, err := decimal.NewFromString(cfg.Ledger.StartingGrant)
	if err != nil || grant.IsNegative() {
		log.Error("Invalid starting grant", slog.String("value", cfg.Ledger.StartingGrant))
		os.Exit(1)
	}

	store, err := newStorage(cfg, log)
	if err != nil {
		log.Error("Failed to open storage", "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	l := ledger.New(store, log,
		ledger.WithRecorder(m),
		ledger.WithStartingGrant(grant),
	)

	apiServer := api.New(cfg, log, l, m)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		apiServer.MustStart()
	}()

	<-sigChan
	log.Info("Got signal to shutdown server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Stop(ctx); err != nil {
		log.Error("Stopping server error", "error", err)
	}
	if err := store.Stop(); err != nil {
		log.Error("Closing storage error", "error", err)
	}
}

func newStorage(cfg *config.Config, log *slog.Logger) (storage.Storage, error) {
	if cfg.Storage == config.StoragePostgres {
		s, err := postgres.New(cfg.PostgresURL(), log)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return memory.New(log), nil
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger
	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}
	return log
}
