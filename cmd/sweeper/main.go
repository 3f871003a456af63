// The sweeper polls every in-flight generation job against its provider and
// applies terminal transitions, refunds and asset promotion.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"studio/internal/adapter/repo"
	"studio/internal/infra"
	"studio/internal/infra/credentials"
	"studio/internal/ledger"
	"studio/internal/orchestrator"
	"studio/internal/providers"
	"studio/internal/storage"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, "sweeper")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("sweeper: db connection failed")
	}
	defer dbpool.Close()

	store, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("sweeper: storage init failed")
	}

	runner := infra.NewSQLRunner(dbpool, logger)
	if err := credentials.NewStore(runner).FillMissing(ctx, cfg); err != nil {
		logger.Warn().Err(err).Msg("sweeper: stored provider keys unavailable")
	}

	registry, err := providers.FromConfig(cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("sweeper: provider registry failed")
	}

	svc, err := orchestrator.NewService(orchestrator.Options{
		Jobs:     repo.NewJobRepository(dbpool),
		Assets:   repo.NewAssetRepository(dbpool),
		Usage:    repo.NewUsageRepository(runner),
		Ledger:   ledger.NewService(repo.NewLedgerRepository(dbpool), logger),
		Registry: registry,
		Store:    store,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("sweeper: orchestrator init failed")
	}

	sweeper := orchestrator.NewSweeper(svc, orchestrator.SweepConfig{
		Interval:           cfg.SweepInterval,
		BatchSize:          cfg.SweepBatchSize,
		MaxConcurrentPolls: cfg.MaxConcurrentPolls,
	})

	logger.Info().Dur("interval", cfg.SweepInterval).Int("batch", cfg.SweepBatchSize).Msg("sweeper: started")
	sweeper.Run(ctx)
	logger.Info().Msg("sweeper: stopped")
}
