package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"studio/internal/adapter/repo"
	"studio/internal/compositor"
	"studio/internal/http/handlers"
	httpapi "studio/internal/http/httpapi"
	"studio/internal/infra"
	"studio/internal/infra/credentials"
	"studio/internal/infra/geoip"
	"studio/internal/ledger"
	"studio/internal/middleware"
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
	logger := infra.NewLogger(cfg.AppEnv, "api")

	ctx := context.Background()
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	defer dbpool.Close()

	store, err := storage.NewFileStore(cfg.StoragePath, cfg.StorageBaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize storage")
	}

	runner := infra.NewSQLRunner(dbpool, logger)
	creds := credentials.NewStore(runner)
	if err := creds.FillMissing(ctx, cfg); err != nil {
		logger.Warn().Err(err).Msg("stored provider keys unavailable")
	}

	registry, err := providers.FromConfig(cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build provider registry")
	}
	outpainter := providers.NewOutpaintClient(providers.OutpaintOptions{
		APIKey:  cfg.OutpaintAPIKey,
		BaseURL: cfg.OutpaintBaseURL,
		Logger:  &logger,
	})

	jobs := repo.NewJobRepository(dbpool)
	ledgerRepo := repo.NewLedgerRepository(dbpool)
	assets := repo.NewAssetRepository(dbpool)
	usage := repo.NewUsageRepository(runner)

	credits := ledger.NewService(ledgerRepo, logger)
	fitter := compositor.New(outpainter, store, logger)

	svc, err := orchestrator.NewService(orchestrator.Options{
		Jobs:     jobs,
		Assets:   assets,
		Usage:    usage,
		Ledger:   credits,
		Registry: registry,
		Fitter:   fitter,
		Store:    store,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build orchestrator")
	}

	var countryLookup middleware.CountryLookup
	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("geoip disabled")
	} else if resolver != nil {
		countryLookup = resolver.CountryCode
	}

	app := handlers.NewApp(svc, credits, assets, store, logger)
	router := httpapi.NewRouter(app, httpapi.RouterConfig{
		JWTSecret:        cfg.JWTSecret,
		AllowedOrigins:   cfg.AllowedOrigins,
		DefaultLocale:    cfg.DefaultLocale,
		SupportedLocales: []string{"en", "id", "es", "pt", "ja"},
		RateLimitPerMin:  cfg.RateLimitPerMin,
		CountryLookup:    countryLookup,
		Logger:           logger,
	})

	server := infra.NewHTTPServer(cfg, router)
	go func() {
		logger.Info().Msgf("API listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	logger.Info().Msg("server stopped")
}
