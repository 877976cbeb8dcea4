// Package main is the entry point for the PriceSentry monitoring service.
// It boots the configuration store, wires the exchange adapter, detector,
// notifier, and observer API, and runs the supervisor loop until
// interrupted.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/Xeron2000/pricesentry/internal/cache"
	"github.com/Xeron2000/pricesentry/internal/chart"
	"github.com/Xeron2000/pricesentry/internal/config"
	"github.com/Xeron2000/pricesentry/internal/exchange"
	"github.com/Xeron2000/pricesentry/internal/market"
	"github.com/Xeron2000/pricesentry/internal/monitor"
	"github.com/Xeron2000/pricesentry/internal/notify"
	"github.com/Xeron2000/pricesentry/internal/reliability"
	"github.com/Xeron2000/pricesentry/internal/sentry"
	"github.com/Xeron2000/pricesentry/internal/server"
	"github.com/Xeron2000/pricesentry/pkg/logger"
)

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func main() {
	// .env is optional; environment variables win over file contents.
	_ = godotenv.Load()

	configPath := flag.String("config", getEnv("SENTRY_CONFIG", config.DefaultPath), "path to config.yaml")
	marketsPath := flag.String("markets", getEnv("SENTRY_MARKETS", market.DefaultCatalogPath), "path to supported_markets.json")
	listenAddr := flag.String("listen", getEnv("SENTRY_LISTEN", ":8000"), "observer API listen address")
	dataDir := flag.String("data-dir", getEnv("SENTRY_DATA_DIR", "data"), "directory for local state")
	flag.Parse()

	bootLog := logger.New(logger.Config{Level: "info", Pretty: true})

	store, err := config.NewStore(*configPath, bootLog)
	if err != nil {
		bootLog.Fatal().Err(err).Str("path", *configPath).Msg("Failed to load configuration")
	}
	cfg := store.Get()

	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: true})
	logger.SetGlobalLogger(log)
	log.Info().Str("exchange", cfg.Exchange).Msg("Starting PriceSentry")

	catalog := market.LoadCatalog(*marketsPath, log)
	if len(catalog.Symbols(cfg.Exchange)) == 0 {
		log.Fatal().Str("exchange", cfg.Exchange).Msg("Market catalog empty for configured exchange")
	}

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", *dataDir).Msg("Failed to create data directory")
	}

	priceCache := cache.NewPriceCache(cache.DefaultMaxSize, cache.DefaultTTL)
	alerts := cache.NewAlertHistory(cache.DefaultAlertHistory)
	perf := monitor.New()
	breakers := reliability.NewBreakerRegistry(log)

	history, err := notify.NewHistoryStore(filepath.Join(*dataDir, "notification_history.db"), log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open notification history store")
	}
	defer history.Close()

	notifier := notify.NewNotifier(cfg, history, log)
	chartBuilder := chart.NewBuilder(chart.NopRenderer{}, log)

	factory := func(exchangeName string) (sentry.Adapter, error) {
		return exchange.NewAdapter(exchangeName, priceCache, breakers, perf, log)
	}

	sup, err := sentry.New(sentry.Deps{
		Store:      store,
		Catalog:    catalog,
		Notifier:   notifier,
		Chart:      chartBuilder,
		Alerts:     alerts,
		PriceCache: priceCache,
		Perf:       perf,
		NewAdapter: factory,
		Log:        log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to boot supervisor")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Observer API consumes published snapshots and accepts config updates.
	api := server.New(store, log)
	sup.Subscribe(api)
	go func() {
		if err := api.Start(ctx, *listenAddr); err != nil {
			log.Error().Err(err).Msg("Observer API stopped")
		}
	}()

	// Maintenance jobs: nightly market-catalog refresh and an hourly
	// performance summary.
	refresher := market.NewRefresher(*marketsPath, log)
	jobs := cron.New()
	if _, err := jobs.AddFunc("0 4 * * *", func() {
		if err := refresher.Refresh(ctx); err != nil {
			log.Warn().Err(err).Msg("Market catalog refresh failed")
		}
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to schedule market refresh")
	}
	if _, err := jobs.AddFunc("@hourly", func() {
		stats := perf.Snapshot()
		log.Info().
			Float64("uptime_seconds", stats.UptimeSeconds).
			Int64("stream_ticks", stats.Counters["stream_ticks"]).
			Int64("alerts_emitted", stats.Counters["alerts_emitted"]).
			Msg("Hourly performance summary")
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to schedule performance summary")
	}
	jobs.Start()
	defer jobs.Stop()

	// Interrupt handling: SIGINT exits 130, SIGTERM exits 0.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	received := make(chan os.Signal, 1)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
		received <- sig
		cancel()
	}()

	if err := sup.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Supervisor exited with error")
		os.Exit(1)
	}

	priceCache.Clear()
	log.Info().Msg("Shutdown complete")
	select {
	case sig := <-received:
		if sig == syscall.SIGINT {
			os.Exit(130)
		}
	default:
	}
}
