package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/web3-frozen/price-alerts/internal/alert"
	"github.com/web3-frozen/price-alerts/internal/config"
	"github.com/web3-frozen/price-alerts/internal/dedup"
	"github.com/web3-frozen/price-alerts/internal/handler"
	"github.com/web3-frozen/price-alerts/internal/logging"
	"github.com/web3-frozen/price-alerts/internal/middleware"
	"github.com/web3-frozen/price-alerts/internal/monitor"
	"github.com/web3-frozen/price-alerts/internal/monitor/sources"
	"github.com/web3-frozen/price-alerts/internal/service"
	"github.com/web3-frozen/price-alerts/internal/store"
	"github.com/web3-frozen/price-alerts/internal/telegram"
)

func main() {
	cfg := config.Load()

	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.FilePath = cfg.LogFile
	logger := logging.New(logCfg)
	slog.SetDefault(logger)

	if missing := cfg.Missing(); len(missing) > 0 {
		logger.Error("required configuration missing", "keys", missing)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	for _, src := range []alert.Source{alert.SourceCMC, alert.SourceCoinGecko} {
		if n, err := db.CountActive(ctx, src); err == nil {
			logger.Info("active alerts", "source", src, "count", n)
		}
	}
	logger.Info("database connected and migrated")

	// Redis dedup is optional; without it delivery is at-least-once.
	var dd *dedup.Deduplicator
	if cfg.RedisURL != "" {
		dd = connectDedup(cfg, logger)
		if dd != nil {
			defer dd.Close()
		}
	}

	// Price providers
	cmc := sources.NewCMC(cfg.CMCAPIKey, cfg.HTTPTimeout)
	gecko := sources.NewCoinGecko(cfg.CoinGeckoAPIKey, sources.CoinGeckoOptions{
		Concurrency:  cfg.CoinGeckoConcurrency,
		RequestDelay: cfg.CoinGeckoRequestDelay,
		Timeout:      cfg.HTTPTimeout,
	})

	// Alert management and Telegram bot
	alerts := service.NewAlerts(db, cmc, gecko, logger)
	if dd != nil {
		alerts.WithDeliveryLog(dd)
	}
	bot := telegram.NewBot(cfg.TelegramToken, alerts, logger)

	// Monitoring engine: one loop per source
	engine := monitor.NewEngine(logger)
	loops := []*monitor.Loop{
		monitor.NewLoop(monitor.NewCMCFetcher(cmc, logger), db, bot, cfg.CMCPollInterval, logger),
		monitor.NewLoop(monitor.NewCoinGeckoFetcher(gecko, logger), db, bot, cfg.CoinGeckoPollInterval, logger),
	}
	for _, l := range loops {
		if dd != nil {
			l.WithDedup(dd)
		}
		if err := engine.Add(l); err != nil {
			logger.Error("failed to register loop", "source", l.Source(), "error", err)
			os.Exit(1)
		}
	}

	// Start background goroutines
	go bot.Run(ctx)
	engine.Start(ctx)

	// HTTP routes
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(cfg.FrontendOrigin))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", handler.Health())
	r.Get("/readyz", handler.Ready(db))

	r.Route("/api", func(r chi.Router) {
		r.Get("/alerts", handler.ListAlerts(alerts, logger))
		r.Post("/alerts", handler.CreateAlert(alerts, logger))
		r.Get("/alerts/{id}", handler.GetAlert(alerts, logger))
		r.Post("/alerts/{id}/reactivate", handler.ReactivateAlert(alerts, logger))
		r.Delete("/alerts/{id}", handler.DeleteAlert(alerts, logger))
		r.Get("/stats", handler.Stats(engine, db, logger))
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down gracefully")
	// Loops finish their current cycle before exiting.
	engine.RequestStop()
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
	if err := engine.Wait(shutdownCtx); err != nil {
		logger.Warn("shutdown deadline reached with a cycle in flight", "error", err)
		return
	}
	logger.Info("shutdown complete")
}

// connectDedup retries for up to 30s so an externally synced password has
// time to land. It returns nil when Redis stays unreachable.
func connectDedup(cfg config.Config, logger *slog.Logger) *dedup.Deduplicator {
	var err error
	for i := 0; i < 6; i++ {
		var dd *dedup.Deduplicator
		dd, err = dedup.New(cfg.RedisURL, cfg.RedisPassword, dedup.DefaultTTL, logger)
		if err == nil {
			logger.Info("redis connected for alert dedup")
			return dd
		}
		logger.Warn("redis not ready, retrying...", "attempt", i+1, "error", err)
		time.Sleep(5 * time.Second)
	}
	logger.Warn("running without notification dedup", "error", err)
	return nil
}
