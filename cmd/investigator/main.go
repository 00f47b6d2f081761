package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/rawblock/wallet-investigator/internal/api"
	"github.com/rawblock/wallet-investigator/internal/bus"
	"github.com/rawblock/wallet-investigator/internal/chains"
	"github.com/rawblock/wallet-investigator/internal/config"
	"github.com/rawblock/wallet-investigator/internal/db"
	"github.com/rawblock/wallet-investigator/internal/detect"
	"github.com/rawblock/wallet-investigator/internal/insights"
	"github.com/rawblock/wallet-investigator/internal/investigation"
	"github.com/rawblock/wallet-investigator/internal/price"
	"github.com/rawblock/wallet-investigator/internal/session"
)

const shutdownGrace = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Config load failed")
	}
	setupLogging(cfg.Server)
	gin.SetMode(cfg.Server.GinMode)

	log.Info().Int("port", cfg.Server.Port).Msg("Starting wallet investigation engine")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─── Prices ─────────────────────────────────────────────────────────
	var shared price.SharedTier
	if cfg.Storage.RedisURL != "" {
		tier := price.NewRedisTierFromURL(cfg.Storage.RedisURL)
		defer tier.Close()
		if err := tier.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("Redis unreachable, prices cached in-process only")
		} else {
			shared = tier
		}
	}
	prices := price.NewService(price.Options{
		BaseURL: cfg.Chains.CoinGeckoURL,
		TTL:     cfg.Investigation.PriceTTL,
		Timeout: cfg.Investigation.ProviderTimeout,
		Shared:  shared,
		Logger:  log.Logger,
	})

	// ─── Chains ─────────────────────────────────────────────────────────
	registry, err := chains.Build(ctx, cfg, prices, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Chain registry init failed")
	}
	log.Info().Strs("chains", registry.Supported()).Msg("Chain adapters registered")

	// ─── Storage ────────────────────────────────────────────────────────
	var (
		sink  investigation.Sink = db.NewMemoryStore()
		ready func(context.Context) error
	)
	if cfg.Storage.DatabaseURL != "" {
		store, err := db.Connect(ctx, cfg.Storage.DatabaseURL, log.Logger)
		if err != nil {
			log.Warn().Err(err).Msg("PostgreSQL unavailable, keeping records in memory")
		} else {
			defer store.Close()
			if err := store.InitSchema(ctx); err != nil {
				log.Warn().Err(err).Msg("DB schema init failed")
			}
			sink, ready = store, store.Ping
		}
	} else {
		log.Warn().Msg("DATABASE_URL not set, keeping records in memory")
	}

	// ─── Message bus ────────────────────────────────────────────────────
	var publisher investigation.Publisher
	if cfg.Storage.NATSURL != "" {
		pub, err := bus.NewNATSPublisher(cfg.Storage.NATSURL, bus.DefaultStream, log.Logger)
		if err != nil {
			log.Warn().Err(err).Msg("NATS unavailable, completion messages stored only")
		} else {
			defer pub.Close()
			publisher = pub
		}
	}

	// ─── Engine and sessions ────────────────────────────────────────────
	engine := investigation.NewEngine(investigation.Options{
		Registry:     registry,
		Classifier:   detect.NewClassifier(cfg.Chains.DefaultEVMChain),
		Sink:         sink,
		Publisher:    publisher,
		HistoryLimit: cfg.Investigation.HistoryLimit,
		Timeout:      cfg.Investigation.Timeout,
		Logger:       log.Logger,
	})

	narrator := insights.NewGenerator(cfg.AI, log.Logger)
	log.Info().Str("provider", narrator.Provider()).Msg("Narration ready")

	coordinator := session.NewCoordinator(session.Options{
		Engine:      engine,
		Narrator:    narrator,
		MaxSessions: cfg.Investigation.MaxSessions,
		IdleTimeout: cfg.Investigation.SessionIdleTimeout,
		Logger:      log.Logger,
	})
	go coordinator.RunSweeper(ctx)

	// ─── HTTP ───────────────────────────────────────────────────────────
	router := api.SetupRouter(ctx, api.Deps{
		Config:      cfg,
		Engine:      engine,
		Registry:    registry,
		Coordinator: coordinator,
		Logger:      log.Logger,
		Ready:       ready,
	})
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
	case err := <-errCh:
		log.Error().Err(err).Msg("HTTP server failed")
	}

	coordinator.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown")
	}
	log.Info().Msg("Stopped")
}

// setupLogging installs the process logger: human-readable console output
// in development, JSON in release mode.
func setupLogging(cfg config.ServerConfig) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.GinMode == gin.ReleaseMode {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Str("service", "wallet-investigator").Logger()
		return
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
}
