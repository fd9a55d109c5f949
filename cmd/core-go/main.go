package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"safemap/core-go/internal/config"
	"safemap/core-go/internal/db"
	"safemap/core-go/internal/feed"
	"safemap/core-go/internal/httpapi"
	"safemap/core-go/internal/logging"
	"safemap/core-go/internal/metrics"
	"safemap/core-go/internal/overlay"
	"safemap/core-go/internal/surface/memsurface"
)

func main() {
	_ = godotenv.Load(".env")

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"), os.Getenv)
	if err != nil {
		bootLogger := logging.New("info")
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}

	logger := logging.New(cfg.LogLevel)
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := memsurface.New(memsurface.Options{})
	owner := overlay.New(logger, engine, m, overlay.Options{
		Palette:    cfg.Palette,
		Thresholds: cfg.Thresholds,
	})
	if err := owner.Initialize(cfg.Map); err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize map surface")
	}
	defer owner.Teardown()

	var pinger httpapi.Pinger
	if cfg.DatabaseURL != "" {
		pool, err := db.Open(ctx, cfg.DatabaseURL, db.Options{MaxConns: cfg.DBMaxConns})
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		pinger = pool

		if missing, err := pool.MissingTables(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to check dataset tables")
		} else if len(missing) > 0 {
			logger.Warn().Strs("tables", missing).Msg("dataset tables missing; feed will keep retrying")
		}

		worker := feed.New(logger, pool.Queries(), owner, feed.Options{
			PollInterval: cfg.PollInterval,
			Limit:        cfg.FeedLimit,
		}, m)
		go worker.Run(ctx)
	}

	h := httpapi.NewHandler(logger, owner, pinger, m)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("core-go listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info().Msg("shutdown complete")
}
