package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/beluchon/stream-fusion/internal/cache"
	"github.com/beluchon/stream-fusion/internal/config"
	"github.com/beluchon/stream-fusion/internal/orchestrator"
	"github.com/beluchon/stream-fusion/internal/playback"
	"github.com/beluchon/stream-fusion/internal/stremio"
)

const version = "1.0.0"

var manifest = stremio.Manifest{
	ID:          "dev.stream-fusion.addon",
	Name:        "Stream Fusion",
	Description: "Finds torrents across public and private indexers and turns the ones already cached on your debrid service into instant HTTP streams.",
	Version:     version,

	ResourceItems: []stremio.ResourceItem{
		{
			Name:       "stream",
			Types:      []string{"movie", "series"},
			IDprefixes: []string{"tt"},
		},
	},
	Types:      []string{"movie", "series"},
	Catalogs:   []stremio.CatalogItem{},
	IDprefixes: []string{"tt"},

	BehaviorHints: stremio.BehaviorHints{},
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := mustLogger("info", true)

	logger.Info("parsing config")
	cfg := config.Parse(ctx, logger)
	if cfg.LogLevel != "info" || !cfg.LogJSON {
		logger = mustLogger(cfg.LogLevel, cfg.LogJSON)
	}
	logger.Info("parsed config", zap.String("addonHost", cfg.AddonHost), zap.Int("port", cfg.Port))

	store, closer := initStore(cfg, logger)
	defer func() {
		if err := closer(); err != nil {
			logger.Error("couldn't close all stores", zap.Error(err))
		}
	}()

	registry := newProviderRegistry(cfg, logger)
	orch := orchestrator.New(store, cfg.CacheAgeStream, cfg.CacheAgeStreamAggr, logger)
	resolver := playback.New(store, logger)
	keyStore := apiKeyStore(openAPIKeyStore{})

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(recover.New())

	app.Get("/manifest.json", manifestHandler(manifest))
	app.Get("/:configB64/manifest.json", decodeConfigMiddleware(logger), manifestHandler(manifest))

	app.Get("/:configB64/stream/:type/:streamID",
		decodeConfigMiddleware(logger),
		authMiddleware(keyStore, logger),
		streamHandler(cfg, orch, registry, logger))

	for _, method := range []string{fiber.MethodGet, fiber.MethodHead} {
		app.Add(method, "/playback/:configB64/:queryB64",
			decodeConfigMiddleware(logger),
			authMiddleware(keyStore, logger),
			playbackHandler(registry, resolver, logger))
		app.Add(method, "/playback/stremthru/:storeCode/:configB64/:queryB64",
			decodeConfigMiddleware(logger),
			authMiddleware(keyStore, logger),
			playbackAggregatorHandler(registry, resolver, logger))
	}

	if cfg.OAuth2ClientID != "" {
		// PikPak is the only provider wired through the
		// {access_token, refresh_token} OAuth2 config shape; every other
		// provider takes a bare API key in providerTokens.
		app.Get("/oauth2/init", oauth2InitHandler(cfg, logger))
		app.Get("/oauth2/install", oauth2InstallHandler(cfg, "PK", logger))
	}

	addr := fmt.Sprintf("%s:%d", cfg.BindAddr, cfg.Port)
	go func() {
		logger.Info("listening", zap.String("addr", addr))
		if err := app.Listen(addr); err != nil {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	waitForShutdown(logger)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("couldn't shut down cleanly", zap.Error(err))
	}
}

func mustLogger(level string, jsonEncoding bool) *zap.Logger {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		zapLevel = zapcore.InfoLevel
	}
	zapCfg := zap.NewProductionConfig()
	if !jsonEncoding {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(zapLevel)
	logger, err := zapCfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

// initStore wires the cache.Store to Redis when configured, falling back to
// a BadgerDB on-disk tier so single-node deployments still persist cached
// results across restarts; the returned closer releases whichever backend
// was actually opened, with close errors aggregated via multierr.
func initStore(cfg config.Config, logger *zap.Logger) (*cache.Store, func() error) {
	var closers []func() error
	multiCloser := func() error {
		var result error
		for _, c := range closers {
			if err := c(); err != nil {
				result = multierr.Append(result, err)
			}
		}
		return result
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		closers = append(closers, rdb.Close)
		return cache.New(rdb, nil, logger), multiCloser
	}

	badgerPath := cfg.BadgerPath
	if badgerPath == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			logger.Fatal("couldn't determine user cache dir", zap.Error(err))
		}
		badgerPath = filepath.Join(dir, "stream-fusion", "badger")
	}
	if err := os.MkdirAll(badgerPath, 0o755); err != nil {
		logger.Fatal("couldn't create badger storage dir", zap.Error(err))
	}
	bdb, err := cache.OpenBadger(badgerPath, logger)
	if err != nil {
		logger.Fatal("couldn't open badgerdb", zap.Error(err))
	}
	closers = append(closers, bdb.Close)

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if err := bdb.RunValueLogGC(0.5); err != nil {
				logger.Debug("badgerdb value log gc skipped", zap.Error(err))
			}
		}
	}()

	return cache.New(nil, bdb, logger), multiCloser
}

func waitForShutdown(logger *zap.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Info("received shutdown signal", zap.String("signal", s.String()))
}
