package main

import (
	"context"
	"flag"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gridprompt/internal/cache"
	"gridprompt/internal/config"
	"gridprompt/internal/core"
	"gridprompt/internal/handlers"
	"gridprompt/internal/httpserver"
	"gridprompt/internal/metrics"
	"gridprompt/internal/provider"
	"gridprompt/pkg/logging"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("gridprompt exited with error: %v", err)
	}
}

func run() error {
	// ----- Logger -----
	logger := logging.DefaultLogger()
	defer logger.Sync()

	// ----- Metrics -----
	metrics.Register()

	// ----- Config -----
	configPath := flag.String("config", os.Getenv("GRIDPROMPT_CONFIG"), "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("config load failed", zap.Error(err))
		return err
	}

	logger.Info("loaded config",
		zap.String("listen", cfg.Listen),
		zap.String("store_backend", cfg.Store.Backend),
		zap.Int("memory_capacity", cfg.Cache.MemoryCapacity),
		zap.Int("max_concurrent", cfg.Limits.MaxConcurrent),
	)

	// ----- Durable store -----
	var store cache.Store
	if cfg.Store.Backend == "off" {
		logger.Info("durable cache disabled")
	} else {
		var redisClient *redis.Client
		if cfg.Store.Backend == "redis" {
			redisClient = redis.NewClient(&redis.Options{
				Addr: cfg.Store.RedisAddr,
			})
			// Fail fast if Redis is misconfigured
			if err := redisClient.Ping(context.Background()).Err(); err != nil {
				logger.Error("redis connection failed", zap.Error(err))
				return err
			}
			logger.Info("redis connection established",
				zap.String("addr", cfg.Store.RedisAddr),
			)
		}

		backendStore, err := cache.NewStore(cfg.Store.Backend, cfg.Store.SQLitePath, redisClient)
		if err != nil {
			logger.Error("store init failed", zap.Error(err))
			return err
		}
		if closer, ok := backendStore.(io.Closer); ok {
			defer closer.Close()
		}
		logger.Info("durable store ready",
			zap.String("backend", cfg.Store.Backend),
		)
		store = cache.NewLoggingStore(backendStore)
	}

	// ----- Core -----
	providers := make(map[provider.Name]core.ProviderConfig, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		providers[provider.Name(name)] = core.ProviderConfig{
			BaseURL: pc.BaseURL,
			APIKey:  pc.APIKey,
		}
	}

	engine := core.New(core.Config{
		MaxConcurrent:     cfg.Limits.MaxConcurrent,
		MemoryCapacity:    cfg.Cache.MemoryCapacity,
		MemoryTTL:         cfg.Cache.MemoryTTL.Std(),
		DurableTTL:        cfg.Cache.DurableTTL.Std(),
		DurableMaxEntries: cfg.Cache.DurableMaxEntries,
		KeyPrefix:         cfg.Cache.KeyPrefix,
		DefaultTimeout:    cfg.Limits.DefaultTimeout.Std(),
		BaseBackoff:       cfg.Limits.BaseBackoff.Std(),
		LogMax:            cfg.Limits.LogMax,
		Providers:         providers,
	}, store, logger)
	defer engine.Close()

	// ----- Handlers -----
	gen := handlers.NewGenerateHandler(engine)

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, gen)

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting gridprompt",
		zap.String("addr", srv.Addr),
		zap.String("store_backend", cfg.Store.Backend),
	)

	// Start server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}
