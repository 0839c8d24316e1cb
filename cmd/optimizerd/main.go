package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/luxfi/attribution/pkg/api"
	"github.com/luxfi/attribution/pkg/cache"
	"github.com/luxfi/attribution/pkg/log"
	"github.com/luxfi/attribution/pkg/refconfig"
	"github.com/luxfi/attribution/pkg/warehouse"
)

var (
	configPath = flag.String("config", "config.yaml", "Path to the service config file")
	port       = flag.String("port", "", "Listen port (overrides config)")
	env        = flag.String("env", "development", "Environment (development/production)")
)

type appConfig struct {
	Port            string           `yaml:"port"`
	LogLevel        string           `yaml:"log_level"`
	RefConfigPath   string           `yaml:"refconfig_path"`
	RefreshInterval string           `yaml:"refresh_interval"`
	Snowflake       warehouse.Config `yaml:"snowflake"`
	Redis           redisConfig      `yaml:"redis"`

	refreshEvery time.Duration
}

type redisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTL      string `yaml:"ttl"`

	ttl time.Duration
}

func loadConfig(path string) (appConfig, error) {
	cfg := appConfig{
		Port:         "8080",
		LogLevel:     "info",
		refreshEvery: 5 * time.Minute,
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if cfg.RefreshInterval != "" {
		if cfg.refreshEvery, err = time.ParseDuration(cfg.RefreshInterval); err != nil {
			return cfg, fmt.Errorf("parse refresh_interval: %w", err)
		}
	}
	if cfg.Redis.TTL != "" {
		if cfg.Redis.ttl, err = time.ParseDuration(cfg.Redis.TTL); err != nil {
			return cfg, fmt.Errorf("parse redis ttl: %w", err)
		}
	}

	// Secrets come from the environment, not the config file.
	if v := os.Getenv("SNOWFLAKE_PASSWORD"); v != "" {
		cfg.Snowflake.Password = v
	}
	if v := os.Getenv("SNOWFLAKE_USER"); v != "" {
		cfg.Snowflake.User = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	return cfg, nil
}

func main() {
	flag.Parse()

	// .env is optional; absence is not an error.
	_ = godotenv.Load()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Port = *port
	}

	logger := log.NewWithLevel(cfg.LogLevel)
	defer logger.Sync()

	wh, err := warehouse.New(cfg.Snowflake, logger)
	if err != nil {
		logger.Fatal("warehouse connection failed", log.Error(err))
	}
	defer wh.Close()

	resolver, err := initResolver(cfg, wh, logger)
	if err != nil {
		logger.Fatal("reference config load failed", log.Error(err))
	}

	var respCache *cache.Cache
	if cfg.Redis.Addr != "" {
		respCache = cache.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.ttl)
		defer respCache.Close()
	}

	if *env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	server := api.New(api.Config{
		Store:    wh,
		Resolver: resolver,
		Cache:    respCache,
		Logger:   logger,
	})

	refreshCtx, stopRefresh := context.WithCancel(context.Background())
	defer stopRefresh()
	go refreshLoop(refreshCtx, cfg, wh, resolver, respCache, server, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: server.Router(),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", log.Error(err))
		}
	}()
	logger.Info("optimizerd started",
		log.String("port", cfg.Port),
		log.String("env", *env))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	stopRefresh()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("forced shutdown", log.Error(err))
	}
	logger.Info("server exiting")
}

// initResolver loads the first reference snapshot, preferring a local
// file when one is configured so the service can boot without the
// warehouse.
func initResolver(cfg appConfig, wh *warehouse.Client, logger log.Logger) (*refconfig.Resolver, error) {
	if cfg.RefConfigPath != "" {
		snap, err := refconfig.LoadFile(cfg.RefConfigPath)
		if err != nil {
			return nil, err
		}
		logger.Info("reference config loaded from file",
			log.String("path", cfg.RefConfigPath),
			log.Int("platforms", len(snap.Platforms)))
		return refconfig.NewResolver(snap), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	rows, err := wh.FetchConfigRows(ctx)
	if err != nil {
		return nil, err
	}
	snap := refconfig.FromRows(rows)
	logger.Info("reference config loaded from warehouse",
		log.Int("platforms", len(snap.Platforms)))
	return refconfig.NewResolver(snap), nil
}

// refreshLoop swaps in a fresh reference snapshot on an interval and
// flushes the response cache, since cached rollups were computed under
// the old effective config. Readers keep the old snapshot until the
// swap, so a failed refresh only delays updates, it never breaks
// resolution.
func refreshLoop(ctx context.Context, cfg appConfig, wh *warehouse.Client, resolver *refconfig.Resolver, respCache *cache.Cache, server *api.Server, logger log.Logger) {
	ticker := time.NewTicker(cfg.refreshEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		var (
			snap *refconfig.Snapshot
			err  error
		)
		if cfg.RefConfigPath != "" {
			snap, err = refconfig.LoadFile(cfg.RefConfigPath)
		} else {
			fetchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			var rows []refconfig.ConfigRow
			rows, err = wh.FetchConfigRows(fetchCtx)
			cancel()
			if err == nil {
				snap = refconfig.FromRows(rows)
			}
		}
		if err != nil {
			logger.Warn("reference config refresh failed", log.Error(err))
			continue
		}

		resolver.Refresh(snap)
		server.Metrics().SnapshotRefreshes.Inc()
		if respCache != nil {
			if err := respCache.Invalidate(ctx); err != nil {
				logger.Warn("cache invalidation failed", log.Error(err))
			}
		}
		logger.Debug("reference config refreshed",
			log.Int("platforms", len(snap.Platforms)))
	}
}
