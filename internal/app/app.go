// Package app wires configuration into a running ledger: store, engine,
// stats cache, audit chain and token validator. Binaries build one App and
// attach their transport to it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/expense-ledger/internal/auth"
	"github.com/example/expense-ledger/internal/config"
	"github.com/example/expense-ledger/internal/ledger"
	"github.com/example/expense-ledger/internal/stats"
	"github.com/example/expense-ledger/internal/storage"
	"github.com/example/expense-ledger/pkg/audit"
)

const redisPrefix = "expense_ledger"

type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Store     ledger.Store
	Redis     *redis.Client
	Engine    *ledger.Engine
	Stats     *stats.Service
	Audit     *audit.ChainLogger
	Validator *auth.Validator

	memCache *stats.MemoryCache
}

// NewLogger returns the JSON logger every binary writes to stdout.
func NewLogger(w io.Writer, env string) *slog.Logger {
	level := slog.LevelInfo
	if env == config.EnvDevelopment {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// StoreOptions maps the configuration onto storage options.
func StoreOptions(cfg *config.Config) storage.Options {
	return storage.Options{
		Driver:      cfg.StoreDriver,
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
		TxTimeout:   cfg.TxTimeout,
		Migrate:     cfg.MigrateOnStart,
	}
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.Open(ctx, StoreOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.StoreDriver, err)
	}

	a := &App{
		Config:    cfg,
		Logger:    logger,
		Store:     store,
		Validator: &auth.Validator{Secret: []byte(cfg.AccessSecret), Issuer: auth.DefaultIssuer},
	}

	var cache stats.Cache
	if cfg.RedisAddr != "" {
		a.Redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		cache = &stats.RedisCache{Redis: a.Redis, Prefix: redisPrefix, TTL: cfg.StatsCacheTTL}
	} else if cfg.StatsCacheSize > 0 {
		a.memCache = stats.NewMemoryCache(cfg.StatsCacheSize, cfg.StatsCacheTTL)
		cache = a.memCache
	}

	a.Stats = stats.NewService(store, cache, stats.Config{
		InvalidateOnWrite: cfg.StatsInvalidateOnWrite,
		Logger:            logger,
	})
	a.Audit = audit.NewChainLogger(audit.WithSink(audit.SlogSink(logger.With("component", "audit"))))
	a.Engine = ledger.NewEngine(store,
		ledger.WithLogger(logger),
		ledger.WithInvalidator(a.Stats),
		ledger.WithAuditor(a.Audit),
	)

	logger.Info("ledger ready",
		"env", cfg.Environment,
		"store", cfg.StoreDriver,
		"stats_cache", cacheKind(cfg),
		"invalidate_on_write", cfg.StatsInvalidateOnWrite,
	)
	return a, nil
}

// RunJanitor evicts expired in-process stats entries until ctx is done.
func (a *App) RunJanitor(ctx context.Context) error {
	if a.memCache == nil || a.Config.StatsCacheTTL <= 0 {
		<-ctx.Done()
		return nil
	}
	t := time.NewTicker(a.Config.StatsCacheTTL)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := a.memCache.CleanExpired(); n > 0 {
				a.Logger.Debug("stats cache cleaned", "evicted", n)
			}
		}
	}
}

func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}

func cacheKind(cfg *config.Config) string {
	switch {
	case cfg.RedisAddr != "":
		return "redis"
	case cfg.StatsCacheSize > 0:
		return "memory"
	default:
		return "none"
	}
}
