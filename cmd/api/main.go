package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/expense-ledger/internal/api"
	"github.com/example/expense-ledger/internal/app"
	"github.com/example/expense-ledger/internal/config"
	"github.com/example/expense-ledger/internal/security"
)

func main() {
	if err := run(); err != nil {
		slog.Error("api exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := app.NewLogger(os.Stdout, cfg.Environment)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	allowlist, err := security.ParseCIDRAllowlist(cfg.IPAllowlist)
	if err != nil {
		return err
	}

	var limiter *security.RedisTokenBucket
	if a.Redis != nil {
		limiter = &security.RedisTokenBucket{
			Redis:      a.Redis,
			Prefix:     "expense_ledger_api",
			Capacity:   cfg.RateLimitCapacity,
			RefillRate: cfg.RateLimitRefillPerSec,
		}
	}

	router, err := api.NewRouter(api.Dependencies{
		Logger:       logger,
		Validator:    a.Validator,
		Ledger:       a.Engine,
		Stats:        a.Stats,
		Auditor:      a.Audit,
		RateLimiter:  limiter,
		IPAllowlist:  allowlist,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	tlsCfg := security.TLSConfig{
		CertFile:          cfg.TLSCertFile,
		KeyFile:           cfg.TLSKeyFile,
		CAFile:            cfg.TLSCAFile,
		RequireClientAuth: cfg.TLSRequireClientAuth,
	}
	if tlsCfg.Enabled() {
		if srv.TLSConfig, err = security.LoadServerTLSConfig(tlsCfg); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("expense ledger api listening", "addr", cfg.APIAddr, "tls", tlsCfg.Enabled())
		var err error
		if tlsCfg.Enabled() {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return a.RunJanitor(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
