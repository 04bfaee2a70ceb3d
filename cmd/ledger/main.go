package main

import (
	"context"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/reflection"

	"github.com/example/expense-ledger/internal/app"
	"github.com/example/expense-ledger/internal/config"
	"github.com/example/expense-ledger/internal/rpc"
	"github.com/example/expense-ledger/internal/security"
)

func main() {
	if err := run(); err != nil {
		slog.Error("ledger exited", "error", err)
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

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			rpc.UnaryLoggingInterceptor(logger),
			rpc.UnaryAuthInterceptor(a.Validator),
		),
	}
	tlsCfg := security.TLSConfig{
		CertFile:          cfg.TLSCertFile,
		KeyFile:           cfg.TLSKeyFile,
		CAFile:            cfg.TLSCAFile,
		RequireClientAuth: cfg.TLSRequireClientAuth,
	}
	if tlsCfg.Enabled() {
		c, err := security.LoadServerTLSConfig(tlsCfg)
		if err != nil {
			return err
		}
		opts = append(opts, grpc.Creds(credentials.NewTLS(c)))
	}

	srv := grpc.NewServer(opts...)
	rpc.RegisterLedgerServer(srv, rpc.NewServer(a.Engine, rpc.WithLogger(a.Logger)))
	reflection.Register(srv)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("expense ledger grpc listening", "addr", lis.Addr().String(), "tls", tlsCfg.Enabled())
		return srv.Serve(lis)
	})
	g.Go(func() error {
		return a.RunJanitor(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		srv.GracefulStop()
		return nil
	})

	return g.Wait()
}
