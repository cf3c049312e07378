package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwise1/quickpoll_api/config"
	deps "github.com/bwise1/quickpoll_api/internal/debs"
	api "github.com/bwise1/quickpoll_api/internal/http/rest"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	allowConnectionsAfterShutdown = 1 * time.Second
	shutdownPeriod                = 30 * time.Second
)

func main() {
	cfg := config.New()

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	d, err := deps.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise dependencies", zap.Error(err))
	}
	defer d.Close()

	a := &api.API{
		Config: cfg,
		Deps:   d,
	}
	a.Init()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.WebSocket.Run(gctx)
		return nil
	})

	g.Go(func() error {
		logger.Info("server running", zap.Int("port", cfg.Port), zap.String("storage", cfg.StorageDriver))
		if err := a.Serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("request to shutdown server, draining", zap.Duration("grace", allowConnectionsAfterShutdown))
		time.Sleep(allowConnectionsAfterShutdown)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownPeriod)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		return
	}
	logger.Info("server stopped")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Development() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
