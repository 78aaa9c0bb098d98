package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/systemli/connd/pool"
)

func main() {
	cfg, err := NewConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	var cache *sessionCache
	if cfg.RedisAddr != "" {
		cache = newSessionCache(cfg.RedisAddr, cfg.AffinityWebhookURL, logger)
		defer func() { _ = cache.Close() }()
	}

	handler := newEchoHandler(logger, cache)

	acceptor, err := pool.NewAcceptor(cfg.BindIP, cfg.Port, cfg.Workers,
		pool.WithHandler(handler.Handle),
		pool.WithLogger(logger),
		pool.WithAcceptRate(cfg.AcceptRate),
		pool.WithAcceptorWaitTimeout(cfg.AcceptorWaitTimeout),
		pool.WithMetrics(promMetrics{}),
	)
	if err != nil {
		logger.Fatal("failed to construct acceptor", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go startMetricsServer(ctx, logger, cfg.MetricsListenAddr, acceptor.Workers())

	logger.Info("connd starting",
		zap.String("bind_ip", cfg.BindIP), zap.Int("port", cfg.Port), zap.Int("workers", cfg.Workers))

	runErr := make(chan error, 1)
	go func() { runErr <- acceptor.Run(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-runErr:
		if err != nil {
			logger.Error("acceptor run loop exited with error", zap.Error(err))
		}
	}

	closed, leaked := acceptor.Shutdown()
	logger.Info("connd stopped", zap.Int("closed", closed), zap.Int("leaked", leaked))
}

func newLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("connd: invalid CONND_LOG_LEVEL %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	return cfg.Build()
}
