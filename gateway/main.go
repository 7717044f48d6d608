package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/animus-labs/ailab/internal/platform/env"
	"github.com/animus-labs/ailab/internal/platform/httpserver"
	"github.com/animus-labs/ailab/internal/platform/logging"
)

func main() {
	logger, err := logging.New("gateway")
	if err != nil {
		logging.NewWithWriter(os.Stderr, "gateway", slog.LevelInfo).Error("invalid log config", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("GATEWAY_HTTP_ADDR", ":8080")
	shutdownTimeout, err := env.Duration("GATEWAY_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	handler, err := newGateway(logger, upstreams{
		Experiments:     env.String("EXPERIMENTS_BASE_URL", "http://localhost:8083"),
		DatasetRegistry: env.String("DATASET_REGISTRY_BASE_URL", "http://localhost:8081"),
	})
	if err != nil {
		logger.Error("proxy init failed", "error", err)
		os.Exit(2)
	}

	cfg := httpserver.Config{
		Service:         "gateway",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}
	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "gateway", handler)); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
