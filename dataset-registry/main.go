package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/animus-labs/ailab/internal/app"
	"github.com/animus-labs/ailab/internal/platform/env"
	"github.com/animus-labs/ailab/internal/platform/httpserver"
	"github.com/animus-labs/ailab/internal/platform/logging"
	"github.com/animus-labs/ailab/internal/platform/objectstore"
	"github.com/animus-labs/ailab/internal/platform/postgres"
	repopg "github.com/animus-labs/ailab/internal/repo/postgres"
	"github.com/animus-labs/ailab/internal/training"
)

func main() {
	logger, err := logging.New("dataset-registry")
	if err != nil {
		logging.NewWithWriter(os.Stderr, "dataset-registry", slog.LevelInfo).Error("invalid log config", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("DATASET_REGISTRY_HTTP_ADDR", ":8081")
	shutdownTimeout, err := env.Duration("DATASET_REGISTRY_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	settings, err := training.SettingsFromEnv()
	if err != nil {
		logger.Error("invalid training settings", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv("dataset-registry")
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := app.OpenDatabase(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	storage, err := app.OpenStorage(ctx, storeCfg)
	if err != nil {
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}

	checks := []httpserver.ReadinessCheck{{
		Name: "postgres",
		Check: func(ctx context.Context) error {
			checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
			defer cancel()
			return db.PingContext(checkCtx)
		},
	}}
	if storage.Enabled() {
		checks = append(checks, httpserver.ReadinessCheck{Name: "minio", Check: storage.Check})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("dataset-registry"))
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks("dataset-registry", checks...))
	api := newDatasetRegistryAPI(logger, repopg.NewDatasetStore(db), storage.Store, storeCfg.BucketDatasets, settings.UploadDir)
	api.register(mux)

	if err := httpserver.Run(ctx, logger, httpserver.Config{
		Service:         "dataset-registry",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}, httpserver.Wrap(logger, "dataset-registry", mux)); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}
