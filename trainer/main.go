// Command trainer drains the run job queue and executes runs.
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
	"github.com/animus-labs/ailab/internal/jobs"
	"github.com/animus-labs/ailab/internal/platform/env"
	"github.com/animus-labs/ailab/internal/platform/httpserver"
	"github.com/animus-labs/ailab/internal/platform/logging"
	"github.com/animus-labs/ailab/internal/platform/objectstore"
	"github.com/animus-labs/ailab/internal/platform/postgres"
	"github.com/animus-labs/ailab/internal/service/runs"
	"github.com/animus-labs/ailab/internal/training"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger, err := logging.New("trainer")
	if err != nil {
		logging.NewWithWriter(os.Stderr, "trainer", slog.LevelInfo).Error("invalid log config", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("TRAINER_HTTP_ADDR", ":8084")
	workerCfg, err := jobs.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid worker config", "error", err)
		os.Exit(2)
	}
	settings, err := training.SettingsFromEnv()
	if err != nil {
		logger.Error("invalid training settings", "error", err)
		os.Exit(2)
	}
	dbCfg, err := postgres.ConfigFromEnv("trainer")
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}

	db, err := app.OpenDatabase(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()
	storage, err := app.OpenStorage(ctx, storeCfg)
	if err != nil {
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}

	stores := app.PostgresStores(db, "trainer")
	tr, err := app.NewTrainer(settings, storage, logger)
	if err != nil {
		logger.Error("trainer init failed", "error", err)
		os.Exit(2)
	}
	svc := runs.New(stores.Runs, stores.Datasets, stores.Jobs, runs.UseTrainer(tr), logger)
	worker, err := jobs.NewWorker(stores.Jobs, svc, workerCfg, logger)
	if err != nil {
		logger.Error("worker init failed", "error", err)
		os.Exit(2)
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
	mux.HandleFunc("/healthz", httpserver.Healthz("trainer"))
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks("trainer", checks...))

	logger.Info("worker starting", "concurrency", workerCfg.Concurrency, "poll_interval", workerCfg.PollInterval.String())
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return worker.Run(gctx) })
	g.Go(func() error {
		return httpserver.Run(gctx, logger, httpserver.Config{Service: "trainer", Addr: addr}, httpserver.Wrap(logger, "trainer", mux))
	})
	if err := g.Wait(); err != nil {
		logger.Error("trainer exited", "error", err)
		os.Exit(1)
	}
}
