package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
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
)

func main() {
	logger, err := logging.New("experiments")
	if err != nil {
		logging.NewWithWriter(os.Stderr, "experiments", slog.LevelInfo).Error("invalid log config", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("EXPERIMENTS_HTTP_ADDR", ":8083")
	shutdownTimeout, err := env.Duration("EXPERIMENTS_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	settings, err := training.SettingsFromEnv()
	if err != nil {
		logger.Error("invalid training settings", "error", err)
		os.Exit(2)
	}
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

	var checks []httpserver.ReadinessCheck
	var stores app.Stores
	backend := strings.ToLower(strings.TrimSpace(env.String("AILAB_STORE", "postgres")))
	switch backend {
	case "postgres":
		dbCfg, err := postgres.ConfigFromEnv("experiments")
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
		stores = app.PostgresStores(db, "experiments")
		checks = append(checks, httpserver.ReadinessCheck{
			Name: "postgres",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return db.PingContext(checkCtx)
			},
		})
	case "memory":
		stores = app.MemoryStores()
	default:
		logger.Error("unsupported store backend", "backend", backend)
		os.Exit(2)
	}
	if storage.Enabled() {
		checks = append(checks, httpserver.ReadinessCheck{Name: "minio", Check: storage.Check})
	}

	tr, err := app.NewTrainer(settings, storage, logger)
	if err != nil {
		logger.Error("trainer init failed", "error", err)
		os.Exit(2)
	}
	svc := runs.New(stores.Runs, stores.Datasets, stores.Jobs, runs.UseTrainer(tr), logger)

	// The in-memory queue is only visible to this process, so it is drained
	// here instead of by the trainer binary.
	if backend == "memory" {
		workerCfg, err := jobs.ConfigFromEnv()
		if err != nil {
			logger.Error("invalid worker config", "error", err)
			os.Exit(2)
		}
		worker, err := jobs.NewWorker(stores.Jobs, svc, workerCfg, logger)
		if err != nil {
			logger.Error("worker init failed", "error", err)
			os.Exit(2)
		}
		go func() {
			if err := worker.Run(ctx); err != nil {
				logger.Error("worker stopped", "error", err)
			}
		}()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("experiments"))
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks("experiments", checks...))
	newExperimentsAPI(logger, stores, svc).register(mux)

	if err := httpserver.Run(ctx, logger, httpserver.Config{
		Service:         "experiments",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}, httpserver.Wrap(logger, "experiments", mux)); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}
