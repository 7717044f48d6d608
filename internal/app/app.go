// Package app wires the stores, object storage and trainer shared by the
// service binaries and the CLI.
package app

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/animus-labs/ailab/internal/artifacts"
	platformstore "github.com/animus-labs/ailab/internal/platform/objectstore"
	platformpg "github.com/animus-labs/ailab/internal/platform/postgres"
	"github.com/animus-labs/ailab/internal/repo"
	"github.com/animus-labs/ailab/internal/repo/memory"
	"github.com/animus-labs/ailab/internal/repo/postgres"
	"github.com/animus-labs/ailab/internal/storage/objectstore"
	"github.com/animus-labs/ailab/internal/training"
	"github.com/animus-labs/ailab/internal/training/dataset"
	"github.com/animus-labs/ailab/internal/training/trainer"
	"github.com/minio/minio-go/v7"
)

// Stores groups the record store and job queue implementations.
type Stores struct {
	Projects    repo.ProjectRepository
	Experiments repo.ExperimentRepository
	Datasets    repo.DatasetRepository
	Runs        repo.RunRepository
	Jobs        repo.JobQueue
}

// OpenDatabase connects to Postgres and applies the store schema.
func OpenDatabase(ctx context.Context, cfg platformpg.Config) (*sql.DB, error) {
	db, err := platformpg.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	schemaCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := postgres.EnsureSchema(schemaCtx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// PostgresStores builds every store on db. actor is recorded on audit events.
func PostgresStores(db *sql.DB, actor string) Stores {
	return Stores{
		Projects:    postgres.NewProjectStore(db),
		Experiments: postgres.NewExperimentStore(db),
		Datasets:    postgres.NewDatasetStore(db),
		Runs:        postgres.NewRunStore(db, actor),
		Jobs:        postgres.NewJobQueue(db),
	}
}

// MemoryStores keeps everything in process memory.
func MemoryStores() Stores {
	s := memory.New()
	return Stores{Projects: s, Experiments: s, Datasets: s, Runs: s, Jobs: s}
}

// Storage is the optional object storage. Store is nil when disabled.
type Storage struct {
	Config platformstore.Config
	Client *minio.Client
	Store  objectstore.Store
}

// OpenStorage connects to MinIO and creates the buckets when cfg.Enabled.
func OpenStorage(ctx context.Context, cfg platformstore.Config) (Storage, error) {
	if !cfg.Enabled {
		return Storage{Config: cfg}, nil
	}
	client, err := platformstore.NewMinIOClient(cfg)
	if err != nil {
		return Storage{}, err
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := platformstore.EnsureBuckets(startupCtx, client, cfg); err != nil {
		return Storage{}, err
	}
	store, err := objectstore.NewMinioStoreWithClient(client)
	if err != nil {
		return Storage{}, err
	}
	return Storage{Config: cfg, Client: client, Store: store}, nil
}

func (s Storage) Enabled() bool { return s.Store != nil }

// Check verifies the buckets for readiness checks.
func (s Storage) Check(ctx context.Context) error {
	if s.Client == nil {
		return errors.New("object storage disabled")
	}
	checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
	defer cancel()
	return platformstore.CheckBuckets(checkCtx, s.Client, s.Config)
}

// NewTrainer builds a trainer reading built-ins from settings and s3:// paths
// from storage. Artifacts go to the models bucket when storage is enabled and
// to the registry directory otherwise.
func NewTrainer(settings training.Settings, storage Storage, logger *slog.Logger) (*trainer.Trainer, error) {
	resolver := &dataset.Resolver{Catalog: dataset.Catalog{Dir: settings.BuiltinDataDir}}
	var registry artifacts.Registry = &artifacts.FileRegistry{Dir: settings.RegistryDir}
	if storage.Enabled() {
		resolver.Objects = storage.Store
		objects, err := artifacts.NewObjectRegistry(storage.Store, storage.Config.BucketModels)
		if err != nil {
			return nil, err
		}
		registry = objects
	}
	return trainer.New(resolver, registry, logger), nil
}
