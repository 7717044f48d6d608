package dataset

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"

	"github.com/animus-labs/ailab/internal/storage/objectstore"
	"github.com/animus-labs/ailab/internal/training"
)

// Resolved is the materialized form of a dataset configuration. Exactly one
// of Builtin and Table is set; file-based tables still need per-column type
// inference and validation.
type Resolved struct {
	Descriptor string
	Builtin    *Builtin
	Table      *Table
	TargetCol  string
}

func (r Resolved) IsFile() bool { return r.Table != nil }

// Resolver turns a dataset configuration into data. Objects may be nil when
// object storage is disabled; s3:// paths then fail as not found.
type Resolver struct {
	Catalog Catalog
	Objects objectstore.Store
}

func (r *Resolver) Resolve(ctx context.Context, cfg training.DatasetConfig) (Resolved, error) {
	if cfg.Source == training.DatasetBuiltin {
		b, err := r.Catalog.Load(cfg.Name)
		if err != nil {
			return Resolved{}, err
		}
		return Resolved{Descriptor: cfg.Descriptor(), Builtin: &b}, nil
	}

	rc, err := r.open(ctx, cfg.CSVPath)
	if err != nil {
		return Resolved{}, err
	}
	defer rc.Close()
	table, err := ReadCSV(rc)
	if err != nil {
		return Resolved{}, training.Wrap(training.KindData, err, "read csv "+cfg.CSVPath)
	}
	return Resolved{Descriptor: cfg.Descriptor(), Table: &table, TargetCol: cfg.TargetCol}, nil
}

func (r *Resolver) open(ctx context.Context, path string) (io.ReadCloser, error) {
	if objectstore.IsURI(path) {
		bucket, key, err := objectstore.ParseURI(path)
		if err != nil {
			return nil, training.Wrap(training.KindData, err, "")
		}
		if r.Objects == nil {
			return nil, training.Dataf("csv_path not found: %s (object storage is disabled)", path)
		}
		rc, _, err := r.Objects.Get(ctx, bucket, key)
		if errors.Is(err, objectstore.ErrObjectNotFound) {
			return nil, training.Dataf("csv_path not found: %s", path)
		}
		if err != nil {
			return nil, training.Wrap(training.KindData, err, "open "+path)
		}
		return rc, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, training.Dataf("csv_path not found: %s", path)
	}
	if err != nil {
		return nil, training.Wrap(training.KindData, err, "open "+path)
	}
	return f, nil
}
