// Package artifacts persists fitted training pipelines, one per run.
package artifacts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/animus-labs/ailab/internal/storage/objectstore"
	"github.com/animus-labs/ailab/internal/training/pipeline"
)

const (
	fileSuffix  = ".model.msgpack"
	contentType = "application/msgpack"
)

// Artifact locates a saved pipeline.
type Artifact struct {
	Path      string
	SHA256    string
	SizeBytes int64
}

// Registry stores pipelines addressed by run id.
type Registry interface {
	Save(ctx context.Context, runID string, p *pipeline.Pipeline) (Artifact, error)
	Load(ctx context.Context, path string) (*pipeline.Pipeline, error)
}

func encode(runID string, p *pipeline.Pipeline) ([]byte, Artifact, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, Artifact{}, errors.New("run id is required")
	}
	if strings.ContainsAny(runID, `/\`) || runID == "." || runID == ".." {
		return nil, Artifact{}, fmt.Errorf("invalid run id %q", runID)
	}
	body, err := pipeline.Marshal(p)
	if err != nil {
		return nil, Artifact{}, err
	}
	sum := sha256.Sum256(body)
	return body, Artifact{SHA256: hex.EncodeToString(sum[:]), SizeBytes: int64(len(body))}, nil
}

// FileRegistry writes <Dir>/<run_id>.model.msgpack.
type FileRegistry struct {
	Dir string
}

func (r *FileRegistry) Save(_ context.Context, runID string, p *pipeline.Pipeline) (Artifact, error) {
	if r == nil || strings.TrimSpace(r.Dir) == "" {
		return Artifact{}, errors.New("artifact registry not initialized")
	}
	body, artifact, err := encode(runID, p)
	if err != nil {
		return Artifact{}, err
	}
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return Artifact{}, fmt.Errorf("create registry dir: %w", err)
	}
	path := filepath.Join(r.Dir, strings.TrimSpace(runID)+fileSuffix)
	tmp, err := os.CreateTemp(r.Dir, ".artifact-*")
	if err != nil {
		return Artifact{}, fmt.Errorf("create artifact: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return Artifact{}, fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Artifact{}, fmt.Errorf("write artifact: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return Artifact{}, fmt.Errorf("publish artifact: %w", err)
	}
	artifact.Path = path
	return artifact, nil
}

func (r *FileRegistry) Load(_ context.Context, path string) (*pipeline.Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return pipeline.Unmarshal(data)
}

// ObjectRegistry writes runs/<run_id>.model.msgpack into a bucket and
// reports the artifact as an s3:// URI.
type ObjectRegistry struct {
	store  objectstore.Store
	bucket string
}

func NewObjectRegistry(store objectstore.Store, bucket string) (*ObjectRegistry, error) {
	if store == nil {
		return nil, errors.New("object store is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	return &ObjectRegistry{store: store, bucket: bucket}, nil
}

func (r *ObjectRegistry) Save(ctx context.Context, runID string, p *pipeline.Pipeline) (Artifact, error) {
	if r == nil || r.store == nil {
		return Artifact{}, errors.New("artifact registry not initialized")
	}
	body, artifact, err := encode(runID, p)
	if err != nil {
		return Artifact{}, err
	}
	key := "runs/" + strings.TrimSpace(runID) + fileSuffix
	if err := r.store.Put(ctx, r.bucket, key, bytes.NewReader(body), artifact.SizeBytes, contentType); err != nil {
		return Artifact{}, fmt.Errorf("upload artifact: %w", err)
	}
	artifact.Path = objectstore.URI(r.bucket, key)
	return artifact, nil
}

func (r *ObjectRegistry) Load(ctx context.Context, path string) (*pipeline.Pipeline, error) {
	if r == nil || r.store == nil {
		return nil, errors.New("artifact registry not initialized")
	}
	bucket, key, err := objectstore.ParseURI(path)
	if err != nil {
		return nil, err
	}
	rc, _, err := r.store.Get(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	defer rc.Close()
	return pipeline.Decode(rc)
}
