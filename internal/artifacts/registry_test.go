package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/animus-labs/ailab/internal/storage/objectstore"
	"github.com/animus-labs/ailab/internal/training/dataset"
	"github.com/animus-labs/ailab/internal/training/model"
	"github.com/animus-labs/ailab/internal/training/pipeline"
)

func fittedPipeline(t *testing.T) (*pipeline.Pipeline, [][]float64) {
	t.Helper()
	iris, err := dataset.Catalog{}.Load("iris")
	if err != nil {
		t.Fatalf("Load()=%v", err)
	}
	labels := make([]string, len(iris.Y))
	for i, y := range iris.Y {
		labels[i] = strconv.Itoa(y)
	}
	p, err := pipeline.FitMatrix(iris.X, labels, true, &model.LogisticRegression{C: 1, MaxIter: 100, Solver: "lbfgs"})
	if err != nil {
		t.Fatalf("FitMatrix()=%v", err)
	}
	return p, iris.X
}

func assertSamePredictions(t *testing.T, a, b *pipeline.Pipeline, x [][]float64) {
	t.Helper()
	want, err := a.PredictMatrix(x)
	if err != nil {
		t.Fatalf("PredictMatrix()=%v", err)
	}
	got, err := b.PredictMatrix(x)
	if err != nil {
		t.Fatalf("loaded PredictMatrix()=%v", err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("prediction %d=%s, want %s", i, got[i], want[i])
		}
	}
}

func TestFileRegistrySaveLoad(t *testing.T) {
	ctx := context.Background()
	p, x := fittedPipeline(t)
	dir := filepath.Join(t.TempDir(), "registry")
	reg := &FileRegistry{Dir: dir}

	art, err := reg.Save(ctx, "run-1", p)
	if err != nil {
		t.Fatalf("Save()=%v", err)
	}
	if art.Path != filepath.Join(dir, "run-1.model.msgpack") {
		t.Fatalf("Path=%q", art.Path)
	}
	data, err := os.ReadFile(art.Path)
	if err != nil {
		t.Fatalf("ReadFile()=%v", err)
	}
	sum := sha256.Sum256(data)
	if art.SHA256 != hex.EncodeToString(sum[:]) || art.SizeBytes != int64(len(data)) {
		t.Fatalf("artifact=%+v does not describe the written file", art)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("registry dir has %d entries, want 1", len(entries))
	}

	loaded, err := reg.Load(ctx, art.Path)
	if err != nil {
		t.Fatalf("Load()=%v", err)
	}
	assertSamePredictions(t, p, loaded, x)
}

func TestFileRegistryRejectsBadRunID(t *testing.T) {
	p, _ := fittedPipeline(t)
	reg := &FileRegistry{Dir: t.TempDir()}
	for _, id := range []string{"", "  ", "../escape", "a/b", ".."} {
		if _, err := reg.Save(context.Background(), id, p); err == nil {
			t.Fatalf("Save(%q) succeeded", id)
		}
	}
}

func TestObjectRegistrySaveLoad(t *testing.T) {
	ctx := context.Background()
	p, x := fittedPipeline(t)
	store := objectstore.NewMemoryStore()
	reg, err := NewObjectRegistry(store, "models")
	if err != nil {
		t.Fatalf("NewObjectRegistry()=%v", err)
	}
	art, err := reg.Save(ctx, "run-2", p)
	if err != nil {
		t.Fatalf("Save()=%v", err)
	}
	if art.Path != "s3://models/runs/run-2.model.msgpack" {
		t.Fatalf("Path=%q", art.Path)
	}
	info, err := store.Stat(ctx, "models", "runs/run-2.model.msgpack")
	if err != nil {
		t.Fatalf("Stat()=%v", err)
	}
	if info.Size != art.SizeBytes {
		t.Fatalf("stored size=%d, want %d", info.Size, art.SizeBytes)
	}
	loaded, err := reg.Load(ctx, art.Path)
	if err != nil {
		t.Fatalf("Load()=%v", err)
	}
	assertSamePredictions(t, p, loaded, x)
}

func TestNewObjectRegistryValidates(t *testing.T) {
	if _, err := NewObjectRegistry(nil, "models"); err == nil {
		t.Fatalf("NewObjectRegistry(nil) succeeded")
	}
	if _, err := NewObjectRegistry(objectstore.NewMemoryStore(), " "); err == nil {
		t.Fatalf("NewObjectRegistry(blank bucket) succeeded")
	}
}
