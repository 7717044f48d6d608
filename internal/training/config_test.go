package training

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/animus-labs/ailab/internal/domain"
)

func mustParse(t *testing.T, raw string) domain.Value {
	t.Helper()
	v, err := domain.ParseJSON([]byte(raw))
	if err != nil {
		t.Fatalf("ParseJSON()=%v", err)
	}
	return v
}

func TestNormalizeDefaults(t *testing.T) {
	cfg, err := Normalize(domain.Null())
	if err != nil {
		t.Fatalf("Normalize()=%v", err)
	}
	if cfg.Dataset.Source != DatasetBuiltin || cfg.Dataset.Name != "iris" {
		t.Fatalf("Dataset=%+v", cfg.Dataset)
	}
	if cfg.Model.Family != ModelLogReg || cfg.Model.C != 1 || cfg.Model.MaxIter != 500 || cfg.Model.Solver != "lbfgs" {
		t.Fatalf("Model=%+v", cfg.Model)
	}
	if cfg.Split.TestSize != 0.2 || cfg.Split.RandomState != 42 || !cfg.Split.Stratify {
		t.Fatalf("Split=%+v", cfg.Split)
	}
	if !cfg.Preprocess.OneHot || !cfg.Preprocess.ScaleNumeric || cfg.Artifacts.SaveModel {
		t.Fatalf("Preprocess=%+v Artifacts=%+v", cfg.Preprocess, cfg.Artifacts)
	}
	if got := cfg.Dataset.Descriptor(); got != "builtin:iris" {
		t.Fatalf("Descriptor()=%q", got)
	}
}

func TestNormalizeFileDataset(t *testing.T) {
	cfg, err := Normalize(mustParse(t, `{"dataset":{"csv_path":"/data/x.csv","name":"iris"}}`))
	if err != nil {
		t.Fatalf("Normalize()=%v", err)
	}
	if cfg.Dataset.Source != DatasetFile || cfg.Dataset.TargetCol != "target" {
		t.Fatalf("Dataset=%+v", cfg.Dataset)
	}
	if got := cfg.Dataset.Descriptor(); got != "csv:/data/x.csv" {
		t.Fatalf("Descriptor()=%q", got)
	}
}

func TestNormalizeAliases(t *testing.T) {
	cfg, err := Normalize(mustParse(t, `{"dataset":{"name":" Cancer "},"model":{"name":"Random_Forest","max_depth":5,"random_state":null}}`))
	if err != nil {
		t.Fatalf("Normalize()=%v", err)
	}
	if cfg.Dataset.Name != "breast_cancer" {
		t.Fatalf("Dataset.Name=%q", cfg.Dataset.Name)
	}
	if cfg.Model.Family != ModelRandomForest || cfg.Model.NEstimators != 200 {
		t.Fatalf("Model=%+v", cfg.Model)
	}
	if cfg.Model.RandomState != nil || cfg.Model.MaxDepth == nil || *cfg.Model.MaxDepth != 5 {
		t.Fatalf("Model=%+v", cfg.Model)
	}
}

func TestNormalizeRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "unknown model", raw: `{"model":{"name":"xgboost"}}`, want: "unknown model name: xgboost"},
		{name: "unknown model beats unknown dataset", raw: `{"dataset":{"name":"mnist"},"model":{"name":"xgboost"}}`, want: "unknown model name: xgboost"},
		{name: "unknown dataset", raw: `{"dataset":{"name":"MNIST"}}`, want: "unknown builtin dataset: mnist"},
		{name: "bad test size", raw: `{"split":{"test_size":1.5}}`, want: "split.test_size must be between 0 and 1, got 1.5"},
		{name: "fractional max_iter", raw: `{"model":{"max_iter":2.5}}`, want: "model.max_iter must be an integer, got 2.5"},
		{name: "string bool", raw: `{"split":{"stratify":"yes"}}`, want: "split.stratify must be a boolean, got string"},
		{name: "unknown solver", raw: `{"model":{"solver":"adam"}}`, want: "unknown solver: adam (supported: lbfgs, bfgs, cg, gd, newton-cg, newton-cholesky, liblinear, sag, saga)"},
		{name: "not an object", raw: `[1,2]`, want: "training configuration must be an object, got array"},
		{name: "empty csv path", raw: `{"dataset":{"csv_path":""}}`, want: "dataset.csv_path must not be empty"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize(mustParse(t, tc.raw))
			if err == nil {
				t.Fatalf("expected error")
			}
			if !IsConfiguration(err) {
				t.Fatalf("error kind: %v", err)
			}
			if err.Error() != tc.want {
				t.Fatalf("Normalize() error=%q, want %q", err.Error(), tc.want)
			}
		})
	}
}

func TestScaleBuiltinOverride(t *testing.T) {
	off := PreprocessConfig{ScaleNumeric: false}
	if !ScaleBuiltin(ModelLogReg, off) {
		t.Fatalf("logreg on built-ins must always be scaled")
	}
	if ScaleBuiltin(ModelRandomForest, off) {
		t.Fatalf("random forest follows scale_numeric")
	}
	if !ScaleBuiltin(ModelRandomForest, PreprocessConfig{ScaleNumeric: true}) {
		t.Fatalf("random forest follows scale_numeric")
	}
}

func TestModelConfigValueEchoesResolvedParameters(t *testing.T) {
	cfg, err := Normalize(mustParse(t, `{"model":{"name":"logistic","C":0.5}}`))
	if err != nil {
		t.Fatalf("Normalize()=%v", err)
	}
	want := `{"C":0.5,"max_iter":500,"name":"logistic","solver":"lbfgs"}`
	if got := cfg.Model.Value().String(); got != want {
		t.Fatalf("Value()=%s, want %s", got, want)
	}
}

func TestLoadConfigFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.yaml")
	doc := "dataset:\n  name: wine\nmodel:\n  name: rf\n  n_estimators: 10\nsplit:\n  test_size: 0.3\n"
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile()=%v", err)
	}
	v, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile()=%v", err)
	}
	cfg, err := Normalize(v)
	if err != nil {
		t.Fatalf("Normalize()=%v", err)
	}
	if cfg.Dataset.Name != "wine" || cfg.Model.NEstimators != 10 || cfg.Split.TestSize != 0.3 {
		t.Fatalf("cfg=%+v", cfg)
	}
}

func TestSettingsFromEnv(t *testing.T) {
	t.Setenv("AILAB_REGISTRY_DIR", "/srv/registry")
	cfg, err := SettingsFromEnv()
	if err != nil {
		t.Fatalf("SettingsFromEnv()=%v", err)
	}
	if cfg.RegistryDir != "/srv/registry" || cfg.BuiltinDataDir != "./var/builtin" {
		t.Fatalf("Settings=%+v", cfg)
	}
	t.Setenv("AILAB_UPLOAD_DIR", " ")
	if _, err := SettingsFromEnv(); err == nil {
		t.Fatalf("expected blank upload dir to be rejected")
	}
}

func TestErrorKinds(t *testing.T) {
	err := Wrap(KindTraining, Dataf("csv_path not found: x"), "")
	if !IsData(err) {
		t.Fatalf("Wrap must keep an existing kind: %v", err)
	}
	if k, ok := KindOf(Trainingf("boom")); !ok || k != KindTraining {
		t.Fatalf("KindOf()=%q,%v", k, ok)
	}
}
