package training

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/animus-labs/ailab/internal/domain"
)

type DatasetSource int

const (
	DatasetBuiltin DatasetSource = iota
	DatasetFile
)

const (
	DefaultBuiltin   = "iris"
	DefaultTargetCol = "target"
)

// builtinAliases maps accepted built-in names onto catalog names.
var builtinAliases = map[string]string{
	"iris":          "iris",
	"wine":          "wine",
	"breast_cancer": "breast_cancer",
	"cancer":        "breast_cancer",
	"digits":        "digits",
}

// CanonicalBuiltin resolves a case-insensitive built-in dataset name.
func CanonicalBuiltin(name string) (string, bool) {
	canonical, ok := builtinAliases[strings.ToLower(strings.TrimSpace(name))]
	return canonical, ok
}

type DatasetConfig struct {
	Source    DatasetSource
	Name      string
	CSVPath   string
	TargetCol string
}

// Descriptor is the dataset string echoed in training results.
func (d DatasetConfig) Descriptor() string {
	if d.Source == DatasetFile {
		return "csv:" + d.CSVPath
	}
	return "builtin:" + d.Name
}

type ModelFamily string

const (
	ModelLogReg       ModelFamily = "logreg"
	ModelRandomForest ModelFamily = "rf"
)

var modelAliases = map[string]ModelFamily{
	"logreg":              ModelLogReg,
	"logistic":            ModelLogReg,
	"logistic_regression": ModelLogReg,
	"rf":                  ModelRandomForest,
	"random_forest":       ModelRandomForest,
	"randomforest":        ModelRandomForest,
}

// Solvers lists the accepted logistic regression solver names.
var Solvers = []string{"lbfgs", "bfgs", "cg", "gd", "newton-cg", "newton-cholesky", "liblinear", "sag", "saga"}

// BuiltinScaling says how standardization is chosen for built-in datasets.
type BuiltinScaling int

const (
	ScaleFromConfig BuiltinScaling = iota
	ScaleAlways
)

// builtinScalingOverrides is the per-model preprocessing override for
// built-in datasets. Logistic regression is always standardized there,
// whatever preprocess.scale_numeric says; results produced before scaling
// became configurable depend on it.
var builtinScalingOverrides = map[ModelFamily]BuiltinScaling{
	ModelLogReg: ScaleAlways,
}

// ScaleBuiltin reports whether built-in features are standardized for model.
func ScaleBuiltin(family ModelFamily, pre PreprocessConfig) bool {
	if builtinScalingOverrides[family] == ScaleAlways {
		return true
	}
	return pre.ScaleNumeric
}

type ModelConfig struct {
	Family ModelFamily
	Name   string

	C       float64
	MaxIter int
	Solver  string

	NEstimators int
	RandomState *int
	MaxDepth    *int
}

func (m ModelConfig) Value() domain.Value {
	fields := map[string]domain.Value{"name": domain.String(m.Name)}
	switch m.Family {
	case ModelLogReg:
		fields["C"] = domain.Number(m.C)
		fields["max_iter"] = domain.Int(m.MaxIter)
		fields["solver"] = domain.String(m.Solver)
	case ModelRandomForest:
		fields["n_estimators"] = domain.Int(m.NEstimators)
		fields["random_state"] = optionalInt(m.RandomState)
		fields["max_depth"] = optionalInt(m.MaxDepth)
	}
	return domain.Object(fields)
}

type SplitConfig struct {
	TestSize    float64
	RandomState int
	Stratify    bool
}

type PreprocessConfig struct {
	OneHot       bool
	ScaleNumeric bool
}

func (p PreprocessConfig) Value() domain.Value {
	return domain.Object(map[string]domain.Value{
		"onehot":        domain.Bool(p.OneHot),
		"scale_numeric": domain.Bool(p.ScaleNumeric),
	})
}

type ArtifactsConfig struct {
	SaveModel bool
}

// Config is a fully resolved training configuration. Build it with Normalize.
type Config struct {
	Dataset    DatasetConfig
	Model      ModelConfig
	Split      SplitConfig
	Preprocess PreprocessConfig
	Artifacts  ArtifactsConfig
}

// Normalize applies every default once and validates the configuration. It
// never touches data, so unknown dataset or model names fail here.
func Normalize(params domain.Value) (Config, error) {
	if !params.IsNull() && params.Kind() != domain.KindObject {
		return Config{}, Configurationf("training configuration must be an object, got %s", params.Kind())
	}
	var (
		cfg Config
		err error
	)
	if cfg.Model, err = normalizeModel(section(params, "model")); err != nil {
		return Config{}, err
	}
	if cfg.Dataset, err = normalizeDataset(section(params, "dataset")); err != nil {
		return Config{}, err
	}
	if cfg.Split, err = normalizeSplit(section(params, "split")); err != nil {
		return Config{}, err
	}
	if cfg.Preprocess, err = normalizePreprocess(section(params, "preprocess")); err != nil {
		return Config{}, err
	}
	if cfg.Artifacts, err = normalizeArtifacts(section(params, "artifacts")); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func section(params domain.Value, key string) domain.Value {
	v, _ := params.Get(key)
	return v
}

func normalizeDataset(v domain.Value) (DatasetConfig, error) {
	if err := requireObject(v, "dataset"); err != nil {
		return DatasetConfig{}, err
	}
	if _, ok := v.Get("csv_path"); ok {
		path, err := stringField(v, "dataset", "csv_path", "")
		if err != nil {
			return DatasetConfig{}, err
		}
		if strings.TrimSpace(path) == "" {
			return DatasetConfig{}, Configurationf("dataset.csv_path must not be empty")
		}
		target, err := stringField(v, "dataset", "target_col", "")
		if err != nil {
			return DatasetConfig{}, err
		}
		if strings.TrimSpace(target) == "" {
			target = DefaultTargetCol
		}
		return DatasetConfig{Source: DatasetFile, CSVPath: strings.TrimSpace(path), TargetCol: target}, nil
	}
	name, err := stringField(v, "dataset", "name", DefaultBuiltin)
	if err != nil {
		return DatasetConfig{}, err
	}
	canonical, ok := CanonicalBuiltin(name)
	if !ok {
		return DatasetConfig{}, Configurationf("unknown builtin dataset: %s", strings.ToLower(strings.TrimSpace(name)))
	}
	return DatasetConfig{Source: DatasetBuiltin, Name: canonical}, nil
}

func normalizeModel(v domain.Value) (ModelConfig, error) {
	if err := requireObject(v, "model"); err != nil {
		return ModelConfig{}, err
	}
	name, err := stringField(v, "model", "name", string(ModelLogReg))
	if err != nil {
		return ModelConfig{}, err
	}
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = string(ModelLogReg)
	}
	family, ok := modelAliases[name]
	if !ok {
		return ModelConfig{}, Configurationf("unknown model name: %s", name)
	}
	m := ModelConfig{Family: family, Name: name}
	switch family {
	case ModelLogReg:
		if m.C, err = numberField(v, "model", "C", 1.0); err != nil {
			return ModelConfig{}, err
		}
		if m.C <= 0 {
			return ModelConfig{}, Configurationf("model.C must be positive, got %v", m.C)
		}
		if m.MaxIter, err = intField(v, "model", "max_iter", 500); err != nil {
			return ModelConfig{}, err
		}
		if m.MaxIter <= 0 {
			return ModelConfig{}, Configurationf("model.max_iter must be positive, got %d", m.MaxIter)
		}
		if m.Solver, err = stringField(v, "model", "solver", "lbfgs"); err != nil {
			return ModelConfig{}, err
		}
		m.Solver = strings.ToLower(strings.TrimSpace(m.Solver))
		if !contains(Solvers, m.Solver) {
			return ModelConfig{}, Configurationf("unknown solver: %s (supported: %s)", m.Solver, strings.Join(Solvers, ", "))
		}
	case ModelRandomForest:
		if m.NEstimators, err = intField(v, "model", "n_estimators", 200); err != nil {
			return ModelConfig{}, err
		}
		if m.NEstimators <= 0 {
			return ModelConfig{}, Configurationf("model.n_estimators must be positive, got %d", m.NEstimators)
		}
		seed := 42
		if m.RandomState, err = optionalIntField(v, "model", "random_state", &seed); err != nil {
			return ModelConfig{}, err
		}
		if m.MaxDepth, err = optionalIntField(v, "model", "max_depth", nil); err != nil {
			return ModelConfig{}, err
		}
		if m.MaxDepth != nil && *m.MaxDepth <= 0 {
			return ModelConfig{}, Configurationf("model.max_depth must be positive, got %d", *m.MaxDepth)
		}
	}
	return m, nil
}

func normalizeSplit(v domain.Value) (SplitConfig, error) {
	if err := requireObject(v, "split"); err != nil {
		return SplitConfig{}, err
	}
	var (
		s   SplitConfig
		err error
	)
	if s.TestSize, err = numberField(v, "split", "test_size", 0.2); err != nil {
		return SplitConfig{}, err
	}
	if s.TestSize <= 0 || s.TestSize >= 1 {
		return SplitConfig{}, Configurationf("split.test_size must be between 0 and 1, got %v", s.TestSize)
	}
	if s.RandomState, err = intField(v, "split", "random_state", 42); err != nil {
		return SplitConfig{}, err
	}
	if s.Stratify, err = boolField(v, "split", "stratify", true); err != nil {
		return SplitConfig{}, err
	}
	return s, nil
}

func normalizePreprocess(v domain.Value) (PreprocessConfig, error) {
	if err := requireObject(v, "preprocess"); err != nil {
		return PreprocessConfig{}, err
	}
	var (
		p   PreprocessConfig
		err error
	)
	if p.OneHot, err = boolField(v, "preprocess", "onehot", true); err != nil {
		return PreprocessConfig{}, err
	}
	if p.ScaleNumeric, err = boolField(v, "preprocess", "scale_numeric", true); err != nil {
		return PreprocessConfig{}, err
	}
	return p, nil
}

func normalizeArtifacts(v domain.Value) (ArtifactsConfig, error) {
	if err := requireObject(v, "artifacts"); err != nil {
		return ArtifactsConfig{}, err
	}
	save, err := boolField(v, "artifacts", "save_model", false)
	if err != nil {
		return ArtifactsConfig{}, err
	}
	return ArtifactsConfig{SaveModel: save}, nil
}

func requireObject(v domain.Value, name string) error {
	if v.IsNull() || v.Kind() == domain.KindObject {
		return nil
	}
	return Configurationf("%s must be an object, got %s", name, v.Kind())
}

// field returns the named field, treating an explicit null as absent.
func field(v domain.Value, key string) (domain.Value, bool) {
	f, ok := v.Get(key)
	if !ok || f.IsNull() {
		return domain.Value{}, false
	}
	return f, true
}

func stringField(v domain.Value, sec, key, def string) (string, error) {
	f, ok := field(v, key)
	if !ok {
		return def, nil
	}
	s, ok := f.AsString()
	if !ok {
		return "", Configurationf("%s.%s must be a string, got %s", sec, key, f.Kind())
	}
	return s, nil
}

func numberField(v domain.Value, sec, key string, def float64) (float64, error) {
	f, ok := field(v, key)
	if !ok {
		return def, nil
	}
	n, ok := f.AsNumber()
	if !ok {
		return 0, Configurationf("%s.%s must be a number, got %s", sec, key, f.Kind())
	}
	return n, nil
}

func intField(v domain.Value, sec, key string, def int) (int, error) {
	f, ok := field(v, key)
	if !ok {
		return def, nil
	}
	n, ok := f.AsNumber()
	if !ok || n != math.Trunc(n) || math.Abs(n) > math.MaxInt32 {
		return 0, Configurationf("%s.%s must be an integer, got %s", sec, key, f)
	}
	return int(n), nil
}

func optionalIntField(v domain.Value, sec, key string, def *int) (*int, error) {
	f, present := v.Get(key)
	if !present {
		return def, nil
	}
	if f.IsNull() {
		return nil, nil
	}
	n, err := intField(v, sec, key, 0)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func boolField(v domain.Value, sec, key string, def bool) (bool, error) {
	f, ok := field(v, key)
	if !ok {
		return def, nil
	}
	b, ok := f.AsBool()
	if !ok {
		return false, Configurationf("%s.%s must be a boolean, got %s", sec, key, f.Kind())
	}
	return b, nil
}

func optionalInt(v *int) domain.Value {
	if v == nil {
		return domain.Null()
	}
	return domain.Int(*v)
}

func contains(items []string, item string) bool {
	for _, it := range items {
		if it == item {
			return true
		}
	}
	return false
}

// BuiltinNames returns the catalog names in sorted order.
func BuiltinNames() []string {
	seen := make(map[string]struct{})
	for _, canonical := range builtinAliases {
		seen[canonical] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c Config) String() string {
	return fmt.Sprintf("dataset=%s model=%s", c.Dataset.Descriptor(), c.Model.Name)
}
