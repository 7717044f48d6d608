// Package trainer runs one training configuration end to end: resolve the
// dataset, split, fit, score and optionally persist the fitted pipeline.
package trainer

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/animus-labs/ailab/internal/artifacts"
	"github.com/animus-labs/ailab/internal/domain"
	"github.com/animus-labs/ailab/internal/platform/logging"
	"github.com/animus-labs/ailab/internal/training"
	"github.com/animus-labs/ailab/internal/training/dataset"
	"github.com/animus-labs/ailab/internal/training/evaluate"
	"github.com/animus-labs/ailab/internal/training/model"
	"github.com/animus-labs/ailab/internal/training/pipeline"
	"github.com/animus-labs/ailab/internal/training/preprocess"
)

// Trainer is safe for concurrent use when its Resolver and Registry are.
// Registry may be nil, in which case save_model is ignored.
type Trainer struct {
	Resolver *dataset.Resolver
	Registry artifacts.Registry
	Logger   *slog.Logger
}

func New(resolver *dataset.Resolver, registry artifacts.Registry, logger *slog.Logger) *Trainer {
	return &Trainer{Resolver: resolver, Registry: registry, Logger: logging.OrDiscard(logger)}
}

// Result is the outcome of a successful training.
type Result struct {
	Dataset      string
	NSamples     int
	NFeaturesRaw int
	TestSize     float64
	Model        training.ModelConfig
	Preprocess   training.PreprocessConfig
	Report       evaluate.Report
	// FeatureNames is only known for built-in datasets.
	FeatureNames []string
	Artifact     *artifacts.Artifact
	Pipeline     *pipeline.Pipeline
}

// Run normalizes params and trains. Configuration errors are reported before
// any data is read.
func (t *Trainer) Run(ctx context.Context, params domain.Value, runID string) (Result, error) {
	cfg, err := training.Normalize(params)
	if err != nil {
		return Result{}, err
	}
	return t.Train(ctx, cfg, runID)
}

// Train executes a normalized configuration. A non-empty runID together with
// artifacts.save_model persists the fitted pipeline.
func (t *Trainer) Train(ctx context.Context, cfg training.Config, runID string) (Result, error) {
	logger := logging.OrDiscard(t.Logger)
	started := time.Now()

	clf, err := model.New(cfg.Model)
	if err != nil {
		return Result{}, err
	}
	resolved, err := t.Resolver.Resolve(ctx, cfg.Dataset)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	res := Result{
		Dataset:    resolved.Descriptor,
		TestSize:   cfg.Split.TestSize,
		Model:      cfg.Model,
		Preprocess: cfg.Preprocess,
	}
	var (
		labels    []string
		fit       func(train []int) (*pipeline.Pipeline, error)
		predictOn func(p *pipeline.Pipeline, test []int) ([]string, error)
	)
	if resolved.IsFile() {
		table := *resolved.Table
		if err := dataset.ValidateTabular(table, resolved.TargetCol); err != nil {
			return Result{}, err
		}
		labels = normalizeLabels(table.Column(table.ColumnIndex(resolved.TargetCol)))
		features := table.Drop(resolved.TargetCol)
		plan := preprocess.NewPlan(features, cfg.Preprocess)
		res.NSamples, res.NFeaturesRaw = len(features.Rows), len(features.Columns)
		fit = func(train []int) (*pipeline.Pipeline, error) {
			return pipeline.FitRows(plan, pickRows(features.Rows, train), pick(labels, train), clf)
		}
		predictOn = func(p *pipeline.Pipeline, test []int) ([]string, error) {
			return p.PredictRows(pickRows(features.Rows, test))
		}
	} else {
		b := resolved.Builtin
		labels = make([]string, len(b.Y))
		for i, y := range b.Y {
			labels[i] = strconv.Itoa(y)
		}
		scale := training.ScaleBuiltin(cfg.Model.Family, cfg.Preprocess)
		res.NSamples, res.NFeaturesRaw = len(b.X), len(b.FeatureNames)
		res.FeatureNames = b.FeatureNames
		fit = func(train []int) (*pipeline.Pipeline, error) {
			return pipeline.FitMatrix(pickRows(b.X, train), pick(labels, train), scale, clf)
		}
		predictOn = func(p *pipeline.Pipeline, test []int) ([]string, error) {
			return p.PredictMatrix(pickRows(b.X, test))
		}
	}

	split, err := evaluate.TrainTestSplit(labels, cfg.Split.TestSize, cfg.Split.RandomState, cfg.Split.Stratify)
	if err != nil {
		return Result{}, err
	}
	p, err := fit(split.Train)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	pred, err := predictOn(p, split.Test)
	if err != nil {
		return Result{}, training.Wrap(training.KindTraining, err, "predict")
	}
	if res.Report, err = evaluate.Score(pick(labels, split.Test), pred); err != nil {
		return Result{}, training.Wrap(training.KindTraining, err, "score")
	}
	res.Pipeline = p

	if cfg.Artifacts.SaveModel && runID != "" && t.Registry != nil {
		art, err := t.Registry.Save(ctx, runID, p)
		if err != nil {
			return Result{}, training.Wrap(training.KindTraining, err, "save model")
		}
		res.Artifact = &art
	}

	logger.Info("training finished",
		"run_id", runID,
		"dataset", res.Dataset,
		"model", cfg.Model.Name,
		"n_samples", res.NSamples,
		"accuracy", res.Report.Accuracy,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return res, nil
}

// normalizeLabels makes numeric labels compare by value, so "1" and "1.0"
// are one class.
func normalizeLabels(raw []string) []string {
	out := make([]string, len(raw))
	for i, cell := range raw {
		f, ok := dataset.ParseNumber(cell)
		if !ok {
			copy(out, raw)
			return out
		}
		out[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return out
}

func pick(values []string, idx []int) []string {
	out := make([]string, len(idx))
	for i, k := range idx {
		out[i] = values[k]
	}
	return out
}

func pickRows[T any](rows [][]T, idx []int) [][]T {
	out := make([][]T, len(idx))
	for i, k := range idx {
		out[i] = rows[k]
	}
	return out
}

// Value renders the result as the run metrics payload.
func (r Result) Value() domain.Value {
	confusion := make([]domain.Value, len(r.Report.Confusion))
	for i, row := range r.Report.Confusion {
		cells := make([]domain.Value, len(row))
		for j, v := range row {
			cells[j] = domain.Int(v)
		}
		confusion[i] = domain.Array(cells...)
	}
	featureNames := domain.Null()
	if r.FeatureNames != nil {
		names := make([]domain.Value, len(r.FeatureNames))
		for i, n := range r.FeatureNames {
			names[i] = domain.String(n)
		}
		featureNames = domain.Array(names...)
	}
	fields := map[string]domain.Value{
		"dataset":          domain.String(r.Dataset),
		"n_samples":        domain.Int(r.NSamples),
		"n_features_raw":   domain.Int(r.NFeaturesRaw),
		"test_size":        domain.Number(r.TestSize),
		"model":            r.Model.Value(),
		"preprocess":       r.Preprocess.Value(),
		"accuracy":         domain.Number(r.Report.Accuracy),
		"f1_macro":         domain.Number(r.Report.F1Macro),
		"precision_macro":  domain.Number(r.Report.PrecisionMacro),
		"recall_macro":     domain.Number(r.Report.RecallMacro),
		"confusion_matrix": domain.Array(confusion...),
		"feature_names":    featureNames,
	}
	if r.Artifact != nil {
		fields["artifacts"] = domain.Object(map[string]domain.Value{
			"model_path": domain.String(r.Artifact.Path),
			"sha256":     domain.String(r.Artifact.SHA256),
			"size_bytes": domain.Int(int(r.Artifact.SizeBytes)),
		})
	}
	return domain.Object(fields)
}
