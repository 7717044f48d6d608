// Package model builds classifiers from a model configuration.
package model

import (
	"github.com/animus-labs/ailab/internal/training"
)

// Classifier is fit on a dense matrix with labels 0..classes-1.
type Classifier interface {
	Fit(x [][]float64, y []int, classes int) error
	Predict(x [][]float64) ([]int, error)
}

// New returns an unfitted classifier for cfg.
func New(cfg training.ModelConfig) (Classifier, error) {
	switch cfg.Family {
	case training.ModelLogReg:
		return &LogisticRegression{C: cfg.C, MaxIter: cfg.MaxIter, Solver: cfg.Solver}, nil
	case training.ModelRandomForest:
		return &RandomForest{NEstimators: cfg.NEstimators, RandomState: cfg.RandomState, MaxDepth: cfg.MaxDepth}, nil
	default:
		return nil, training.Configurationf("unknown model name: %s", cfg.Name)
	}
}

func checkShape(x [][]float64, y []int, classes int) error {
	if len(x) == 0 {
		return training.Trainingf("cannot fit on 0 samples")
	}
	if len(x) != len(y) {
		return training.Trainingf("found %d samples but %d labels", len(x), len(y))
	}
	if len(x[0]) == 0 {
		return training.Trainingf("Found array with 0 feature(s) (shape=(%d, 0)) while a minimum of 1 is required.", len(x))
	}
	if classes < 2 {
		return training.Trainingf("This solver needs samples of at least 2 classes in the data, but the data contains only one class")
	}
	for i, label := range y {
		if label < 0 || label >= classes {
			return training.Trainingf("label %d at sample %d is outside 0..%d", label, i, classes-1)
		}
	}
	return nil
}

func argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}
