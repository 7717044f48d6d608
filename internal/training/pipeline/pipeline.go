// Package pipeline composes preprocessing and a classifier into one fitted
// unit that can be persisted and reused for prediction.
package pipeline

import (
	"fmt"

	"github.com/animus-labs/ailab/internal/training"
	"github.com/animus-labs/ailab/internal/training/evaluate"
	"github.com/animus-labs/ailab/internal/training/model"
	"github.com/animus-labs/ailab/internal/training/preprocess"
)

// Pipeline is a fitted preprocessing + model chain. Columns is set for raw
// tabular input and Scaler (optionally) for numeric matrices. Classes maps
// model outputs back to labels.
type Pipeline struct {
	Columns *preprocess.ColumnTransformer
	Scaler  *preprocess.Scaler
	Model   model.Classifier
	Classes []string
}

// FitRows fits plan on raw rows, then the model on the transformed matrix.
func FitRows(plan preprocess.Plan, rows [][]string, labels []string, m model.Classifier) (*Pipeline, error) {
	ct, err := plan.Fit(rows)
	if err != nil {
		return nil, training.Wrap(training.KindTraining, err, "fit preprocessing")
	}
	if ct.OutputWidth() == 0 {
		return nil, training.Trainingf("Found array with 0 feature(s) (shape=(%d, 0)) while a minimum of 1 is required.", len(rows))
	}
	x, err := ct.Transform(rows)
	if err != nil {
		return nil, training.Wrap(training.KindTraining, err, "transform features")
	}
	p := &Pipeline{Columns: ct, Model: m}
	if err := p.fitModel(x, labels); err != nil {
		return nil, err
	}
	return p, nil
}

// FitMatrix fits an already numeric matrix, standardizing it first when scale is set.
func FitMatrix(x [][]float64, labels []string, scale bool, m model.Classifier) (*Pipeline, error) {
	p := &Pipeline{Model: m}
	if scale {
		s, err := preprocess.FitScaler(x)
		if err != nil {
			return nil, training.Wrap(training.KindTraining, err, "fit scaler")
		}
		if x, err = s.Transform(x); err != nil {
			return nil, training.Wrap(training.KindTraining, err, "scale features")
		}
		p.Scaler = s
	}
	if err := p.fitModel(x, labels); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) fitModel(x [][]float64, labels []string) error {
	seen := map[string]bool{}
	for _, l := range labels {
		if !seen[l] {
			seen[l] = true
			p.Classes = append(p.Classes, l)
		}
	}
	evaluate.SortLabels(p.Classes)
	index := make(map[string]int, len(p.Classes))
	for i, c := range p.Classes {
		index[c] = i
	}
	y := make([]int, len(labels))
	for i, l := range labels {
		y[i] = index[l]
	}
	if err := p.Model.Fit(x, y, len(p.Classes)); err != nil {
		return training.Wrap(training.KindTraining, err, "")
	}
	return nil
}

// PredictRows predicts labels for raw rows. The pipeline must have been fit
// with FitRows.
func (p *Pipeline) PredictRows(rows [][]string) ([]string, error) {
	if p.Columns == nil {
		return nil, fmt.Errorf("pipeline expects a numeric matrix")
	}
	x, err := p.Columns.Transform(rows)
	if err != nil {
		return nil, err
	}
	return p.predict(x)
}

// PredictMatrix predicts labels for a numeric matrix. The pipeline must have
// been fit with FitMatrix.
func (p *Pipeline) PredictMatrix(x [][]float64) ([]string, error) {
	if p.Columns != nil {
		return nil, fmt.Errorf("pipeline expects raw tabular rows")
	}
	if p.Scaler != nil {
		var err error
		if x, err = p.Scaler.Transform(x); err != nil {
			return nil, err
		}
	}
	return p.predict(x)
}

func (p *Pipeline) predict(x [][]float64) ([]string, error) {
	idx, err := p.Model.Predict(x)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(idx))
	for i, k := range idx {
		if k < 0 || k >= len(p.Classes) {
			return nil, fmt.Errorf("model predicted class index %d outside %d classes", k, len(p.Classes))
		}
		out[i] = p.Classes[k]
	}
	return out, nil
}
