// Package preprocess turns raw feature columns into a numeric matrix.
//
// File-based tables go through a ColumnTransformer: numeric columns are
// median-imputed and optionally standardized, categorical columns are
// mode-imputed and one-hot encoded (or dropped when one-hot is off).
// Built-in datasets are already numeric and only use a Scaler.
package preprocess

import (
	"fmt"
	"sort"

	"github.com/animus-labs/ailab/internal/training"
	"github.com/animus-labs/ailab/internal/training/dataset"
	"github.com/montanaflynn/stats"
)

// Plan is the column partition decided from the full feature table.
type Plan struct {
	Columns      []string
	Numeric      []int
	Categorical  []int
	OneHot       bool
	ScaleNumeric bool
}

// NewPlan partitions features by type. A column is numeric when every
// non-missing cell parses as a number.
func NewPlan(features dataset.Table, cfg training.PreprocessConfig) Plan {
	p := Plan{
		Columns:      append([]string(nil), features.Columns...),
		OneHot:       cfg.OneHot,
		ScaleNumeric: cfg.ScaleNumeric,
	}
	for i := range features.Columns {
		if isNumericColumn(features.Rows, i) {
			p.Numeric = append(p.Numeric, i)
		} else {
			p.Categorical = append(p.Categorical, i)
		}
	}
	return p
}

func isNumericColumn(rows [][]string, col int) bool {
	for _, row := range rows {
		cell := row[col]
		if dataset.IsMissing(cell) {
			continue
		}
		if _, ok := dataset.ParseNumber(cell); !ok {
			return false
		}
	}
	return true
}

func (p Plan) NumericNames() []string     { return p.names(p.Numeric) }
func (p Plan) CategoricalNames() []string { return p.names(p.Categorical) }

func (p Plan) names(idx []int) []string {
	out := make([]string, len(idx))
	for i, c := range idx {
		out[i] = p.Columns[c]
	}
	return out
}

type NumericColumn struct {
	Name   string
	Index  int
	Median float64
	Mean   float64
	Scale  float64
	Scaled bool
}

type CategoricalColumn struct {
	Name       string
	Index      int
	Fill       string
	Categories []string
}

// ColumnTransformer is a fitted Plan. Columns left out of both lists are
// dropped.
type ColumnTransformer struct {
	InputWidth  int
	Numeric     []NumericColumn
	Categorical []CategoricalColumn
}

// Fit learns imputation, scaling and category statistics from rows. Columns
// with no observed values are dropped.
func (p Plan) Fit(rows [][]string) (*ColumnTransformer, error) {
	ct := &ColumnTransformer{InputWidth: len(p.Columns)}
	for _, idx := range p.Numeric {
		observed := make(stats.Float64Data, 0, len(rows))
		for _, row := range rows {
			if v, ok := dataset.ParseNumber(row[idx]); ok {
				observed = append(observed, v)
			}
		}
		if len(observed) == 0 {
			continue
		}
		median, err := stats.Median(observed)
		if err != nil {
			return nil, fmt.Errorf("median of %q: %w", p.Columns[idx], err)
		}
		col := NumericColumn{Name: p.Columns[idx], Index: idx, Median: median, Scale: 1}
		if p.ScaleNumeric {
			imputed := make(stats.Float64Data, len(rows))
			for r, row := range rows {
				if v, ok := dataset.ParseNumber(row[idx]); ok {
					imputed[r] = v
				} else {
					imputed[r] = median
				}
			}
			mean, scale, err := meanScale(imputed)
			if err != nil {
				return nil, fmt.Errorf("scale %q: %w", p.Columns[idx], err)
			}
			col.Mean, col.Scale, col.Scaled = mean, scale, true
		}
		ct.Numeric = append(ct.Numeric, col)
	}

	if !p.OneHot {
		return ct, nil
	}
	for _, idx := range p.Categorical {
		counts := make(map[string]int)
		for _, row := range rows {
			if cell := row[idx]; !dataset.IsMissing(cell) {
				counts[cell]++
			}
		}
		if len(counts) == 0 {
			continue
		}
		fill := mostFrequent(counts)
		categories := make([]string, 0, len(counts))
		for c := range counts {
			categories = append(categories, c)
		}
		sort.Strings(categories)
		ct.Categorical = append(ct.Categorical, CategoricalColumn{
			Name:       p.Columns[idx],
			Index:      idx,
			Fill:       fill,
			Categories: categories,
		})
	}
	return ct, nil
}

// mostFrequent returns the most common value, the smallest one on ties.
func mostFrequent(counts map[string]int) string {
	var (
		best  string
		bestN int
	)
	for v, n := range counts {
		if n > bestN || n == bestN && v < best {
			best, bestN = v, n
		}
	}
	return best
}

func meanScale(values stats.Float64Data) (float64, float64, error) {
	mean, err := stats.Mean(values)
	if err != nil {
		return 0, 0, err
	}
	std, err := stats.StandardDeviationPopulation(values)
	if err != nil {
		return 0, 0, err
	}
	if std == 0 {
		std = 1
	}
	return mean, std, nil
}

// OutputWidth is the number of columns Transform produces.
func (ct *ColumnTransformer) OutputWidth() int {
	n := len(ct.Numeric)
	for _, c := range ct.Categorical {
		n += len(c.Categories)
	}
	return n
}

// Transform maps raw rows onto the fitted numeric layout. Categories not seen
// during Fit encode as all zeros.
func (ct *ColumnTransformer) Transform(rows [][]string) ([][]float64, error) {
	width := ct.OutputWidth()
	out := make([][]float64, len(rows))
	for r, row := range rows {
		if len(row) != ct.InputWidth {
			return nil, fmt.Errorf("row %d has %d columns, want %d", r, len(row), ct.InputWidth)
		}
		x := make([]float64, width)
		pos := 0
		for _, col := range ct.Numeric {
			v, ok := dataset.ParseNumber(row[col.Index])
			if !ok {
				v = col.Median
			}
			if col.Scaled {
				v = (v - col.Mean) / col.Scale
			}
			x[pos] = v
			pos++
		}
		for _, col := range ct.Categorical {
			cell := row[col.Index]
			if dataset.IsMissing(cell) {
				cell = col.Fill
			}
			if k := sort.SearchStrings(col.Categories, cell); k < len(col.Categories) && col.Categories[k] == cell {
				x[pos+k] = 1
			}
			pos += len(col.Categories)
		}
		out[r] = x
	}
	return out, nil
}

// Scaler standardizes a numeric matrix column by column.
type Scaler struct {
	Mean  []float64
	Scale []float64
}

func FitScaler(x [][]float64) (*Scaler, error) {
	if len(x) == 0 {
		return nil, fmt.Errorf("cannot fit scaler on 0 samples")
	}
	width := len(x[0])
	s := &Scaler{Mean: make([]float64, width), Scale: make([]float64, width)}
	col := make(stats.Float64Data, len(x))
	for j := 0; j < width; j++ {
		for i, row := range x {
			col[i] = row[j]
		}
		mean, scale, err := meanScale(col)
		if err != nil {
			return nil, fmt.Errorf("scale column %d: %w", j, err)
		}
		s.Mean[j], s.Scale[j] = mean, scale
	}
	return s, nil
}

func (s *Scaler) Transform(x [][]float64) ([][]float64, error) {
	out := make([][]float64, len(x))
	for i, row := range x {
		if len(row) != len(s.Mean) {
			return nil, fmt.Errorf("row %d has %d features, want %d", i, len(row), len(s.Mean))
		}
		z := make([]float64, len(row))
		for j, v := range row {
			z[j] = (v - s.Mean[j]) / s.Scale[j]
		}
		out[i] = z
	}
	return out, nil
}
