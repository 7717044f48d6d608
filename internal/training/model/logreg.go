package model

import (
	"fmt"
	"math"

	"github.com/animus-labs/ailab/internal/training"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// LogisticRegression is a multinomial logistic regression with an L2
// penalty of 1/(2C) on the coefficients. The intercept is not penalized.
type LogisticRegression struct {
	C       float64
	MaxIter int
	Solver  string

	Classes   int
	Features  int
	Coef      [][]float64
	Intercept []float64
	// Status is the optimizer's termination status.
	Status string
}

const gradientTolerance = 1e-4

func solverMethod(name string) (optimize.Method, error) {
	switch name {
	case "lbfgs":
		return &optimize.LBFGS{}, nil
	case "bfgs", "newton-cholesky", "liblinear":
		return &optimize.BFGS{}, nil
	case "cg", "newton-cg":
		return &optimize.CG{}, nil
	case "gd", "sag", "saga":
		return &optimize.GradientDescent{}, nil
	default:
		return nil, training.Configurationf("unknown solver: %s", name)
	}
}

func (m *LogisticRegression) Fit(x [][]float64, y []int, classes int) error {
	if err := checkShape(x, y, classes); err != nil {
		return err
	}
	method, err := solverMethod(m.Solver)
	if err != nil {
		return err
	}
	n, d := len(x), len(x[0])
	flat := make([]float64, 0, n*d)
	for i, row := range x {
		if len(row) != d {
			return training.Trainingf("sample %d has %d features, want %d", i, len(row), d)
		}
		flat = append(flat, row...)
	}
	obj := &softmaxObjective{
		x:      mat.NewDense(n, d, flat),
		y:      y,
		n:      n,
		d:      d,
		k:      classes,
		lambda: 1 / m.C,
		z:      mat.NewDense(n, classes, nil),
	}
	problem := optimize.Problem{Func: obj.value, Grad: obj.grad}
	settings := &optimize.Settings{MajorIterations: m.MaxIter, GradientThreshold: gradientTolerance}

	result, err := optimize.Minimize(problem, make([]float64, classes*d+classes), settings, method)
	if err != nil && (result == nil || !finite(result.X)) {
		return training.Wrap(training.KindTraining, err, "fit logistic regression")
	}
	if !finite(result.X) {
		return training.Trainingf("fit logistic regression: coefficients diverged")
	}
	m.Status = result.Status.String()
	if err != nil {
		m.Status = fmt.Sprintf("%s: %v", result.Status, err)
	}
	m.Classes, m.Features = classes, d
	m.Coef = make([][]float64, classes)
	for c := 0; c < classes; c++ {
		m.Coef[c] = append([]float64(nil), result.X[c*d:(c+1)*d]...)
	}
	m.Intercept = append([]float64(nil), result.X[classes*d:]...)
	return nil
}

func (m *LogisticRegression) Predict(x [][]float64) ([]int, error) {
	if m.Coef == nil {
		return nil, fmt.Errorf("logistic regression is not fitted")
	}
	out := make([]int, len(x))
	scores := make([]float64, m.Classes)
	for i, row := range x {
		if len(row) != m.Features {
			return nil, fmt.Errorf("sample %d has %d features, want %d", i, len(row), m.Features)
		}
		for c := range scores {
			s := m.Intercept[c]
			for j, v := range row {
				s += m.Coef[c][j] * v
			}
			scores[c] = s
		}
		out[i] = argmax(scores)
	}
	return out, nil
}

// softmaxObjective is the mean cross-entropy plus the L2 penalty, both
// scaled by 1/n.
type softmaxObjective struct {
	x       *mat.Dense
	y       []int
	n, d, k int
	lambda  float64
	z       *mat.Dense
}

func (o *softmaxObjective) scores(params []float64) {
	w := mat.NewDense(o.k, o.d, params[:o.k*o.d])
	o.z.Mul(o.x, w.T())
	b := params[o.k*o.d:]
	for i := 0; i < o.n; i++ {
		row := o.z.RawRowView(i)
		for c := range row {
			row[c] += b[c]
		}
	}
}

func (o *softmaxObjective) value(params []float64) float64 {
	o.scores(params)
	var loss float64
	for i := 0; i < o.n; i++ {
		row := o.z.RawRowView(i)
		loss += logSumExp(row) - row[o.y[i]]
	}
	var reg float64
	for _, w := range params[:o.k*o.d] {
		reg += w * w
	}
	return (loss + 0.5*o.lambda*reg) / float64(o.n)
}

func (o *softmaxObjective) grad(grad, params []float64) {
	o.scores(params)
	for i := 0; i < o.n; i++ {
		row := o.z.RawRowView(i)
		softmax(row)
		row[o.y[i]]--
	}
	inv := 1 / float64(o.n)
	gw := mat.NewDense(o.k, o.d, grad[:o.k*o.d])
	gw.Mul(o.z.T(), o.x)
	for idx, w := range params[:o.k*o.d] {
		grad[idx] = (grad[idx] + o.lambda*w) * inv
	}
	gb := grad[o.k*o.d:]
	for c := range gb {
		gb[c] = 0
	}
	for i := 0; i < o.n; i++ {
		for c, r := range o.z.RawRowView(i) {
			gb[c] += r
		}
	}
	for c := range gb {
		gb[c] *= inv
	}
}

func logSumExp(v []float64) float64 {
	hi := v[0]
	for _, x := range v[1:] {
		if x > hi {
			hi = x
		}
	}
	var sum float64
	for _, x := range v {
		sum += math.Exp(x - hi)
	}
	return hi + math.Log(sum)
}

func softmax(v []float64) {
	lse := logSumExp(v)
	for i, x := range v {
		v[i] = math.Exp(x - lse)
	}
}

func finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
