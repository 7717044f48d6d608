package evaluate

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/montanaflynn/stats"
)

// Report is a multi-class classification score. Confusion rows are true
// labels and columns predicted labels, both in Labels order.
type Report struct {
	Accuracy       float64
	F1Macro        float64
	PrecisionMacro float64
	RecallMacro    float64
	Labels         []string
	Confusion      [][]int
}

// SortLabels orders labels numerically when all of them are numbers and
// lexically otherwise.
func SortLabels(labels []string) {
	numeric := true
	values := make(map[string]float64, len(labels))
	for _, l := range labels {
		f, err := strconv.ParseFloat(l, 64)
		if err != nil {
			numeric = false
			break
		}
		values[l] = f
	}
	if !numeric {
		sort.Strings(labels)
		return
	}
	sort.SliceStable(labels, func(i, j int) bool { return values[labels[i]] < values[labels[j]] })
}

// Score compares predictions to the truth over the union of labels seen in
// either. Precision and recall of a class with no predicted or no true
// members count as 0.
func Score(truth, pred []string) (Report, error) {
	if len(truth) != len(pred) {
		return Report{}, fmt.Errorf("found %d true labels but %d predictions", len(truth), len(pred))
	}
	if len(truth) == 0 {
		return Report{}, fmt.Errorf("cannot score 0 predictions")
	}
	seen := map[string]bool{}
	for i := range truth {
		seen[truth[i]] = true
		seen[pred[i]] = true
	}
	labels := make([]string, 0, len(seen))
	for l := range seen {
		labels = append(labels, l)
	}
	SortLabels(labels)
	pos := make(map[string]int, len(labels))
	for i, l := range labels {
		pos[l] = i
	}

	confusion := make([][]int, len(labels))
	for i := range confusion {
		confusion[i] = make([]int, len(labels))
	}
	correct := 0
	for i := range truth {
		confusion[pos[truth[i]]][pos[pred[i]]]++
		if truth[i] == pred[i] {
			correct++
		}
	}

	precision := make(stats.Float64Data, len(labels))
	recall := make(stats.Float64Data, len(labels))
	f1 := make(stats.Float64Data, len(labels))
	for c := range labels {
		tp := confusion[c][c]
		var predicted, actual int
		for k := range labels {
			predicted += confusion[k][c]
			actual += confusion[c][k]
		}
		precision[c] = ratio(tp, predicted)
		recall[c] = ratio(tp, actual)
		if p, r := precision[c], recall[c]; p+r > 0 {
			f1[c] = 2 * p * r / (p + r)
		}
	}
	report := Report{
		Accuracy:  float64(correct) / float64(len(truth)),
		Labels:    labels,
		Confusion: confusion,
	}
	var err error
	if report.PrecisionMacro, err = stats.Mean(precision); err != nil {
		return Report{}, fmt.Errorf("macro precision: %w", err)
	}
	if report.RecallMacro, err = stats.Mean(recall); err != nil {
		return Report{}, fmt.Errorf("macro recall: %w", err)
	}
	if report.F1Macro, err = stats.Mean(f1); err != nil {
		return Report{}, fmt.Errorf("macro f1: %w", err)
	}
	return report, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
