package evaluate

import (
	"math"
	"sort"
	"strings"
	"testing"

	"github.com/animus-labs/ailab/internal/training"
)

func repeat(label string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = label
	}
	return out
}

func TestSortLabels(t *testing.T) {
	cases := []struct {
		in   []string
		want string
	}{
		{[]string{"10", "2", "1"}, "1,2,10"},
		{[]string{"b", "10", "a"}, "10,a,b"},
		{[]string{"1.5", "-1", "0"}, "-1,0,1.5"},
	}
	for _, tc := range cases {
		SortLabels(tc.in)
		if got := strings.Join(tc.in, ","); got != tc.want {
			t.Fatalf("SortLabels()=%s, want %s", got, tc.want)
		}
	}
}

func TestTrainTestSplitStratified(t *testing.T) {
	labels := append(append(repeat("0", 50), repeat("1", 50)...), repeat("2", 50)...)
	split, err := TrainTestSplit(labels, 0.2, 42, true)
	if err != nil {
		t.Fatalf("TrainTestSplit()=%v", err)
	}
	if len(split.Test) != 30 || len(split.Train) != 120 {
		t.Fatalf("sizes train=%d test=%d, want 120/30", len(split.Train), len(split.Test))
	}
	counts := map[string]int{}
	for _, i := range split.Test {
		counts[labels[i]]++
	}
	for _, c := range []string{"0", "1", "2"} {
		if counts[c] != 10 {
			t.Fatalf("test count for %s=%d, want 10", c, counts[c])
		}
	}
	all := append(append([]int(nil), split.Train...), split.Test...)
	sort.Ints(all)
	for i, v := range all {
		if v != i {
			t.Fatalf("split is not a partition: index %d holds %d", i, v)
		}
	}
}

func TestTrainTestSplitDeterministic(t *testing.T) {
	labels := append(repeat("a", 7), repeat("b", 13)...)
	for _, stratify := range []bool{true, false} {
		first, err := TrainTestSplit(labels, 0.25, 7, stratify)
		if err != nil {
			t.Fatalf("TrainTestSplit()=%v", err)
		}
		second, _ := TrainTestSplit(labels, 0.25, 7, stratify)
		for i := range first.Test {
			if first.Test[i] != second.Test[i] {
				t.Fatalf("stratify=%v: test index %d differs: %d vs %d", stratify, i, first.Test[i], second.Test[i])
			}
		}
		if len(first.Test) != 5 {
			t.Fatalf("len(test)=%d, want 5", len(first.Test))
		}
	}
}

func TestTrainTestSplitFailures(t *testing.T) {
	cases := []struct {
		name     string
		labels   []string
		testSize float64
		want     string
	}{
		{"singleton class", append(repeat("a", 10), "b"), 0.2, "least populated class"},
		{"test smaller than classes", append(append(repeat("a", 5), repeat("b", 5)...), repeat("c", 5)...), 0.1, "test_size = 2"},
		{"empty train", repeat("a", 2), 0.9, "train set will be empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := TrainTestSplit(tc.labels, tc.testSize, 42, true)
			if !training.IsTraining(err) || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("TrainTestSplit()=%v, want training error containing %q", err, tc.want)
			}
		})
	}
}

func TestScore(t *testing.T) {
	truth := []string{"0", "0", "1", "1", "2"}
	pred := []string{"0", "1", "1", "1", "0"}
	r, err := Score(truth, pred)
	if err != nil {
		t.Fatalf("Score()=%v", err)
	}
	if r.Accuracy != 0.6 {
		t.Fatalf("Accuracy=%v, want 0.6", r.Accuracy)
	}
	want := [][]int{{1, 1, 0}, {0, 2, 0}, {1, 0, 0}}
	for i := range want {
		for j := range want[i] {
			if r.Confusion[i][j] != want[i][j] {
				t.Fatalf("Confusion=%v, want %v", r.Confusion, want)
			}
		}
	}
	// precision: 0.5, 2/3, 0; recall: 0.5, 1, 0
	if math.Abs(r.PrecisionMacro-(0.5+2.0/3)/3) > 1e-12 {
		t.Fatalf("PrecisionMacro=%v", r.PrecisionMacro)
	}
	if math.Abs(r.RecallMacro-0.5) > 1e-12 {
		t.Fatalf("RecallMacro=%v", r.RecallMacro)
	}
	if math.Abs(r.F1Macro-(0.5+0.8)/3) > 1e-12 {
		t.Fatalf("F1Macro=%v", r.F1Macro)
	}
}

func TestScoreConfusionSumsToTestSize(t *testing.T) {
	truth := []string{"x", "y", "y", "z"}
	pred := []string{"y", "y", "y", "y"}
	r, err := Score(truth, pred)
	if err != nil {
		t.Fatalf("Score()=%v", err)
	}
	sum := 0
	for _, row := range r.Confusion {
		if len(row) != len(r.Labels) {
			t.Fatalf("confusion is not square: %v", r.Confusion)
		}
		for _, v := range row {
			sum += v
		}
	}
	if sum != len(truth) {
		t.Fatalf("confusion sum=%d, want %d", sum, len(truth))
	}
}

func TestScoreRejectsMismatch(t *testing.T) {
	if _, err := Score([]string{"a"}, nil); err == nil {
		t.Fatalf("Score() succeeded with mismatched lengths")
	}
}
