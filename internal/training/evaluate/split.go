// Package evaluate splits labeled data and scores predictions.
package evaluate

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/animus-labs/ailab/internal/training"
)

// Split holds row indices into the original data.
type Split struct {
	Train []int
	Test  []int
}

// TrainTestSplit partitions n = len(labels) rows. The test set takes
// ceil(testSize*n) rows. With stratify, every class keeps its proportion in
// both sets and a class with fewer than two members is an error.
func TrainTestSplit(labels []string, testSize float64, seed int, stratify bool) (Split, error) {
	n := len(labels)
	if testSize <= 0 || testSize >= 1 {
		return Split{}, training.Trainingf("test_size must be between 0 and 1, got %v", testSize)
	}
	nTest := int(math.Ceil(testSize * float64(n)))
	nTrain := n - nTest
	if nTest == 0 || nTrain == 0 {
		return Split{}, training.Trainingf("With n_samples=%d, test_size=%v the resulting train set will be empty. Adjust test_size.", n, testSize)
	}
	rng := rand.New(rand.NewPCG(uint64(seed), 0))
	if !stratify {
		perm := rng.Perm(n)
		return Split{Train: perm[nTest:], Test: perm[:nTest]}, nil
	}

	classes, members := groupByLabel(labels)
	for _, c := range classes {
		if len(members[c]) < 2 {
			return Split{}, training.Trainingf("The least populated class in y has only 1 member, which is too few. The minimum number of groups for any class cannot be less than 2.")
		}
	}
	if nTest < len(classes) {
		return Split{}, training.Trainingf("The test_size = %d should be greater or equal to the number of classes = %d", nTest, len(classes))
	}
	if nTrain < len(classes) {
		return Split{}, training.Trainingf("The train_size = %d should be greater or equal to the number of classes = %d", nTrain, len(classes))
	}

	counts := make([]int, len(classes))
	for i, c := range classes {
		counts[i] = len(members[c])
	}
	alloc := apportion(counts, nTest)
	var split Split
	for i, c := range classes {
		idx := append([]int(nil), members[c]...)
		rng.Shuffle(len(idx), func(a, b int) { idx[a], idx[b] = idx[b], idx[a] })
		split.Test = append(split.Test, idx[:alloc[i]]...)
		split.Train = append(split.Train, idx[alloc[i]:]...)
	}
	rng.Shuffle(len(split.Test), func(a, b int) { split.Test[a], split.Test[b] = split.Test[b], split.Test[a] })
	rng.Shuffle(len(split.Train), func(a, b int) { split.Train[a], split.Train[b] = split.Train[b], split.Train[a] })
	return split, nil
}

func groupByLabel(labels []string) ([]string, map[string][]int) {
	members := map[string][]int{}
	for i, l := range labels {
		members[l] = append(members[l], i)
	}
	classes := make([]string, 0, len(members))
	for c := range members {
		classes = append(classes, c)
	}
	SortLabels(classes)
	return classes, members
}

// apportion distributes total draws across classes proportionally to counts:
// floors first, then the largest remainders. No class gets all of its
// members and ties go to the earlier class.
func apportion(counts []int, total int) []int {
	n := 0
	for _, c := range counts {
		n += c
	}
	alloc := make([]int, len(counts))
	rem := make([]float64, len(counts))
	left := total
	for i, c := range counts {
		exact := float64(total) * float64(c) / float64(n)
		alloc[i] = int(math.Floor(exact))
		if alloc[i] >= c {
			alloc[i] = c - 1
		}
		rem[i] = exact - float64(alloc[i])
		left -= alloc[i]
	}
	order := make([]int, len(counts))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return rem[order[a]] > rem[order[b]] })
	for left > 0 {
		progressed := false
		for _, i := range order {
			if left == 0 {
				break
			}
			if alloc[i] < counts[i]-1 {
				alloc[i]++
				left--
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}
	return alloc
}
