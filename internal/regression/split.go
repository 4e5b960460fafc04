package regression

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// DefaultTestFrac and DefaultSplitSeed match the evaluation protocol.
const (
	DefaultTestFrac  = 0.3
	DefaultSplitSeed = 24
	DefaultFolds     = 5
)

// Split holds train and test row indices.
type Split struct {
	Train []int
	Test  []int
}

// TrainTestSplit shuffles 0..n-1 with a seeded permutation and takes the first
// ⌈testFrac·n⌉ indices as the test set.
//
// Expectations:
//   - Same (n, testFrac, seed) always gives the same split
//   - Train and Test are disjoint and together cover 0..n-1
//   - The test set keeps at least one row and leaves at least one for training when n >= 2
func TrainTestSplit(n int, testFrac float64, seed uint64) Split {
	if n <= 0 {
		return Split{}
	}
	nTest := int(math.Ceil(testFrac * float64(n)))
	if nTest < 1 {
		nTest = 1
	}
	if nTest >= n && n > 1 {
		nTest = n - 1
	}
	rng := rand.New(rand.NewPCG(seed, seed))
	perm := rng.Perm(n)
	return Split{
		Test:  append([]int(nil), perm[:nTest]...),
		Train: append([]int(nil), perm[nTest:]...),
	}
}

// Fold is one cross-validation fold over positions 0..n-1.
type Fold struct {
	Train []int
	Test  []int
}

// KFold splits 0..n-1 into k contiguous folds without shuffling. The first
// n%k folds hold one extra element. k is clamped to [2, n].
func KFold(n, k int) []Fold {
	if k > n {
		k = n
	}
	if k < 2 {
		return nil
	}
	folds := make([]Fold, 0, k)
	start := 0
	for f := 0; f < k; f++ {
		size := n / k
		if f < n%k {
			size++
		}
		var fold Fold
		for i := 0; i < n; i++ {
			if i >= start && i < start+size {
				fold.Test = append(fold.Test, i)
			} else {
				fold.Train = append(fold.Train, i)
			}
		}
		folds = append(folds, fold)
		start += size
	}
	return folds
}

// RMSE is the root mean squared error; empty input gives 0.
func RMSE(pred, want []float64) float64 {
	if len(pred) == 0 {
		return 0
	}
	var s float64
	for i := range pred {
		d := pred[i] - want[i]
		s += d * d
	}
	return math.Sqrt(s / float64(len(pred)))
}

// NormalizeRows returns a copy of M with every nonzero row scaled to unit L2 norm.
func NormalizeRows(M mat.Matrix) *mat.Dense {
	out := mat.DenseCopyOf(M)
	r, _ := out.Dims()
	for i := 0; i < r; i++ {
		row := out.RawRowView(i)
		if nrm := floats.Norm(row, 2); nrm > 0 {
			floats.Scale(1/nrm, row)
		}
	}
	return out
}

// selectRows returns the rows of X and entries of y at idx.
func selectRows(X *mat.Dense, y []float64, idx []int) (*mat.Dense, []float64) {
	_, c := X.Dims()
	sub := mat.NewDense(len(idx), c, nil)
	sy := make([]float64, len(idx))
	for k, i := range idx {
		sub.SetRow(k, X.RawRowView(i))
		if y != nil {
			sy[k] = y[i]
		}
	}
	return sub, sy
}
