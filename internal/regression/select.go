package regression

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sourcegraph/conc/pool"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ErrSplitMismatch means the shadow and exact labels did not split into the
// same train and test sizes. Callers treat it as fatal.
var ErrSplitMismatch = errors.New("regression: shadow and exact label splits differ")

// ErrNoCandidate is returned by SelectBest when no candidate has a finite score.
var ErrNoCandidate = errors.New("regression: no candidate with a finite CV score")

// DefaultGrid is the regularization sweep shared by both families.
var DefaultGrid = []float64{0.0025, 0.0125, 0.025, 0.05, 0.125, 0.25, 0.5, 1, 5, 10}

// FamilyOrder fixes the candidate order used for tie-breaking.
var FamilyOrder = []Family{FamilySVR, FamilyKernelRidge}

// Candidate is one (family, C) point of the sweep with its CV score.
type Candidate struct {
	Family  Family  `json:"family"`
	C       float64 `json:"c"`
	CVScore float64 `json:"cv_rmse"`
}

// SelectBest returns the candidate with the lowest CV RMSE. Ties keep the
// earlier candidate; non-finite scores are skipped.
func SelectBest(cands []Candidate) (Candidate, error) {
	best := -1
	for i, c := range cands {
		if math.IsNaN(c.CVScore) || math.IsInf(c.CVScore, 0) {
			continue
		}
		if best < 0 || c.CVScore < cands[best].CVScore {
			best = i
		}
	}
	if best < 0 {
		return Candidate{}, ErrNoCandidate
	}
	return cands[best], nil
}

// CrossValRMSE fits a fresh model per fold and returns the mean fold RMSE.
func CrossValRMSE(factory Factory, C float64, X *mat.Dense, y []float64, folds []Fold) (float64, error) {
	if len(folds) == 0 {
		return 0, fmt.Errorf("regression: cross-validation needs at least 2 rows, got %d", len(y))
	}
	scores := make([]float64, len(folds))
	for f, fold := range folds {
		Xtr, ytr := selectRows(X, y, fold.Train)
		Xte, yte := selectRows(X, y, fold.Test)
		m := factory(C)
		if err := m.Fit(Xtr, ytr); err != nil {
			return 0, fmt.Errorf("regression: fold %d: %w", f, err)
		}
		scores[f] = RMSE(m.Predict(Xte), yte)
	}
	return stat.Mean(scores, nil), nil
}

// Config controls FitPredict. Zero values take the package defaults.
type Config struct {
	TestFrac float64
	Seed     uint64
	Folds    int
	Grid     []float64
	Workers  int
}

func (c Config) withDefaults() Config {
	if c.TestFrac <= 0 || c.TestFrac >= 1 {
		c.TestFrac = DefaultTestFrac
	}
	if c.Folds < 2 {
		c.Folds = DefaultFolds
	}
	if len(c.Grid) == 0 {
		c.Grid = DefaultGrid
	}
	if c.Workers < 1 {
		c.Workers = 1
	}
	return c
}

// Result is the outcome of model selection for one label vector.
type Result struct {
	Best        Candidate
	Candidates  []Candidate
	TestRMSE    float64
	TestIdx     []int
	Predictions []float64 // aligned with TestIdx
	TrainSize   int
	TestSize    int
}

// FitPredict row-normalizes X, splits it, sweeps every family over the C grid
// with k-fold CV on the shadow labels, refits the winner on the full train
// split and scores it against the exact labels of the test split.
//
// Expectations:
//   - Returns ErrSplitMismatch when yEstim and yExact cannot share one split
//   - The same inputs always select the same candidate, whatever cfg.Workers is
//   - Candidates are listed family-major in FamilyOrder, then in grid order
func FitPredict(ctx context.Context, X mat.Matrix, k Kernel, yEstim, yExact []float64, cfg Config) (*Result, error) {
	cfg = cfg.withDefaults()
	n, _ := X.Dims()
	if len(yEstim) != n {
		return nil, fmt.Errorf("regression: %d shadow labels for %d rows", len(yEstim), n)
	}
	estSplit := TrainTestSplit(len(yEstim), cfg.TestFrac, cfg.Seed)
	exSplit := TrainTestSplit(len(yExact), cfg.TestFrac, cfg.Seed)
	if len(estSplit.Train) != len(exSplit.Train) || len(estSplit.Test) != len(exSplit.Test) {
		return nil, fmt.Errorf("%w: train %d/%d, test %d/%d", ErrSplitMismatch,
			len(estSplit.Train), len(exSplit.Train), len(estSplit.Test), len(exSplit.Test))
	}

	if len(estSplit.Train) < 2 {
		return nil, fmt.Errorf("regression: %d rows leave too few for training", n)
	}

	Xn := NormalizeRows(X)
	Xtr, ytr := selectRows(Xn, yEstim, estSplit.Train)
	Xte, yte := selectRows(Xn, yExact, exSplit.Test)
	folds := KFold(len(ytr), cfg.Folds)
	factories := Factories(k)

	cands := make([]Candidate, 0, len(FamilyOrder)*len(cfg.Grid))
	for _, fam := range FamilyOrder {
		for _, C := range cfg.Grid {
			cands = append(cands, Candidate{Family: fam, C: C})
		}
	}
	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError().WithMaxGoroutines(cfg.Workers)
	for i := range cands {
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			score, err := CrossValRMSE(factories[cands[i].Family], cands[i].C, Xtr, ytr, folds)
			if err != nil {
				// A failed fit drops out of selection rather than failing the sweep.
				score = math.Inf(1)
			}
			cands[i].CVScore = score
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	best, err := SelectBest(cands)
	if err != nil {
		return nil, err
	}
	m := factories[best.Family](best.C)
	if err := m.Fit(Xtr, ytr); err != nil {
		return nil, fmt.Errorf("regression: refit %s C=%g: %w", best.Family, best.C, err)
	}
	pred := m.Predict(Xte)
	return &Result{
		Best:        best,
		Candidates:  cands,
		TestRMSE:    RMSE(pred, yte),
		TestIdx:     exSplit.Test,
		Predictions: pred,
		TrainSize:   len(ytr),
		TestSize:    len(yte),
	}, nil
}
