// Package pipeline runs model selection for every correlation entry under every
// kernel representation and collects the winning scores into a Table.
//
// Design constraints:
//   - The dataset is read-only; jobs share it without locking.
//   - Each (entry, kernel) job writes only its own Table cell.
//   - ErrSplitMismatch from any job aborts the whole run.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sourcegraph/conc/pool"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/matthewyakubiw/qml-main/internal/bus"
	"github.com/matthewyakubiw/qml-main/internal/correlation"
	"github.com/matthewyakubiw/qml-main/internal/dataset"
	"github.com/matthewyakubiw/qml-main/internal/kernel"
	"github.com/matthewyakubiw/qml-main/internal/regression"
	"github.com/matthewyakubiw/qml-main/internal/types"
)

// Recorder persists scored entries (the sqlite report store in production).
type Recorder interface {
	RecordScore(e types.EntryScored) error
}

// Config controls a pipeline run.
type Config struct {
	RunID      string
	Regression regression.Config
	Workers    int // concurrent (entry, kernel) jobs; <= 1 runs sequentially
	Bus        *bus.Bus
	Recorder   Recorder
}

// Score is the selected model for one (entry, kernel) pair.
type Score struct {
	Entry       int
	I, J        int
	Kernel      string
	Best        regression.Candidate
	TestRMSE    float64
	TestIdx     []int
	Predictions []float64
}

// Table holds one Score per (kernel, entry).
type Table struct {
	RunID   string
	Qubits  int
	Kernels []string
	scores  map[string][]Score // kernel -> entry-indexed scores
}

// Run fits every entry under every kernel and returns the score table.
//
// Expectations:
//   - Produces n² scores per kernel in kernel.Names order
//   - Publishes one KernelBuilt per kernel, one EntryScored per job, and a final RunFinished
//   - Returns an error wrapping regression.ErrSplitMismatch when any job reports it
//   - Stops scheduling jobs and returns ctx.Err() when ctx is cancelled
func Run(ctx context.Context, ds *dataset.Dataset, cfg Config) (*Table, error) {
	if ds == nil || ds.Len() == 0 {
		return nil, fmt.Errorf("pipeline: empty dataset")
	}
	start := time.Now()
	n := ds.NumQubits()
	entries := ds.NumEntries()
	reps := kernel.Build(ds.FeatureMatrix())

	tbl := &Table{RunID: cfg.RunID, Qubits: n, scores: make(map[string][]Score, len(reps))}
	for _, rep := range reps {
		tbl.Kernels = append(tbl.Kernels, rep.Name)
		tbl.scores[rep.Name] = make([]Score, entries)
		r, c := rep.Rows.Dims()
		cfg.Bus.Emit(types.RoleKernel, types.RoleSelector, types.MsgKernelBuilt, types.KernelBuilt{
			RunID:  cfg.RunID,
			Kernel: rep.Name,
			Rows:   r,
			Cols:   c,
			Gamma:  rep.Gamma,
		})
		log.Printf("[PIPELINE] kernel %s ready (%dx%d, %s)", rep.Name, r, c, rep.Kernel)
	}

	job := func(ctx context.Context, rep kernel.Representation, entry int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := regression.FitPredict(ctx, rep.Rows, rep.Kernel, ds.EstimatedLabels(entry), ds.ExactLabels(entry), cfg.Regression)
		if err != nil {
			return fmt.Errorf("pipeline: entry %d kernel %s: %w", entry, rep.Name, err)
		}
		i, j := correlation.Entry(entry, n)
		tbl.scores[rep.Name][entry] = Score{
			Entry:       entry,
			I:           i,
			J:           j,
			Kernel:      rep.Name,
			Best:        res.Best,
			TestRMSE:    res.TestRMSE,
			TestIdx:     res.TestIdx,
			Predictions: res.Predictions,
		}
		ev := types.EntryScored{
			RunID:     cfg.RunID,
			Entry:     entry,
			I:         i,
			J:         j,
			Kernel:    rep.Name,
			Family:    string(res.Best.Family),
			C:         res.Best.C,
			CVRMSE:    res.Best.CVScore,
			TestRMSE:  res.TestRMSE,
			TrainSize: res.TrainSize,
			TestSize:  res.TestSize,
		}
		cfg.Bus.Emit(types.RoleSelector, types.RoleReport, types.MsgEntryScored, ev)
		if cfg.Recorder != nil {
			if err := cfg.Recorder.RecordScore(ev); err != nil {
				log.Printf("[PIPELINE] WARNING: record score entry=%d kernel=%s: %v", entry, rep.Name, err)
			}
		}
		return nil
	}

	if cfg.Workers <= 1 {
		for _, rep := range reps {
			for e := 0; e < entries; e++ {
				if err := job(ctx, rep, e); err != nil {
					return nil, err
				}
			}
		}
	} else {
		p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError().WithMaxGoroutines(cfg.Workers)
		for _, rep := range reps {
			for e := 0; e < entries; e++ {
				p.Go(func(ctx context.Context) error { return job(ctx, rep, e) })
			}
		}
		if err := p.Wait(); err != nil {
			return nil, err
		}
	}

	elapsed := time.Since(start)
	mean := make(map[string]float64, len(tbl.Kernels))
	for _, k := range tbl.Kernels {
		mean[k] = tbl.MeanTestRMSE(k)
		log.Printf("[PIPELINE] %s: mean CV RMSE %.4f, mean test RMSE %.4f", k, tbl.MeanCVRMSE(k), mean[k])
	}
	cfg.Bus.Emit(types.RoleSelector, types.RoleUser, types.MsgRunFinished, types.RunFinished{
		RunID:     cfg.RunID,
		Entries:   entries,
		MeanTest:  mean,
		ElapsedMs: elapsed.Milliseconds(),
	})
	return tbl, nil
}

// Scores returns the entry-indexed scores of kernel k, or nil.
func (t *Table) Scores(k string) []Score { return t.scores[k] }

// Score returns the score of one entry under kernel k.
func (t *Table) Score(k string, entry int) (Score, bool) {
	s := t.scores[k]
	if entry < 0 || entry >= len(s) {
		return Score{}, false
	}
	return s[entry], true
}

// MeanTestRMSE averages the test RMSE of kernel k over all entries.
func (t *Table) MeanTestRMSE(k string) float64 {
	return t.mean(k, func(s Score) float64 { return s.TestRMSE })
}

// MeanCVRMSE averages the winning CV RMSE of kernel k over all entries.
func (t *Table) MeanCVRMSE(k string) float64 {
	return t.mean(k, func(s Score) float64 { return s.Best.CVScore })
}

func (t *Table) mean(k string, f func(Score) float64) float64 {
	s := t.scores[k]
	if len(s) == 0 {
		return 0
	}
	xs := make([]float64, len(s))
	for i := range s {
		xs[i] = f(s[i])
	}
	return stat.Mean(xs, nil)
}

// TestSamples returns the dataset indices held out for testing. Every entry
// shares one split, so entry 0 of the first kernel is representative.
func (t *Table) TestSamples() []int {
	if len(t.Kernels) == 0 {
		return nil
	}
	s := t.scores[t.Kernels[0]]
	if len(s) == 0 {
		return nil
	}
	return append([]int(nil), s[0].TestIdx...)
}

// PredictedMatrix reassembles the n×n predicted correlation matrix of test
// sample sample under kernel k.
//
// Expectations:
//   - Returns an error for an unknown kernel
//   - Returns an error when sample was not in the test split
func (t *Table) PredictedMatrix(k string, sample int) (*mat.Dense, error) {
	s, ok := t.scores[k]
	if !ok {
		return nil, fmt.Errorf("pipeline: unknown kernel %q", k)
	}
	out := mat.NewDense(t.Qubits, t.Qubits, nil)
	for _, sc := range s {
		pos := -1
		for p, idx := range sc.TestIdx {
			if idx == sample {
				pos = p
				break
			}
		}
		if pos < 0 {
			return nil, fmt.Errorf("pipeline: sample %d is not in the test split", sample)
		}
		out.Set(sc.I, sc.J, sc.Predictions[pos])
	}
	return out, nil
}
