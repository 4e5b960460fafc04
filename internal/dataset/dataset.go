// Package dataset builds the learning dataset: for each random coupling matrix
// it computes the ground state, a classical shadow of it, and the exact and
// shadow-estimated correlation vectors.
//
// Design constraints:
//   - Samples are independent; each derives its own shadow seed from the run
//     seed and its index, so parallel and sequential builds are identical.
//   - The Dataset is read-only once Build returns.
//   - Feature order is the lattice edge order; Build rejects any sample whose
//     deduplicated couplings do not follow it.
package dataset

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sourcegraph/conc/pool"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/matthewyakubiw/qml-main/internal/bus"
	"github.com/matthewyakubiw/qml-main/internal/correlation"
	"github.com/matthewyakubiw/qml-main/internal/groundstate"
	"github.com/matthewyakubiw/qml-main/internal/hamiltonian"
	"github.com/matthewyakubiw/qml-main/internal/lattice"
	"github.com/matthewyakubiw/qml-main/internal/shadow"
	"github.com/matthewyakubiw/qml-main/internal/simulator"
	"github.com/matthewyakubiw/qml-main/internal/types"
)

// ErrFeatureOrder is returned when a sample's deduplicated couplings do not
// line up with the lattice edge order (e.g. two edges drew the same value).
var ErrFeatureOrder = errors.New("dataset: coupling features do not follow edge order")

// Config controls a dataset build.
type Config struct {
	RunID   string
	Rows    int
	Cols    int
	Samples int
	Shots   int     // T, snapshots per shadow
	Seed    uint64  // coupling draws and shadow seeds derive from it
	Delta   float64 // median-of-means failure probability
	Workers int     // <= 1 builds sequentially
}

// Sample is one labelled point. Exact and Estimated are n×n correlation
// matrices flattened row-major.
type Sample struct {
	Index     int                    `json:"index"`
	Coupling  lattice.CouplingMatrix `json:"-"`
	Features  []float64              `json:"features"`
	Exact     []float64              `json:"exact"`
	Estimated []float64              `json:"estimated"`
	Energy    float64                `json:"energy"`
	Fallback  bool                   `json:"fallback"`
	Shadow    shadow.Shadow          `json:"-"`
}

// Dataset is the immutable result of Build.
type Dataset struct {
	Rows, Cols int
	Shots      int
	Groups     int            // K used for every shadow estimate
	Edges      []lattice.Edge // feature order
	Samples    []Sample
}

// Sink receives every sample as soon as it is built. Implementations must not
// retain or mutate the sample's slices beyond the call.
type Sink interface {
	SaveSample(runID string, s *Sample)
}

// Build generates cfg.Samples samples. b and sink may be nil.
//
// Expectations:
//   - Returns cfg.Samples samples in index order
//   - Every Exact and Estimated vector has n² entries with a unit diagonal and symmetry
//   - Zero-coupling samples use the zero-vector fallback state instead of failing
//   - Identical cfg gives identical datasets regardless of Workers
//   - Stops scheduling samples and returns ctx.Err() when ctx is cancelled
func Build(ctx context.Context, cfg Config, dev simulator.Device, b *bus.Bus, sink Sink) (*Dataset, error) {
	if cfg.Samples < 1 {
		return nil, fmt.Errorf("dataset: sample count %d must be positive", cfg.Samples)
	}
	if cfg.Shots < 1 {
		return nil, fmt.Errorf("dataset: shot count %d must be positive", cfg.Shots)
	}
	if dev == nil {
		dev = simulator.StateVector{}
	}
	start := time.Now()
	mats, err := lattice.Generate(cfg.Samples, cfg.Rows, cfg.Cols, cfg.Seed)
	if err != nil {
		return nil, fmt.Errorf("dataset: %w", err)
	}
	n := cfg.Rows * cfg.Cols
	if lattice.EdgeCount(cfg.Rows, cfg.Cols) < 1 {
		return nil, fmt.Errorf("dataset: %dx%d lattice has no couplings to learn from", cfg.Rows, cfg.Cols)
	}
	if n > hamiltonian.MaxQubits {
		return nil, fmt.Errorf("dataset: %d spins exceeds %d", n, hamiltonian.MaxQubits)
	}
	k := shadow.GroupCount(correlation.NumObservables(n), cfg.Delta)
	log.Printf("[DATASET] building %d samples on %dx%d lattice, T=%d, K=%d", cfg.Samples, cfg.Rows, cfg.Cols, cfg.Shots, k)

	ds := &Dataset{
		Rows:    cfg.Rows,
		Cols:    cfg.Cols,
		Shots:   cfg.Shots,
		Groups:  k,
		Edges:   lattice.Edges(cfg.Rows, cfg.Cols),
		Samples: make([]Sample, cfg.Samples),
	}

	build := func(ctx context.Context, i int) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		s, err := buildSample(ctx, dev, mats[i], i, cfg, k)
		if err != nil {
			return fmt.Errorf("dataset: sample %d: %w", i, err)
		}
		ds.Samples[i] = s
		if sink != nil {
			sink.SaveSample(cfg.RunID, &ds.Samples[i])
		}
		b.Emit(types.RoleDataset, types.RoleArchive, types.MsgSampleBuilt, types.SampleBuilt{
			RunID:     cfg.RunID,
			Index:     i,
			Features:  s.Features,
			Exact:     s.Exact,
			Estimated: s.Estimated,
			Energy:    s.Energy,
			Fallback:  s.Fallback,
			Shots:     cfg.Shots,
		})
		return nil
	}

	if cfg.Workers <= 1 {
		for i := range mats {
			if err := build(ctx, i); err != nil {
				return nil, err
			}
		}
	} else {
		p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError().WithMaxGoroutines(cfg.Workers)
		for i := range mats {
			p.Go(func(ctx context.Context) error { return build(ctx, i) })
		}
		if err := p.Wait(); err != nil {
			return nil, err
		}
	}

	if err := ds.checkFeatureDims(); err != nil {
		return nil, err
	}
	elapsed := time.Since(start)
	log.Printf("[DATASET] built %d samples in %v", cfg.Samples, elapsed.Round(time.Millisecond))
	b.Emit(types.RoleDataset, types.RoleKernel, types.MsgDatasetReady, types.DatasetReady{
		RunID:     cfg.RunID,
		Samples:   cfg.Samples,
		Features:  len(ds.Samples[0].Features),
		ElapsedMs: elapsed.Milliseconds(),
	})
	return ds, nil
}

func buildSample(ctx context.Context, dev simulator.Device, c lattice.CouplingMatrix, i int, cfg Config, k int) (Sample, error) {
	n := c.NumSpins()
	psi, res, err := groundstate.Solve(hamiltonian.Build(c))
	if err != nil {
		return Sample{}, err
	}
	if res.Fallback {
		log.Printf("[DATASET] sample %d has no couplings; using zero fallback state", i)
	}
	sh, err := shadow.GenerateSeeded(ctx, dev, psi, cfg.Shots, n, SampleSeed(cfg.Seed, i), 1)
	if err != nil {
		return Sample{}, err
	}
	feats, err := Features(c)
	if err != nil {
		return Sample{}, err
	}
	return Sample{
		Index:     i,
		Coupling:  c,
		Features:  feats,
		Exact:     correlation.Flatten(correlation.Exact(dev, psi, n)),
		Estimated: correlation.Flatten(correlation.Estimate(sh, k)),
		Energy:    res.Energy,
		Fallback:  res.Fallback,
		Shadow:    sh,
	}, nil
}

// SampleSeed derives the shadow seed for sample i.
func SampleSeed(seed uint64, i int) uint64 {
	return seed*0x9e3779b97f4a7c15 + uint64(i) + 1
}

// Features returns the nonzero couplings of c, deduplicated in row-major order
// and scaled to unit L2 norm.
//
// Expectations:
//   - Order equals the nonzero entries of c.EdgeValues()
//   - Result has unit norm unless every coupling is zero (then it is empty)
//   - Returns ErrFeatureOrder when deduplication merged two edges
func Features(c lattice.CouplingMatrix) ([]float64, error) {
	n := c.NumSpins()
	seen := make(map[float64]bool)
	var out []float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			v := c.At(i, j)
			if v == 0 || seen[v] {
				continue
			}
			seen[v] = true
			out = append(out, v)
		}
	}

	var want []float64
	for _, v := range c.EdgeValues() {
		if v != 0 {
			want = append(want, v)
		}
	}
	if !floats.Equal(out, want) {
		return nil, ErrFeatureOrder
	}
	if len(out) == 0 {
		return out, nil
	}
	floats.Scale(1/floats.Norm(out, 2), out)
	return out, nil
}

func (d *Dataset) checkFeatureDims() error {
	dim := len(d.Samples[0].Features)
	for _, s := range d.Samples {
		if len(s.Features) != dim {
			return fmt.Errorf("dataset: sample %d has %d features, sample 0 has %d", s.Index, len(s.Features), dim)
		}
	}
	return nil
}

// Len returns the number of samples.
func (d *Dataset) Len() int { return len(d.Samples) }

// NumQubits returns rows*cols.
func (d *Dataset) NumQubits() int { return d.Rows * d.Cols }

// NumEntries returns n², the number of correlation entries per sample.
func (d *Dataset) NumEntries() int { return d.NumQubits() * d.NumQubits() }

// FeatureMatrix returns the N×d feature matrix.
func (d *Dataset) FeatureMatrix() *mat.Dense {
	dim := len(d.Samples[0].Features)
	X := mat.NewDense(d.Len(), dim, nil)
	for i, s := range d.Samples {
		X.SetRow(i, s.Features)
	}
	return X
}

// EstimatedLabels returns the shadow-estimated value of one flattened entry for every sample.
func (d *Dataset) EstimatedLabels(entry int) []float64 {
	out := make([]float64, d.Len())
	for i, s := range d.Samples {
		out[i] = s.Estimated[entry]
	}
	return out
}

// ExactLabels returns the exact value of one flattened entry for every sample.
func (d *Dataset) ExactLabels(entry int) []float64 {
	out := make([]float64, d.Len())
	for i, s := range d.Samples {
		out[i] = s.Exact[entry]
	}
	return out
}
