package dataset

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"github.com/matthewyakubiw/qml-main/internal/bus"
	"github.com/matthewyakubiw/qml-main/internal/correlation"
	"github.com/matthewyakubiw/qml-main/internal/lattice"
	"github.com/matthewyakubiw/qml-main/internal/simulator"
	"github.com/matthewyakubiw/qml-main/internal/types"
)

func smallConfig() Config {
	return Config{RunID: "test", Rows: 2, Cols: 2, Samples: 6, Shots: 100, Seed: lattice.DefaultSeed, Delta: 1}
}

type recordingSink struct {
	mu      sync.Mutex
	indices []int
}

func (r *recordingSink) SaveSample(_ string, s *Sample) {
	r.mu.Lock()
	r.indices = append(r.indices, s.Index)
	r.mu.Unlock()
}

func TestBuild_ShapesAndInvariants(t *testing.T) {
	// Every sample has 4 unit-norm features and 16-entry symmetric unit-diagonal labels
	ds, err := Build(context.Background(), smallConfig(), simulator.StateVector{}, nil, nil)
	require.NoError(t, err)
	require.Equal(t, 6, ds.Len())
	assert.Equal(t, 10, ds.Groups)
	assert.Equal(t, lattice.Edges(2, 2), ds.Edges)
	for _, s := range ds.Samples {
		assert.Len(t, s.Features, 4)
		assert.InDelta(t, 1.0, floats.Norm(s.Features, 2), 1e-12)
		assert.NoError(t, correlation.Check(s.Exact, 0))
		assert.NoError(t, correlation.Check(s.Estimated, 0))
		assert.Equal(t, 100, s.Shadow.Size())
	}
	r, c := ds.FeatureMatrix().Dims()
	assert.Equal(t, 6, r)
	assert.Equal(t, 4, c)
	assert.Len(t, ds.EstimatedLabels(1), 6)
	assert.Equal(t, ds.Samples[2].Exact[5], ds.ExactLabels(5)[2])
}

func TestBuild_ParallelMatchesSequential(t *testing.T) {
	// Identical configs give identical datasets regardless of worker count
	cfg := smallConfig()
	seq, err := Build(context.Background(), cfg, nil, nil, nil)
	require.NoError(t, err)
	cfg.Workers = 4
	par, err := Build(context.Background(), cfg, nil, nil, nil)
	require.NoError(t, err)
	for i := range seq.Samples {
		assert.Equal(t, seq.Samples[i].Features, par.Samples[i].Features)
		assert.Equal(t, seq.Samples[i].Estimated, par.Samples[i].Estimated)
		assert.Equal(t, seq.Samples[i].Shadow, par.Samples[i].Shadow)
	}
}

func TestBuild_PublishesAndSinks(t *testing.T) {
	// Each sample reaches the sink and the bus; DatasetReady follows
	b := bus.New()
	tap := b.NewTap()
	sink := &recordingSink{}
	cfg := smallConfig()
	cfg.Workers = 2
	_, err := Build(context.Background(), cfg, nil, b, sink)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4, 5}, sink.indices)

	counts := map[types.MessageType]int{}
	for len(tap) > 0 {
		counts[(<-tap).Type]++
	}
	assert.Equal(t, 6, counts[types.MsgSampleBuilt])
	assert.Equal(t, 1, counts[types.MsgDatasetReady])
}

func TestBuild_CancelledContext(t *testing.T) {
	// A cancelled context aborts the build
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Build(ctx, smallConfig(), nil, nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuild_RejectsDegenerateInput(t *testing.T) {
	// Zero samples, zero shots and a 1x1 lattice are rejected
	for _, mutate := range []func(*Config){
		func(c *Config) { c.Samples = 0 },
		func(c *Config) { c.Shots = 0 },
		func(c *Config) { c.Rows, c.Cols = 1, 1 },
	} {
		cfg := smallConfig()
		mutate(&cfg)
		_, err := Build(context.Background(), cfg, nil, nil, nil)
		assert.Error(t, err)
	}
}

func TestFeatures_EdgeOrderUnitNorm(t *testing.T) {
	// Features follow edge order and are L2-normalized
	c, _ := lattice.FromValues(2, 2, []float64{3, 0, 4, 0})
	f, err := Features(c)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{0.6, 0.8}, f, 1e-12)
}

func TestFeatures_DuplicateValuesBreakOrder(t *testing.T) {
	// Two edges with the same coupling violate the edge-order contract
	c, _ := lattice.FromValues(2, 2, []float64{1, 1, 2, 3})
	_, err := Features(c)
	assert.ErrorIs(t, err, ErrFeatureOrder)
}

func TestFeatures_AllZero(t *testing.T) {
	// All-zero couplings give an empty feature vector
	c, _ := lattice.FromValues(2, 2, []float64{0, 0, 0, 0})
	f, err := Features(c)
	require.NoError(t, err)
	assert.Empty(t, f)
}
