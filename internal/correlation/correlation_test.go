package correlation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewyakubiw/qml-main/internal/groundstate"
	"github.com/matthewyakubiw/qml-main/internal/hamiltonian"
	"github.com/matthewyakubiw/qml-main/internal/lattice"
	"github.com/matthewyakubiw/qml-main/internal/pauli"
	"github.com/matthewyakubiw/qml-main/internal/shadow"
	"github.com/matthewyakubiw/qml-main/internal/simulator"
)

func TestOperator_DiagonalIsIdentity(t *testing.T) {
	// i == j yields three identities; i != j yields XX, YY, ZZ
	for _, o := range Operator(2, 2) {
		assert.Equal(t, pauli.KindIdentity, o.Kind())
	}
	ops := Operator(0, 3)
	require.Len(t, ops, 3)
	assert.Equal(t, "X0 X3", ops[0].String())
	assert.Equal(t, "Y0 Y3", ops[1].String())
	assert.Equal(t, "Z0 Z3", ops[2].String())
}

func TestNumObservables(t *testing.T) {
	// Four qubits query 48 observables
	assert.Equal(t, 48, NumObservables(4))
}

func TestExactAndEstimate_SymmetricUnitDiagonal(t *testing.T) {
	// Exact and shadow matrices are symmetric with diagonal exactly 1.0 for every sample
	mats, err := lattice.Generate(4, 2, 2, lattice.DefaultSeed)
	require.NoError(t, err)
	dev := simulator.StateVector{}
	for s, c := range mats {
		psi, _, err := groundstate.Solve(hamiltonian.Build(c))
		require.NoError(t, err)
		sh, err := shadow.Generate(dev, psi, 200, 4, shadow.NewRand(uint64(s)))
		require.NoError(t, err)

		require.NoError(t, Check(Flatten(Exact(dev, psi, 4)), 0), "sample %d exact", s)
		require.NoError(t, Check(Flatten(Estimate(sh, shadow.GroupCount(48, 1))), 0), "sample %d shadow", s)
	}
}

func TestExact_SingletCorrelation(t *testing.T) {
	// The two-site singlet has C_01 = -1
	c, _ := lattice.FromValues(1, 2, []float64{1})
	psi, _, err := groundstate.Solve(hamiltonian.Build(c))
	require.NoError(t, err)
	m := Exact(simulator.StateVector{}, psi, 2)
	assert.InDelta(t, -1.0, m.At(0, 1), 1e-9)
	assert.Equal(t, 1.0, m.At(1, 1))
}

func TestExact_ZeroStateFallback(t *testing.T) {
	// The zero-vector fallback state has zero off-diagonal correlations
	m := Exact(simulator.StateVector{}, make(simulator.State, 8), 3)
	assert.Equal(t, 0.0, m.At(0, 2))
	assert.Equal(t, 1.0, m.At(2, 2))
}

func TestEstimate_TracksExact(t *testing.T) {
	// With T=4000 the shadow matrix lies within 0.2 of the exact one entrywise
	mats, _ := lattice.Generate(1, 2, 2, lattice.DefaultSeed)
	dev := simulator.StateVector{}
	psi, _, err := groundstate.Solve(hamiltonian.Build(mats[0]))
	require.NoError(t, err)
	sh, err := shadow.Generate(dev, psi, 4000, 4, shadow.NewRand(42))
	require.NoError(t, err)
	exact := Flatten(Exact(dev, psi, 4))
	est := Flatten(Estimate(sh, shadow.GroupCount(NumObservables(4), 1)))
	for k := range exact {
		if math.Abs(exact[k]-est[k]) > 0.2 {
			i, j := Entry(k, 4)
			t.Errorf("C_%d%d: exact %.3f, shadow %.3f", i, j, exact[k], est[k])
		}
	}
}

func TestCheck_DetectsViolations(t *testing.T) {
	// Check rejects non-square input, bad diagonals and asymmetry
	assert.Error(t, Check([]float64{1, 0, 0}, 0))
	assert.Error(t, Check([]float64{0.9, 0, 0, 1}, 1e-6))
	assert.Error(t, Check([]float64{1, 0.2, 0.3, 1}, 1e-6))
	assert.NoError(t, Check([]float64{1, 0.2, 0.2, 1}, 0))
}
