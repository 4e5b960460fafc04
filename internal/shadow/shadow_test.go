package shadow

import (
	"context"
	"math"
	"math/cmplx"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewyakubiw/qml-main/internal/groundstate"
	"github.com/matthewyakubiw/qml-main/internal/hamiltonian"
	"github.com/matthewyakubiw/qml-main/internal/lattice"
	"github.com/matthewyakubiw/qml-main/internal/pauli"
	"github.com/matthewyakubiw/qml-main/internal/simulator"
)

func bell() simulator.State {
	s := make(simulator.State, 4)
	s[0] = complex(1/math.Sqrt2, 0)
	s[3] = complex(1/math.Sqrt2, 0)
	return s
}

// uniformShadow builds T snapshots that all measured basis b with outcome o on every qubit.
func uniformShadow(T, n int, b pauli.Basis, o int8) Shadow {
	sh := Shadow{Outcomes: make([][]int8, T), Bases: make([][]pauli.Basis, T)}
	for t := 0; t < T; t++ {
		sh.Outcomes[t] = make([]int8, n)
		sh.Bases[t] = make([]pauli.Basis, n)
		for q := 0; q < n; q++ {
			sh.Outcomes[t][q] = o
			sh.Bases[t][q] = b
		}
	}
	return sh
}

// ---------------------------------------------------------------------------
// Generate
// ---------------------------------------------------------------------------

func TestGenerate_ShapesFor2x2Lattice(t *testing.T) {
	// 2x2 lattice, fixed seed, T=100: outcomes are 100x4 in {-1,+1}, bases 100x4 in {0,1,2}
	mats, err := lattice.Generate(1, 2, 2, lattice.DefaultSeed)
	require.NoError(t, err)
	psi, _, err := groundstate.Solve(hamiltonian.Build(mats[0]))
	require.NoError(t, err)

	sh, err := Generate(simulator.StateVector{}, psi, 100, 4, NewRand(lattice.DefaultSeed))
	require.NoError(t, err)
	require.Equal(t, 100, sh.Size())
	require.Equal(t, 4, sh.NumQubits())
	require.NoError(t, sh.Validate())
	for t0 := 0; t0 < sh.Size(); t0++ {
		assert.Len(t, sh.Bases[t0], 4)
		for q := 0; q < 4; q++ {
			assert.Contains(t, []int8{-1, 1}, sh.Outcomes[t0][q])
			assert.Contains(t, []pauli.Basis{pauli.X, pauli.Y, pauli.Z}, sh.Bases[t0][q])
		}
	}
}

func TestGenerate_RejectsBadArguments(t *testing.T) {
	// Returns an error when T < 1 or the state does not match n
	_, err := Generate(simulator.StateVector{}, bell(), 0, 2, NewRand(1))
	assert.Error(t, err)
	_, err = Generate(simulator.StateVector{}, bell(), 10, 3, NewRand(1))
	assert.Error(t, err)
}

func TestGenerateSeeded_IndependentOfWorkerCount(t *testing.T) {
	// Any worker count produces the same shadow for the same seed
	ctx := context.Background()
	a, err := GenerateSeeded(ctx, simulator.StateVector{}, bell(), 300, 2, 7, 1)
	require.NoError(t, err)
	b, err := GenerateSeeded(ctx, simulator.StateVector{}, bell(), 300, 2, 7, 4)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestGenerate_BellZZOutcomesAgree(t *testing.T) {
	// When both qubits of |Φ+> are measured in Z, the outcomes agree
	sh, err := Generate(simulator.StateVector{}, bell(), 500, 2, NewRand(3))
	require.NoError(t, err)
	for t0 := 0; t0 < sh.Size(); t0++ {
		if sh.Bases[t0][0] == pauli.Z && sh.Bases[t0][1] == pauli.Z {
			assert.Equal(t, sh.Outcomes[t0][0], sh.Outcomes[t0][1])
		}
	}
}

// ---------------------------------------------------------------------------
// Median of means
// ---------------------------------------------------------------------------

func TestEstimate_AllPlusZ0IsOneForAnyK(t *testing.T) {
	// All snapshots measured Z on qubit 0 with +1: estimate of Z0 is 1 regardless of K
	sh := uniformShadow(100, 3, pauli.Z, 1)
	for _, k := range []int{1, 2, 3, 7, 10, 33, 100, 500} {
		assert.Equal(t, 1.0, Estimate(sh, pauli.Single(0, pauli.Z), k), "k=%d", k)
	}
}

func TestEstimate_ZeroMatchGroupContributesZero(t *testing.T) {
	// A shadow with no X snapshots estimates X0 as 0 without panicking
	sh := uniformShadow(50, 2, pauli.Z, -1)
	assert.Equal(t, 0.0, Estimate(sh, pauli.Single(0, pauli.X), 5))
	for _, m := range GroupMeans(sh, pauli.Single(0, pauli.X), 5) {
		assert.Equal(t, 0.0, m)
	}
}

func TestEstimate_ZeroMatchGroupPullsMedian(t *testing.T) {
	// With 3 groups where only the first matches, the median is the zero fallback
	sh := uniformShadow(9, 1, pauli.Y, 1)
	for t0 := 0; t0 < 3; t0++ {
		sh.Bases[t0][0] = pauli.X
	}
	means := GroupMeans(sh, pauli.Single(0, pauli.X), 3)
	assert.Equal(t, []float64{1, 0, 0}, means)
	assert.Equal(t, 0.0, Estimate(sh, pauli.Single(0, pauli.X), 3))
}

func TestEstimate_DropsRemainderSnapshots(t *testing.T) {
	// T=10, K=3: groups cover snapshots 0..8 and snapshot 9 is ignored
	sh := uniformShadow(10, 1, pauli.Z, 1)
	sh.Outcomes[9][0] = -1
	assert.Equal(t, []float64{1, 1, 1}, GroupMeans(sh, pauli.Single(0, pauli.Z), 3))
}

func TestEstimate_EvenGroupCountAveragesMiddle(t *testing.T) {
	// For even K the median averages the two middle group means
	sh := uniformShadow(4, 1, pauli.Z, 1)
	sh.Outcomes[0][0] = -1
	sh.Outcomes[1][0] = -1
	// group means: -1, -1, 1, 1 -> median 0
	assert.Equal(t, 0.0, Estimate(sh, pauli.Single(0, pauli.Z), 4))
}

func TestEstimate_ProductRequiresAllBasesToMatch(t *testing.T) {
	// Only snapshots matching on every targeted qubit contribute to a product
	sh := uniformShadow(4, 2, pauli.X, 1)
	sh.Bases[0][1] = pauli.Z
	sh.Outcomes[1][1] = -1
	// matching snapshots 1,2,3 with products -1,1,1
	assert.InDelta(t, 1.0/3.0, Estimate(sh, pauli.Pair(0, 1, pauli.X), 1), 1e-12)
}

func TestEstimate_IdentityIsOne(t *testing.T) {
	// Identity returns 1
	assert.Equal(t, 1.0, Estimate(uniformShadow(5, 1, pauli.X, -1), pauli.Identity(), 2))
}

func TestEstimate_BellCorrelationsConverge(t *testing.T) {
	// With T=3000 the Bell-state estimates land near <XX>=1, <YY>=-1, <ZZ>=1
	sh, err := GenerateSeeded(context.Background(), simulator.StateVector{}, bell(), 3000, 2, 11, 2)
	require.NoError(t, err)
	k := GroupCount(3, 1)
	assert.InDelta(t, 1.0, Estimate(sh, pauli.Pair(0, 1, pauli.X), k), 0.1)
	assert.InDelta(t, -1.0, Estimate(sh, pauli.Pair(0, 1, pauli.Y), k), 0.1)
	assert.InDelta(t, 1.0, Estimate(sh, pauli.Pair(0, 1, pauli.Z), k), 0.1)
	assert.InDelta(t, 0.0, Estimate(sh, pauli.Single(0, pauli.Z), k), 0.15)
}

func TestGroupCount(t *testing.T) {
	// K = ceil(2 ln(2M/δ)), at least 1
	assert.Equal(t, 10, GroupCount(48, 1))
	assert.Equal(t, 2, GroupCount(1, 1))
	assert.Equal(t, 2, GroupCount(0, 0))
	assert.Greater(t, GroupCount(48, 0.01), GroupCount(48, 1))
}

// ---------------------------------------------------------------------------
// Reconstruction
// ---------------------------------------------------------------------------

func TestSnapshot_ZPlusIsTwoOneMinus(t *testing.T) {
	// One qubit measured +1 in Z inverts to 3|0><0| - I = diag(2, -1)
	s := Snapshot([]int8{1}, []pauli.Basis{pauli.Z})
	assert.Equal(t, complex(2, 0), s.At(0, 0))
	assert.Equal(t, complex(-1, 0), s.At(1, 1))
	assert.Equal(t, complex(0, 0), s.At(0, 1))
}

func TestSnapshot_YPlusHasImaginaryCoherence(t *testing.T) {
	// +1 in Y inverts to 3|+i><+i| - I, whose (1,0) entry is 1.5i
	s := Snapshot([]int8{1}, []pauli.Basis{pauli.Y})
	assert.InDelta(t, 0.5, real(s.At(0, 0)), 1e-12)
	assert.InDelta(t, 1.5, imag(s.At(1, 0)), 1e-12)
	assert.InDelta(t, -1.5, imag(s.At(0, 1)), 1e-12)
}

func TestReconstruct_UnitTraceHermitian(t *testing.T) {
	// The shadow estimate is Hermitian with unit trace
	sh, err := Generate(simulator.StateVector{}, bell(), 200, 2, NewRand(5))
	require.NoError(t, err)
	sigma, err := Reconstruct(sh)
	require.NoError(t, err)
	var tr complex128
	for i := 0; i < 4; i++ {
		tr += sigma.At(i, i)
		for j := 0; j < 4; j++ {
			assert.InDelta(t, 0, cmplx.Abs(sigma.At(i, j)-cmplx.Conj(sigma.At(j, i))), 1e-12)
		}
	}
	assert.InDelta(t, 1.0, real(tr), 1e-9)
	assert.InDelta(t, 0.0, imag(tr), 1e-9)
}

func TestFidelityStudy_ImprovesWithShadowSize(t *testing.T) {
	// Averaged over trials, reconstruction fidelity improves from T=10 to 100 to 1000
	pts, err := FidelityStudy(context.Background(), simulator.StateVector{}, bell(), []int{10, 100, 1000}, 20, 99)
	require.NoError(t, err)
	require.Len(t, pts, 3)
	assert.Less(t, pts[0].MeanNormalized, pts[1].MeanNormalized)
	assert.Less(t, pts[1].MeanNormalized, pts[2].MeanNormalized)
	assert.Greater(t, pts[0].VarFidelity, pts[2].VarFidelity)
	assert.InDelta(t, 1.0, pts[2].MeanFidelity, 0.1)
}
