package shadow

import (
	"context"
	"fmt"
	"math"
	"math/cmplx"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/matthewyakubiw/qml-main/internal/pauli"
	"github.com/matthewyakubiw/qml-main/internal/simulator"
)

// MaxReconstructQubits bounds dense reconstruction; the estimate is 4^n entries.
const MaxReconstructQubits = 10

// localInverse returns 3·U†|b><b|U − I for one qubit, where U is the
// measurement rotation for basis and b is 0 for outcome +1, 1 for outcome −1.
func localInverse(outcome int8, basis pauli.Basis) [2][2]complex128 {
	u := simulator.Rotation(basis)
	b := 0
	if outcome == -1 {
		b = 1
	}
	// U†|b> is the conjugated row b of U.
	v := [2]complex128{cmplx.Conj(u[b][0]), cmplx.Conj(u[b][1])}
	var rho [2][2]complex128
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			rho[i][j] = 3 * v[i] * cmplx.Conj(v[j])
		}
		rho[i][i] -= 1
	}
	return rho
}

// snapshotInto adds the Kronecker product of the local inverses to acc,
// a row-major 2^n×2^n buffer.
func snapshotInto(acc []complex128, outcomes []int8, bases []pauli.Basis) {
	n := len(outcomes)
	locals := make([][2][2]complex128, n)
	for q := range locals {
		locals[q] = localInverse(outcomes[q], bases[q])
	}
	dim := 1 << n
	for r := 0; r < dim; r++ {
		for c := 0; c < dim; c++ {
			v := complex(1, 0)
			for q := 0; q < n; q++ {
				shift := n - 1 - q
				v *= locals[q][(r>>shift)&1][(c>>shift)&1]
				if v == 0 {
					break
				}
			}
			acc[r*dim+c] += v
		}
	}
}

// Snapshot returns the single-snapshot estimate ⊗_q (3·U_q†|b_q><b_q|U_q − I).
func Snapshot(outcomes []int8, bases []pauli.Basis) *mat.CDense {
	dim := 1 << len(outcomes)
	acc := make([]complex128, dim*dim)
	snapshotInto(acc, outcomes, bases)
	return mat.NewCDense(dim, dim, acc)
}

// Reconstruct returns the shadow state estimate, the mean of all T snapshots.
//
// Expectations:
//   - The result is Hermitian with unit trace
//   - Returns an error for an empty shadow or more than MaxReconstructQubits qubits
func Reconstruct(sh Shadow) (*mat.CDense, error) {
	n, T := sh.NumQubits(), sh.Size()
	if T == 0 {
		return nil, fmt.Errorf("shadow: reconstruct: empty shadow")
	}
	if n > MaxReconstructQubits {
		return nil, fmt.Errorf("shadow: reconstruct: %d qubits exceeds limit %d", n, MaxReconstructQubits)
	}
	dim := 1 << n
	acc := make([]complex128, dim*dim)
	for t := 0; t < T; t++ {
		snapshotInto(acc, sh.Outcomes[t], sh.Bases[t])
	}
	inv := complex(1/float64(T), 0)
	for i := range acc {
		acc[i] *= inv
	}
	return mat.NewCDense(dim, dim, acc), nil
}

// Fidelity returns Re<psi|sigma|psi> for a normalized copy of psi. For a pure
// target this is the linear fidelity; it is unbiased in sigma, so its mean
// does not depend on T.
func Fidelity(sigma *mat.CDense, psi simulator.State) float64 {
	p := psi.Normalized()
	dim, _ := sigma.Dims()
	var acc complex128
	for i := 0; i < dim; i++ {
		if p[i] == 0 {
			continue
		}
		var row complex128
		for j := 0; j < dim; j++ {
			row += sigma.At(i, j) * p[j]
		}
		acc += cmplx.Conj(p[i]) * row
	}
	return real(acc)
}

// NormalizedFidelity returns <psi|sigma|psi> / ||sigma||_F. It equals 1 exactly
// when sigma = |psi><psi| and grows towards 1 as the snapshot noise averages out.
func NormalizedFidelity(sigma *mat.CDense, psi simulator.State) float64 {
	dim, _ := sigma.Dims()
	var fro float64
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			v := sigma.At(i, j)
			fro += real(v)*real(v) + imag(v)*imag(v)
		}
	}
	if fro == 0 {
		return 0
	}
	return Fidelity(sigma, psi) / math.Sqrt(fro)
}

// FidelityPoint summarizes repeated reconstructions at one shadow size.
type FidelityPoint struct {
	T              int     `json:"t"`
	MeanFidelity   float64 `json:"mean_fidelity"`
	VarFidelity    float64 `json:"var_fidelity"`
	MeanNormalized float64 `json:"mean_normalized"`
	VarNormalized  float64 `json:"var_normalized"`
}

// FidelityStudy reconstructs psi from `trials` independent shadows of each size
// in sizes and reports the fidelity mean and variance per size.
// Trial i at size T uses GenerateSeeded with seed+i·len(sizes)+index(T).
func FidelityStudy(ctx context.Context, dev simulator.Device, psi simulator.State, sizes []int, trials int, seed uint64) ([]FidelityPoint, error) {
	n := psi.NumQubits()
	if n < 1 {
		return nil, fmt.Errorf("shadow: fidelity study: state length %d is not a power of two", len(psi))
	}
	if trials < 2 {
		return nil, fmt.Errorf("shadow: fidelity study: need at least 2 trials, got %d", trials)
	}
	out := make([]FidelityPoint, 0, len(sizes))
	for si, T := range sizes {
		lin := make([]float64, trials)
		nrm := make([]float64, trials)
		for i := 0; i < trials; i++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			s := seed + uint64(i*len(sizes)+si)
			sh, err := GenerateSeeded(ctx, dev, psi, T, n, s, 1)
			if err != nil {
				return nil, err
			}
			sigma, err := Reconstruct(sh)
			if err != nil {
				return nil, err
			}
			lin[i] = Fidelity(sigma, psi)
			nrm[i] = NormalizedFidelity(sigma, psi)
		}
		mf, vf := stat.MeanVariance(lin, nil)
		mn, vn := stat.MeanVariance(nrm, nil)
		out = append(out, FidelityPoint{T: T, MeanFidelity: mf, VarFidelity: vf, MeanNormalized: mn, VarNormalized: vn})
	}
	return out, nil
}

// NewRand returns a PCG-backed generator for seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
