// Package correlation computes the two-body spin correlation matrix
//
//	C_ij = <X_i X_j + Y_i Y_j + Z_i Z_j> / 3,   C_ii = 1
//
// either exactly from a state vector or from a classical shadow.
package correlation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/matthewyakubiw/qml-main/internal/pauli"
	"github.com/matthewyakubiw/qml-main/internal/shadow"
	"github.com/matthewyakubiw/qml-main/internal/simulator"
)

// Operator returns the three Pauli strings averaged in C_ij: XiXj, YiYj, ZiZj,
// or three identities when i == j.
func Operator(i, j int) []pauli.Observable {
	if i == j {
		return []pauli.Observable{pauli.Identity(), pauli.Identity(), pauli.Identity()}
	}
	return []pauli.Observable{pauli.Pair(i, j, pauli.X), pauli.Pair(i, j, pauli.Y), pauli.Pair(i, j, pauli.Z)}
}

// NumObservables returns M, the number of observables queried from one shadow
// when estimating the full n×n matrix (three per ordered pair, identities included).
func NumObservables(n int) int { return 3 * n * n }

// Exact returns the exact correlation matrix of psi on n qubits.
// Only the upper triangle is evaluated; SymDense mirrors it.
//
// Expectations:
//   - Symmetric with diagonal exactly 1.0
//   - Off-diagonal C_ij is the mean of <XX>, <YY>, <ZZ> on qubits i, j
func Exact(dev simulator.Device, psi simulator.State, n int) *mat.SymDense {
	c := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		c.SetSym(i, i, 1)
		for j := i + 1; j < n; j++ {
			var sum float64
			for _, o := range Operator(i, j) {
				sum += dev.Expval(psi, o)
			}
			c.SetSym(i, j, sum/3)
		}
	}
	return c
}

// Estimate returns the shadow-estimated correlation matrix using k
// median-of-means groups per observable.
//
// Expectations:
//   - Symmetric with diagonal exactly 1.0
//   - Off-diagonal C_ij is the mean of the three median-of-means estimates
func Estimate(sh shadow.Shadow, k int) *mat.SymDense {
	n := sh.NumQubits()
	c := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		c.SetSym(i, i, 1)
		for j := i + 1; j < n; j++ {
			var sum float64
			for _, o := range Operator(i, j) {
				sum += shadow.Estimate(sh, o, k)
			}
			c.SetSym(i, j, sum/3)
		}
	}
	return c
}

// Flatten returns the matrix in row-major order, n² entries.
func Flatten(c mat.Symmetric) []float64 {
	n := c.SymmetricDim()
	out := make([]float64, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out = append(out, c.At(i, j))
		}
	}
	return out
}

// Unflatten rebuilds a square matrix from n² row-major entries.
func Unflatten(v []float64) (*mat.Dense, error) {
	n := int(math.Round(math.Sqrt(float64(len(v)))))
	if n*n != len(v) {
		return nil, fmt.Errorf("correlation: %d entries is not a square", len(v))
	}
	return mat.NewDense(n, n, append([]float64(nil), v...)), nil
}

// Entry maps a flat index to its (i, j) pair on n qubits.
func Entry(idx, n int) (i, j int) { return idx / n, idx % n }

// Check verifies symmetry and the unit diagonal of a flattened correlation
// vector, within tol.
func Check(v []float64, tol float64) error {
	m, err := Unflatten(v)
	if err != nil {
		return err
	}
	n, _ := m.Dims()
	for i := 0; i < n; i++ {
		if d := m.At(i, i); math.Abs(d-1) > tol {
			return fmt.Errorf("correlation: diagonal (%d,%d) = %g, want 1", i, i, d)
		}
		for j := i + 1; j < n; j++ {
			if math.Abs(m.At(i, j)-m.At(j, i)) > tol {
				return fmt.Errorf("correlation: asymmetric at (%d,%d): %g vs %g", i, j, m.At(i, j), m.At(j, i))
			}
		}
	}
	return nil
}
