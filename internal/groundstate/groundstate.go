// Package groundstate finds the lowest-energy eigenvector of a Hamiltonian by
// exact diagonalization.
package groundstate

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/matthewyakubiw/qml-main/internal/hamiltonian"
	"github.com/matthewyakubiw/qml-main/internal/simulator"
)

// Result describes how a ground state was obtained.
type Result struct {
	Energy   float64 `json:"energy"`
	Fallback bool    `json:"fallback"` // true when the Hamiltonian had no terms and the solver was skipped
}

// Solve returns the normalized eigenvector of the smallest eigenvalue of h.
//
// Expectations:
//   - An empty Hamiltonian returns the all-zero amplitude vector with Fallback=true
//     and never invokes the eigensolver
//   - A real Hamiltonian is diagonalized directly
//   - A Hamiltonian with an imaginary part is diagonalized through the real
//     embedding [[A,-B],[B,A]], whose spectrum is that of H doubled
//   - The returned state has unit norm
func Solve(h hamiltonian.Hamiltonian) (simulator.State, Result, error) {
	dim := 1 << h.NumQubits()
	if h.Len() == 0 {
		return make(simulator.State, dim), Result{Fallback: true}, nil
	}
	re, im, err := h.Dense()
	if err != nil {
		return nil, Result{}, errors.Wrap(err, "groundstate: materialize")
	}

	var sym *mat.SymDense
	complexH := mat.Norm(im, 1) != 0
	if complexH {
		sym = embed(re, im)
	} else {
		sym = symmetrize(re)
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(sym, true); !ok {
		return nil, Result{}, errors.Errorf("groundstate: eigendecomposition of %dx%d matrix failed", dim, dim)
	}
	values := eig.Values(nil)
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	k := floats.MinIdx(values)
	psi := make(simulator.State, dim)
	for i := 0; i < dim; i++ {
		if complexH {
			psi[i] = complex(vecs.At(i, k), vecs.At(dim+i, k))
		} else {
			psi[i] = complex(vecs.At(i, k), 0)
		}
	}
	return psi.Normalized(), Result{Energy: values[k]}, nil
}

func symmetrize(a *mat.Dense) *mat.SymDense {
	n, _ := a.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
	}
	return s
}

// embed returns the 2n×2n real symmetric matrix [[A,-B],[B,A]] for H = A+iB.
// An eigenvector (u, v) of the embedding yields the eigenvector u+iv of H.
func embed(a, b *mat.Dense) *mat.SymDense {
	n, _ := a.Dims()
	s := mat.NewSymDense(2*n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			av := 0.5 * (a.At(i, j) + a.At(j, i))
			s.SetSym(i, j, av)
			s.SetSym(n+i, n+j, av)
		}
		for j := 0; j < n; j++ {
			// lower-left block B; SetSym mirrors it into the upper-right as B^T = -B
			s.SetSym(n+i, j, b.At(i, j))
		}
	}
	return s
}
