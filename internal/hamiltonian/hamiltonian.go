// Package hamiltonian builds the 2D Heisenberg Hamiltonian
//
//	H = Σ_{i<j} J_ij (X_i X_j + Y_i Y_j + Z_i Z_j)
//
// from a coupling matrix, and materializes it as a dense matrix for exact
// diagonalization.
package hamiltonian

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/matthewyakubiw/qml-main/internal/lattice"
	"github.com/matthewyakubiw/qml-main/internal/pauli"
)

// MaxQubits bounds dense materialization; 2^12 amplitudes already need a 4096² matrix.
const MaxQubits = 12

// Hamiltonian is an immutable weighted sum of Pauli strings.
type Hamiltonian struct {
	n      int
	coeffs []float64
	terms  []pauli.Observable
}

// Build expands every nonzero upper-triangle coupling into XX, YY, ZZ terms
// sharing the coupling's coefficient.
//
// Expectations:
//   - Emits exactly 3 terms per nonzero J_ij with i<j, ordered XX, YY, ZZ
//   - Emits nothing for zero couplings, so an all-zero matrix yields Len()==0
//   - NumQubits equals the coupling matrix dimension
func Build(c lattice.CouplingMatrix) Hamiltonian {
	n := c.NumSpins()
	h := Hamiltonian{n: n}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			coeff := c.At(i, j)
			if coeff == 0 {
				continue
			}
			for _, p := range []pauli.Basis{pauli.X, pauli.Y, pauli.Z} {
				h.coeffs = append(h.coeffs, coeff)
				h.terms = append(h.terms, pauli.Pair(i, j, p))
			}
		}
	}
	return h
}

// New builds a Hamiltonian from explicit terms. coeffs and terms must be parallel.
func New(n int, coeffs []float64, terms []pauli.Observable) (Hamiltonian, error) {
	if len(coeffs) != len(terms) {
		return Hamiltonian{}, fmt.Errorf("hamiltonian: %d coefficients for %d terms", len(coeffs), len(terms))
	}
	for _, t := range terms {
		if t.MaxQubit() >= n {
			return Hamiltonian{}, fmt.Errorf("hamiltonian: term %s exceeds %d qubits", t, n)
		}
	}
	return Hamiltonian{
		n:      n,
		coeffs: append([]float64(nil), coeffs...),
		terms:  append([]pauli.Observable(nil), terms...),
	}, nil
}

// NumQubits returns the number of qubits the Hamiltonian acts on.
func (h Hamiltonian) NumQubits() int { return h.n }

// Len returns the number of Pauli terms.
func (h Hamiltonian) Len() int { return len(h.terms) }

// Coeff returns the coefficient of term k.
func (h Hamiltonian) Coeff(k int) float64 { return h.coeffs[k] }

// Term returns Pauli string k.
func (h Hamiltonian) Term(k int) pauli.Observable { return h.terms[k] }

// Dense returns H = A + iB as its real part A and imaginary part B, both
// 2^n×2^n. Column idx of each term is P|idx> = phase·|out>.
func (h Hamiltonian) Dense() (re, im *mat.Dense, err error) {
	if h.n > MaxQubits {
		return nil, nil, fmt.Errorf("hamiltonian: %d qubits exceeds dense limit %d", h.n, MaxQubits)
	}
	dim := 1 << h.n
	re = mat.NewDense(dim, dim, nil)
	im = mat.NewDense(dim, dim, nil)
	for k, term := range h.terms {
		c := h.coeffs[k]
		for idx := 0; idx < dim; idx++ {
			out, ph := term.Apply(idx, h.n)
			re.Set(out, idx, re.At(out, idx)+c*real(ph))
			im.Set(out, idx, im.At(out, idx)+c*imag(ph))
		}
	}
	return re, im, nil
}

func (h Hamiltonian) String() string {
	if len(h.terms) == 0 {
		return "0"
	}
	var sb strings.Builder
	for k, t := range h.terms {
		if k > 0 {
			sb.WriteString(" + ")
		}
		fmt.Fprintf(&sb, "(%.4g) [%s]", h.coeffs[k], t)
	}
	return sb.String()
}
