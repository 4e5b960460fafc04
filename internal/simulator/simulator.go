// Package simulator is a dense state-vector device. It answers exact
// expectation values and single-shot randomized Pauli measurements for a
// prepared state, and keeps no state between calls.
package simulator

import (
	"fmt"
	"math"
	"math/cmplx"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"

	"github.com/matthewyakubiw/qml-main/internal/pauli"
)

// State is a 2^n amplitude vector. Qubit 0 is the most significant bit of the index.
type State []complex128

// NumQubits returns log2(len(s)), or -1 when len(s) is not a power of two.
func (s State) NumQubits() int {
	n := 0
	for 1<<n < len(s) {
		n++
	}
	if 1<<n != len(s) {
		return -1
	}
	return n
}

// Norm returns the Euclidean norm of the amplitudes.
func (s State) Norm() float64 {
	var sum float64
	for _, a := range s {
		sum += real(a)*real(a) + imag(a)*imag(a)
	}
	return math.Sqrt(sum)
}

// Normalized returns a unit-norm copy. The zero vector is returned unchanged.
func (s State) Normalized() State {
	out := append(State(nil), s...)
	nrm := s.Norm()
	if nrm == 0 {
		return out
	}
	inv := complex(1/nrm, 0)
	for i := range out {
		out[i] *= inv
	}
	return out
}

// Basis returns the computational basis state |idx> on n qubits.
func Basis(n, idx int) State {
	s := make(State, 1<<n)
	s[idx] = 1
	return s
}

// Device is the measurement and expectation collaborator.
type Device interface {
	// Expval returns <psi|O|psi> for a normalized copy of psi.
	Expval(psi State, obs pauli.Observable) float64
	// Measure performs one projective measurement of every qubit in the given
	// per-qubit bases and returns ±1 outcomes (+1 for bit 0).
	Measure(psi State, bases []pauli.Basis, rng *rand.Rand) []int8
}

// StateVector is the default Device. The zero value is ready to use.
type StateVector struct{}

var _ Device = StateVector{}

// Expval computes <psi|O|psi> by applying O as a signed permutation.
//
// Expectations:
//   - Identity returns 1 for any nonzero state
//   - Returns 0 for the all-zero vector
//   - Normalizes psi first, matching a device that loads an unnormalized vector
func (StateVector) Expval(psi State, obs pauli.Observable) float64 {
	nrm := psi.Norm()
	if nrm == 0 {
		return 0
	}
	if obs.Kind() == pauli.KindIdentity {
		return 1
	}
	n := psi.NumQubits()
	var acc complex128
	for idx, amp := range psi {
		if amp == 0 {
			continue
		}
		out, ph := obs.Apply(idx, n)
		acc += cmplx.Conj(psi[out]) * ph * amp
	}
	return real(acc) / (nrm * nrm)
}

var invSqrt2 = complex(1/math.Sqrt2, 0)

// rotation returns the single-qubit unitary that maps the eigenbasis of b onto
// the computational basis: H for X, H·S† for Y, I for Z.
func rotation(b pauli.Basis) [2][2]complex128 {
	switch b {
	case pauli.X:
		return [2][2]complex128{{invSqrt2, invSqrt2}, {invSqrt2, -invSqrt2}}
	case pauli.Y:
		return [2][2]complex128{{invSqrt2, -1i * invSqrt2}, {invSqrt2, 1i * invSqrt2}}
	}
	return [2][2]complex128{{1, 0}, {0, 1}}
}

// Rotation exposes the basis-change unitary used by Measure.
func Rotation(b pauli.Basis) [2][2]complex128 { return rotation(b) }

// Rotate returns U_{b_0} ⊗ ... ⊗ U_{b_{n-1}} |psi>.
func Rotate(psi State, bases []pauli.Basis) State {
	n := len(bases)
	out := append(State(nil), psi...)
	for q, b := range bases {
		if b == pauli.Z {
			continue
		}
		u := rotation(b)
		mask := 1 << (n - 1 - q)
		for i := range out {
			if i&mask != 0 {
				continue
			}
			j := i | mask
			a0, a1 := out[i], out[j]
			out[i] = u[0][0]*a0 + u[0][1]*a1
			out[j] = u[1][0]*a0 + u[1][1]*a1
		}
	}
	return out
}

// Measure samples one computational-basis outcome after rotating each qubit
// into its requested basis. A zero vector measures as |0...0>.
//
// Expectations:
//   - Returns len(bases) outcomes, each +1 or -1
//   - Panics when len(psi) != 2^len(bases)
//   - A Z-basis measurement of |0...0> always returns all +1
func (StateVector) Measure(psi State, bases []pauli.Basis, rng *rand.Rand) []int8 {
	n := len(bases)
	if len(psi) != 1<<n {
		panic(fmt.Sprintf("simulator: state of length %d measured on %d qubits", len(psi), n))
	}
	rot := Rotate(psi, bases)
	probs := make([]float64, len(rot))
	for i, a := range rot {
		probs[i] = real(a)*real(a) + imag(a)*imag(a)
	}
	total := floats.Sum(probs)
	idx := 0
	if total > 0 {
		r := rng.Float64() * total
		idx = len(probs) - 1
		var cum float64
		for i, p := range probs {
			cum += p
			if r < cum {
				idx = i
				break
			}
		}
	}
	out := make([]int8, n)
	for q := 0; q < n; q++ {
		if idx&(1<<(n-1-q)) != 0 {
			out[q] = -1
		} else {
			out[q] = 1
		}
	}
	return out
}
