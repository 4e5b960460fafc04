// Package pauli models single-qubit Pauli bases and tensor-product observables.
//
// Observable is a tagged variant resolved at construction time: an identity,
// a single Pauli on one qubit, or a product of Paulis on distinct qubits.
// Consumers switch on Kind() instead of inspecting concrete types.
package pauli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Basis is a single-qubit Pauli measurement basis. The numeric values are the
// basis labels recorded in a classical shadow.
type Basis uint8

const (
	X Basis = 0
	Y Basis = 1
	Z Basis = 2
)

// NumBases is the size of the random measurement ensemble {X, Y, Z}.
const NumBases = 3

func (b Basis) String() string {
	switch b {
	case X:
		return "X"
	case Y:
		return "Y"
	case Z:
		return "Z"
	}
	return "?" + strconv.Itoa(int(b))
}

// Valid reports whether b is one of X, Y, Z.
func (b Basis) Valid() bool { return b <= Z }

// Factor is one Pauli acting on one qubit.
type Factor struct {
	Qubit int   `json:"qubit"`
	Basis Basis `json:"basis"`
}

// Kind tags the variant held by an Observable.
type Kind uint8

const (
	KindIdentity Kind = iota
	KindSingle
	KindProduct
)

// Observable is an immutable tensor product of Pauli operators.
type Observable struct {
	kind    Kind
	factors []Factor
}

// Identity returns the identity observable. Its expectation is 1 for every state.
func Identity() Observable { return Observable{kind: KindIdentity} }

// Single returns the observable P_q for basis p on qubit q.
func Single(q int, p Basis) Observable {
	return Observable{kind: KindSingle, factors: []Factor{{Qubit: q, Basis: p}}}
}

// Product returns the tensor product of the given factors, sorted by qubit.
// A product of one factor collapses to Single; an empty product is Identity.
//
// Expectations:
//   - Panics when two factors target the same qubit
//   - Factors are sorted by ascending qubit index
//   - Does not alias the caller's slice
func Product(fs ...Factor) Observable {
	switch len(fs) {
	case 0:
		return Identity()
	case 1:
		return Single(fs[0].Qubit, fs[0].Basis)
	}
	cp := append([]Factor(nil), fs...)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Qubit < cp[j].Qubit })
	for i := 1; i < len(cp); i++ {
		if cp[i].Qubit == cp[i-1].Qubit {
			panic(fmt.Sprintf("pauli: qubit %d appears twice in product", cp[i].Qubit))
		}
	}
	return Observable{kind: KindProduct, factors: cp}
}

// Pair is shorthand for the two-local term P_i P_j.
func Pair(i, j int, p Basis) Observable {
	return Product(Factor{Qubit: i, Basis: p}, Factor{Qubit: j, Basis: p})
}

// Kind returns the variant tag.
func (o Observable) Kind() Kind { return o.kind }

// Factors returns a copy of the non-identity factors in qubit order.
func (o Observable) Factors() []Factor { return append([]Factor(nil), o.factors...) }

// Qubits returns the targeted qubit indices in ascending order.
func (o Observable) Qubits() []int {
	qs := make([]int, len(o.factors))
	for i, f := range o.factors {
		qs[i] = f.Qubit
	}
	return qs
}

// MaxQubit returns the highest targeted qubit, or -1 for the identity.
func (o Observable) MaxQubit() int {
	if len(o.factors) == 0 {
		return -1
	}
	return o.factors[len(o.factors)-1].Qubit
}

func (o Observable) String() string {
	if o.kind == KindIdentity {
		return "I"
	}
	parts := make([]string, len(o.factors))
	for i, f := range o.factors {
		parts[i] = f.Basis.String() + strconv.Itoa(f.Qubit)
	}
	return strings.Join(parts, " ")
}

// Parse reads an observable from text such as "X0 Z2", "Y1" or "I".
// Tokens are separated by whitespace or "@".
//
// Expectations:
//   - "I" and the empty string parse to Identity
//   - "X0 Z2" parses to a two-factor product
//   - Lower-case basis letters are accepted
//   - Returns an error for an unknown basis letter or a missing qubit index
//   - Returns an error when a qubit repeats
func Parse(s string) (Observable, error) {
	s = strings.ReplaceAll(s, "@", " ")
	fields := strings.Fields(s)
	if len(fields) == 0 || (len(fields) == 1 && strings.EqualFold(fields[0], "I")) {
		return Identity(), nil
	}
	seen := make(map[int]bool, len(fields))
	fs := make([]Factor, 0, len(fields))
	for _, tok := range fields {
		if len(tok) < 2 {
			return Observable{}, fmt.Errorf("pauli: parse %q: token %q needs a basis and a qubit", s, tok)
		}
		var b Basis
		switch strings.ToUpper(tok[:1]) {
		case "X":
			b = X
		case "Y":
			b = Y
		case "Z":
			b = Z
		default:
			return Observable{}, fmt.Errorf("pauli: parse %q: unknown basis %q", s, tok[:1])
		}
		q, err := strconv.Atoi(tok[1:])
		if err != nil || q < 0 {
			return Observable{}, fmt.Errorf("pauli: parse %q: bad qubit index %q", s, tok[1:])
		}
		if seen[q] {
			return Observable{}, fmt.Errorf("pauli: parse %q: qubit %d repeated", s, q)
		}
		seen[q] = true
		fs = append(fs, Factor{Qubit: q, Basis: b})
	}
	return Product(fs...), nil
}

// Apply returns the image of computational basis state idx under o on n qubits:
// o|idx> = phase·|out>. Qubit 0 is the most significant bit of idx.
func (o Observable) Apply(idx, n int) (out int, phase complex128) {
	out, phase = idx, 1
	for _, f := range o.factors {
		mask := 1 << (n - 1 - f.Qubit)
		bit := idx&mask != 0
		switch f.Basis {
		case X:
			out ^= mask
		case Y:
			out ^= mask
			// Y|0> = i|1>, Y|1> = -i|0>
			if bit {
				phase *= -1i
			} else {
				phase *= 1i
			}
		case Z:
			if bit {
				phase = -phase
			}
		}
	}
	return out, phase
}
