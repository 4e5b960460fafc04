// Package lattice generates random coupling matrices for a rows×cols spin grid
// with nearest-neighbour interactions.
//
// Sites are indexed row-major: idx = row*cols + col. The edge enumeration order
// returned by Edges is the contract shared by the generator and every consumer
// that flattens couplings into feature vectors.
package lattice

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultSeed reproduces the reference coupling draws.
const DefaultSeed uint64 = 24

// MaxCoupling is the upper bound of the uniform coupling distribution U[0, MaxCoupling].
const MaxCoupling = 2.0

// Edge is an unordered lattice bond, stored with I < J.
type Edge struct {
	I int `json:"i"`
	J int `json:"j"`
}

// CouplingMatrix is a symmetric Ns×Ns matrix with zero diagonal whose nonzero
// entries sit on lattice edges.
type CouplingMatrix struct {
	Rows, Cols int
	J          *mat.SymDense
}

// NumSpins returns rows*cols.
func (c CouplingMatrix) NumSpins() int { return c.Rows * c.Cols }

// At returns J_ij.
func (c CouplingMatrix) At(i, j int) float64 { return c.J.At(i, j) }

// Adjacent reports whether sites i and j share a lattice edge.
// Horizontal neighbours must not wrap across a row boundary.
func Adjacent(i, j, cols int) bool {
	if i > j {
		i, j = j, i
	}
	return (j%cols != 0 && j-i == 1) || j-i == cols
}

// EdgeCount returns the number of nearest-neighbour bonds on a rows×cols grid.
func EdgeCount(rows, cols int) int {
	return 2*rows*cols - rows - cols
}

// Edges returns every lattice bond in increasing (i, j) order.
//
// Expectations:
//   - len(Edges(r, c)) == EdgeCount(r, c)
//   - Every edge has I < J and satisfies Adjacent
//   - Repeated calls return identical slices
func Edges(rows, cols int) []Edge {
	n := rows * cols
	edges := make([]Edge, 0, EdgeCount(rows, cols))
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if Adjacent(i, j, cols) {
				edges = append(edges, Edge{I: i, J: j})
			}
		}
	}
	return edges
}

// Generate draws count coupling matrices for a rows×cols lattice.
// All draws come from one PCG stream seeded with seed, taken matrix by matrix
// and edge by edge in Edges order, so identical arguments give bit-identical output.
//
// Expectations:
//   - Returns count matrices of size (rows*cols)×(rows*cols)
//   - Each matrix is symmetric with zero diagonal
//   - Exactly EdgeCount(rows, cols) upper-triangle entries are set, all in [0, 2)
//   - Returns an error when rows or cols is below 1 or count is negative
func Generate(count, rows, cols int, seed uint64) ([]CouplingMatrix, error) {
	if rows < 1 || cols < 1 {
		return nil, fmt.Errorf("lattice: invalid grid %dx%d", rows, cols)
	}
	if count < 0 {
		return nil, fmt.Errorf("lattice: negative matrix count %d", count)
	}
	dist := distuv.Uniform{Min: 0, Max: MaxCoupling, Src: rand.NewPCG(seed, seed)}
	edges := Edges(rows, cols)
	n := rows * cols

	mats := make([]CouplingMatrix, count)
	for m := range mats {
		j := mat.NewSymDense(n, nil)
		for _, e := range edges {
			j.SetSym(e.I, e.J, dist.Rand())
		}
		mats[m] = CouplingMatrix{Rows: rows, Cols: cols, J: j}
	}
	return mats, nil
}

// FromValues builds a coupling matrix from explicit edge values in Edges order.
func FromValues(rows, cols int, values []float64) (CouplingMatrix, error) {
	edges := Edges(rows, cols)
	if len(values) != len(edges) {
		return CouplingMatrix{}, fmt.Errorf("lattice: got %d values for %d edges", len(values), len(edges))
	}
	j := mat.NewSymDense(rows*cols, nil)
	for k, e := range edges {
		j.SetSym(e.I, e.J, values[k])
	}
	return CouplingMatrix{Rows: rows, Cols: cols, J: j}, nil
}

// EdgeValues returns the coupling on each edge in Edges order, zeros included.
func (c CouplingMatrix) EdgeValues() []float64 {
	edges := Edges(c.Rows, c.Cols)
	out := make([]float64, len(edges))
	for k, e := range edges {
		out[k] = c.J.At(e.I, e.J)
	}
	return out
}
