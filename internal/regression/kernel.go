package regression

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Kernel evaluates k(a, b) between two feature rows.
type Kernel interface {
	Eval(a, b []float64) float64
	String() string
}

// Linear is k(a, b) = a·b. Used when rows already hold a precomputed kernel
// or an explicit feature map.
type Linear struct{}

func (Linear) Eval(a, b []float64) float64 { return floats.Dot(a, b) }
func (Linear) String() string                { return "linear" }

// RBF is k(a, b) = exp(-Gamma·||a-b||²).
type RBF struct{ Gamma float64 }

func (k RBF) Eval(a, b []float64) float64 {
	var d2 float64
	for i := range a {
		d := a[i] - b[i]
		d2 += d * d
	}
	return math.Exp(-k.Gamma * d2)
}

func (k RBF) String() string { return fmt.Sprintf("rbf(γ=%.4g)", k.Gamma) }

// Gram returns K[i][j] = k(A_i, B_j).
func Gram(k Kernel, A, B mat.Matrix) *mat.Dense {
	ra, _ := A.Dims()
	rb, _ := B.Dims()
	rowsA := rowsOf(A)
	rowsB := rowsOf(B)
	out := mat.NewDense(ra, rb, nil)
	for i := 0; i < ra; i++ {
		for j := 0; j < rb; j++ {
			out.Set(i, j, k.Eval(rowsA[i], rowsB[j]))
		}
	}
	return out
}

func rowsOf(m mat.Matrix) [][]float64 {
	r, c := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = mat.Row(make([]float64, c), i, m)
	}
	return out
}
