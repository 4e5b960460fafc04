// Package regression provides the two kernel regressors used in model
// selection, ε-insensitive support vector regression and kernel ridge
// regression, together with splitting, k-fold cross-validation and a pure
// best-candidate reduction.
package regression

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Model is a regressor over feature rows.
type Model interface {
	Fit(X *mat.Dense, y []float64) error
	Predict(X *mat.Dense) []float64
}

// Family names a regressor family.
type Family string

const (
	FamilySVR         Family = "svr"
	FamilyKernelRidge Family = "krr"
)

// Factory builds an unfitted model for regularization value C.
type Factory func(C float64) Model

// Factories returns the two families searched during model selection:
// SVR(C, ε=0.1) and KernelRidge(α=1/(2C)), both using kernel k.
func Factories(k Kernel) map[Family]Factory {
	return map[Family]Factory{
		FamilySVR:         func(C float64) Model { return &SVR{C: C, Epsilon: DefaultEpsilon, Kernel: k} },
		FamilyKernelRidge: func(C float64) Model { return &KernelRidge{Alpha: 1 / (2 * C), Kernel: k} },
	}
}

// ---------------------------------------------------------------------------
// Kernel ridge
// ---------------------------------------------------------------------------

// KernelRidge solves (K + αI)a = y and predicts f(x) = Σ a_i k(x_i, x).
// There is no intercept.
type KernelRidge struct {
	Alpha  float64
	Kernel Kernel

	train *mat.Dense
	dual  *mat.VecDense
}

// Fit factors K + αI with a Cholesky decomposition.
//
// Expectations:
//   - Returns an error when len(y) does not match the row count
//   - Returns an error when K + αI is not positive definite
func (m *KernelRidge) Fit(X *mat.Dense, y []float64) error {
	n, _ := X.Dims()
	if len(y) != n {
		return errors.Errorf("regression: krr: %d labels for %d rows", len(y), n)
	}
	K := Gram(m.Kernel, X, X)
	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := 0.5 * (K.At(i, j) + K.At(j, i))
			if i == j {
				v += m.Alpha
			}
			sym.SetSym(i, j, v)
		}
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(sym); !ok {
		return errors.Errorf("regression: krr: K+%gI is not positive definite", m.Alpha)
	}
	var a mat.VecDense
	if err := chol.SolveVecTo(&a, mat.NewVecDense(n, append([]float64(nil), y...))); err != nil {
		return errors.Wrap(err, "regression: krr: solve")
	}
	m.train = mat.DenseCopyOf(X)
	m.dual = &a
	return nil
}

// Predict returns K(X, train)·a.
func (m *KernelRidge) Predict(X *mat.Dense) []float64 {
	r, _ := X.Dims()
	out := make([]float64, r)
	if m.dual == nil {
		return out
	}
	var p mat.VecDense
	p.MulVec(Gram(m.Kernel, X, m.train), m.dual)
	for i := range out {
		out[i] = p.AtVec(i)
	}
	return out
}

// ---------------------------------------------------------------------------
// Support vector regression
// ---------------------------------------------------------------------------

// DefaultEpsilon is the width of the insensitive tube.
const DefaultEpsilon = 0.1

const (
	svrTol     = 1e-3
	svrMaxIter = 100000
	svrFreeEps = 1e-8
	svrCurvMin = 1e-12
)

// SVR is ε-insensitive support vector regression. The dual
//
//	min ½ βᵀKβ − yᵀβ + ε‖β‖₁   s.t.  Σβ = 0,  −C ≤ β_i ≤ C
//
// is solved by pairwise coordinate descent: each step moves weight t between
// the two most KKT-violating coefficients (β_i += t, β_j −= t), minimizing the
// piecewise-quadratic objective in t exactly. Predictions are Σ β_i k(x_i, x) + b.
type SVR struct {
	C       float64
	Epsilon float64
	Kernel  Kernel

	train *mat.Dense
	beta  []float64
	bias  float64
}

// Fit solves the dual and derives the bias from free support vectors.
//
// Expectations:
//   - Returns an error when len(y) does not match the row count or C <= 0
//   - All coefficients satisfy |β_i| <= C and Σβ_i = 0
//   - Labels entirely inside the ε-tube give β = 0 and bias at the label midrange
func (m *SVR) Fit(X *mat.Dense, y []float64) error {
	n, _ := X.Dims()
	if len(y) != n {
		return errors.Errorf("regression: svr: %d labels for %d rows", len(y), n)
	}
	if m.C <= 0 {
		return errors.Errorf("regression: svr: C must be positive, got %g", m.C)
	}
	K := Gram(m.Kernel, X, X)
	beta := make([]float64, n)
	grad := make([]float64, n) // (Kβ)_i − y_i
	for i := range grad {
		grad[i] = -y[i]
	}

	for iter := 0; iter < svrMaxIter; iter++ {
		i, j, gap := m.selectPair(beta, grad)
		if i < 0 || gap < svrTol {
			break
		}
		t := m.solvePair(K, beta, grad, i, j)
		if t == 0 {
			break
		}
		beta[i] += t
		beta[j] -= t
		for k := 0; k < n; k++ {
			grad[k] += t * (K.At(k, i) - K.At(k, j))
		}
	}

	m.train = mat.DenseCopyOf(X)
	m.beta = beta
	m.bias = m.computeBias(beta, grad, y)
	return nil
}

// subgrad returns the one-sided derivatives of ε|b| when b decreases (down)
// or increases (up).
func (m *SVR) subgrad(b float64) (down, up float64) {
	switch {
	case b > 0:
		return m.Epsilon, m.Epsilon
	case b < 0:
		return -m.Epsilon, -m.Epsilon
	}
	return -m.Epsilon, m.Epsilon
}

// selectPair picks i (best to increase) and j (best to decrease) by their
// directional derivatives; gap is the achievable first-order decrease.
func (m *SVR) selectPair(beta, grad []float64) (int, int, float64) {
	bi, bj := -1, -1
	minUp, maxDown := math.Inf(1), math.Inf(-1)
	for k, b := range beta {
		down, up := m.subgrad(b)
		if b < m.C-svrFreeEps {
			if d := grad[k] + up; d < minUp {
				minUp, bi = d, k
			}
		}
		if b > -m.C+svrFreeEps {
			if d := grad[k] + down; d > maxDown {
				maxDown, bj = d, k
			}
		}
	}
	if bi < 0 || bj < 0 || bi == bj {
		return -1, -1, 0
	}
	return bi, bj, maxDown - minUp
}

// solvePair minimizes φ(t) = ½η t² + (g_i − g_j) t + ε(|β_i+t| + |β_j−t|)
// over the box-feasible interval. φ is convex and piecewise quadratic with
// breakpoints at −β_i and β_j.
func (m *SVR) solvePair(K *mat.Dense, beta, grad []float64, i, j int) float64 {
	eta := K.At(i, i) + K.At(j, j) - 2*K.At(i, j)
	if eta < svrCurvMin {
		eta = svrCurvMin
	}
	g := grad[i] - grad[j]
	lo := math.Max(-m.C-beta[i], beta[j]-m.C)
	hi := math.Min(m.C-beta[i], beta[j]+m.C)
	if lo > hi {
		return 0
	}

	phi := func(t float64) float64 {
		return 0.5*eta*t*t + g*t + m.Epsilon*(math.Abs(beta[i]+t)+math.Abs(beta[j]-t))
	}
	cands := []float64{lo, hi}
	for _, bp := range []float64{-beta[i], beta[j]} {
		if bp > lo && bp < hi {
			cands = append(cands, bp)
		}
	}
	// Stationary point of each smooth piece: the sign pattern of the two
	// absolute values fixes the linear slope.
	for _, si := range []float64{-1, 1} {
		for _, sj := range []float64{-1, 1} {
			t := -(g + m.Epsilon*(si-sj)) / eta
			if t < lo || t > hi {
				continue
			}
			if sgn(beta[i]+t) != si && beta[i]+t != 0 {
				continue
			}
			if sgn(beta[j]-t) != sj && beta[j]-t != 0 {
				continue
			}
			cands = append(cands, t)
		}
	}
	best, bestVal := 0.0, phi(0)
	for _, t := range cands {
		if v := phi(t); v < bestVal-1e-15 {
			best, bestVal = t, v
		}
	}
	return best
}

func sgn(x float64) float64 {
	if x < 0 {
		return -1
	}
	return 1
}

// computeBias averages y_i − (Kβ)_i ∓ ε over free support vectors. Without
// free vectors it takes the midpoint of the feasible bias interval.
func (m *SVR) computeBias(beta, grad, y []float64) float64 {
	var sum float64
	free := 0
	lo, hi := math.Inf(-1), math.Inf(1)
	for k, b := range beta {
		f := grad[k] + y[k] // (Kβ)_k
		switch {
		case b > svrFreeEps && b < m.C-svrFreeEps:
			sum += y[k] - f - m.Epsilon
			free++
		case b < -svrFreeEps && b > -m.C+svrFreeEps:
			sum += y[k] - f + m.Epsilon
			free++
		}
		// KKT bounds on b from every point
		switch {
		case b >= m.C-svrFreeEps:
			hi = math.Min(hi, y[k]-f-m.Epsilon)
		case b <= -m.C+svrFreeEps:
			lo = math.Max(lo, y[k]-f+m.Epsilon)
		case math.Abs(b) <= svrFreeEps:
			lo = math.Max(lo, y[k]-f-m.Epsilon)
			hi = math.Min(hi, y[k]-f+m.Epsilon)
		}
	}
	if free > 0 {
		return sum / float64(free)
	}
	switch {
	case !math.IsInf(lo, 0) && !math.IsInf(hi, 0):
		return 0.5 * (lo + hi)
	case !math.IsInf(lo, 0):
		return lo
	case !math.IsInf(hi, 0):
		return hi
	}
	return 0
}

// Predict returns Σ β_i k(x_i, x) + b.
func (m *SVR) Predict(X *mat.Dense) []float64 {
	r, _ := X.Dims()
	out := make([]float64, r)
	if m.beta == nil {
		return out
	}
	G := Gram(m.Kernel, X, m.train)
	for i := range out {
		out[i] = floats.Dot(G.RawRowView(i), m.beta) + m.bias
	}
	return out
}

// SupportVectors returns the number of nonzero dual coefficients.
func (m *SVR) SupportVectors() int {
	n := 0
	for _, b := range m.beta {
		if math.Abs(b) > svrFreeEps {
			n++
		}
	}
	return n
}
