// Package kernel turns the coupling feature matrix into the three
// representations compared during model selection: a Gaussian (RBF) kernel,
// a truncated Dirichlet feature map and an infinite-width ReLU neural tangent
// kernel.
package kernel

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/matthewyakubiw/qml-main/internal/regression"
)

// Names of the three representations.
const (
	NameGaussian  = "gaussian"
	NameDirichlet = "dirichlet"
	NameNTK       = "ntk"
)

// Names lists the representations in reporting order.
var Names = []string{NameGaussian, NameDirichlet, NameNTK}

// NTKDepth is the number of hidden ReLU layers.
const NTKDepth = 4

// DirichletOrder bounds the frequencies k1 ∈ [−DirichletOrder, DirichletOrder].
const DirichletOrder = 3

// Representation is the matrix handed to a regressor and the kernel the
// regressor evaluates on its rows.
type Representation struct {
	Name   string
	Rows   *mat.Dense
	Kernel regression.Kernel
	Gamma  float64 // Gaussian only
}

// Build returns all three representations of X in Names order.
func Build(X mat.Matrix) []Representation {
	g, _ := Gaussian(X)
	return []Representation{g, Dirichlet(X), NTK(X, NTKDepth)}
}

// Gaussian keeps the features as rows and selects RBF(γ) with
// γ = N²/Σᵢⱼ‖xᵢ−xⱼ‖².
//
// Expectations:
//   - Identical rows (zero distance sum) give γ = 1
func Gaussian(X mat.Matrix) (Representation, float64) {
	gamma := gaussianGamma(X)
	return Representation{
		Name:   NameGaussian,
		Rows:   mat.DenseCopyOf(X),
		Kernel: regression.RBF{Gamma: gamma},
		Gamma:  gamma,
	}, gamma
}

func gaussianGamma(X mat.Matrix) float64 {
	n, d := X.Dims()
	var sum float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			for k := 0; k < d; k++ {
				v := X.At(i, k) - X.At(j, k)
				sum += v * v
			}
		}
	}
	if sum == 0 {
		return 1
	}
	return float64(n*n) / sum
}

// GaussianMatrix returns the N×N matrix exp(−γ‖xᵢ−xⱼ‖²).
func GaussianMatrix(X mat.Matrix, gamma float64) *mat.Dense {
	return regression.Gram(regression.RBF{Gamma: gamma}, X, X)
}

// Dirichlet maps every feature x[k] to the 2·DirichletOrder+1 cosines
// cos(π·k1·x[k]) and selects the linear kernel.
func Dirichlet(X mat.Matrix) Representation {
	n, d := X.Dims()
	width := 2*DirichletOrder + 1
	out := mat.NewDense(n, width*d, nil)
	for i := 0; i < n; i++ {
		row := out.RawRowView(i)
		for k := 0; k < d; k++ {
			x := X.At(i, k)
			for k1 := -DirichletOrder; k1 <= DirichletOrder; k1++ {
				row[width*k+k1+DirichletOrder] += math.Cos(math.Pi * float64(k1) * x)
			}
		}
	}
	return Representation{Name: NameDirichlet, Rows: out, Kernel: regression.Linear{}}
}

// NTK returns the N×N neural tangent kernel of an infinitely wide fully
// connected network with depth ReLU layers (W_std=1, b_std=0), cosine
// normalized, and selects the linear kernel on its rows.
func NTK(X mat.Matrix, depth int) Representation {
	return Representation{Name: NameNTK, Rows: NTKMatrix(X, depth), Kernel: regression.Linear{}}
}

// NTKMatrix computes the kernel by the layerwise recursion
//
//	Σ⁰ = x·x'/d,  Θ⁰ = Σ⁰
//	Σˡ = (1/2π)·√(Σˡ⁻¹(x,x)Σˡ⁻¹(x',x'))·(sin θ + (π−θ)cos θ)
//	Σ̇ˡ = (π−θ)/(2π)
//	Θˡ = Σˡ + Θˡ⁻¹·Σ̇ˡ
//
// where θ is the angle implied by Σˡ⁻¹. Rows with zero norm stay zero.
//
// Expectations:
//   - Result is symmetric with unit diagonal for nonzero rows
//   - Entries lie in [−1, 1]
func NTKMatrix(X mat.Matrix, depth int) *mat.Dense {
	n, d := X.Dims()
	sigma := mat.NewDense(n, n, nil)
	sigma.Mul(X, X.T())
	sigma.Scale(1/float64(max(d, 1)), sigma)
	theta := mat.DenseCopyOf(sigma)

	diag := make([]float64, n)
	for l := 0; l < depth; l++ {
		for i := range diag {
			diag[i] = sigma.At(i, i)
		}
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				norm := math.Sqrt(diag[i] * diag[j])
				if norm == 0 {
					sigma.Set(i, j, 0)
					theta.Set(i, j, 0)
					continue
				}
				cos := math.Max(-1, math.Min(1, sigma.At(i, j)/norm))
				ang := math.Acos(cos)
				s := norm / (2 * math.Pi) * (math.Sin(ang) + (math.Pi-ang)*cos)
				dot := (math.Pi - ang) / (2 * math.Pi)
				theta.Set(i, j, s+theta.At(i, j)*dot)
				sigma.Set(i, j, s)
			}
		}
	}
	return cosineNormalize(theta)
}

func cosineNormalize(K *mat.Dense) *mat.Dense {
	n, _ := K.Dims()
	out := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			den := math.Sqrt(K.At(i, i) * K.At(j, j))
			if den == 0 {
				continue
			}
			out.Set(i, j, K.At(i, j)/den)
		}
	}
	return out
}

// NormalizeRows returns a copy of M with every nonzero row scaled to unit L2
// norm. Regression applies it again to whatever representation it receives.
func NormalizeRows(M mat.Matrix) *mat.Dense { return regression.NormalizeRows(M) }
