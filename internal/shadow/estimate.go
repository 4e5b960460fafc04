package shadow

import (
	"math"
	"sort"

	"github.com/matthewyakubiw/qml-main/internal/pauli"
)

// GroupCount returns the median-of-means group count K = ceil(2·ln(2M/δ))
// needed to estimate M observables simultaneously with failure probability δ.
//
// Expectations:
//   - GroupCount(48, 1) == 10
//   - Never returns less than 1
//   - Non-positive m or δ outside (0, 1] is treated as m=1, δ=1
func GroupCount(m int, delta float64) int {
	if m < 1 {
		m = 1
	}
	if delta <= 0 || delta > 1 {
		delta = 1
	}
	k := int(math.Ceil(2 * math.Log(2*float64(m)/delta)))
	return max(k, 1)
}

// Estimate returns the median-of-means estimate of obs from sh using k groups.
//
// The T snapshots are split into k contiguous groups of floor(T/k) snapshots;
// trailing snapshots are dropped. Within a group, only snapshots whose bases
// match obs on every targeted qubit contribute, each with the product of its
// outcomes on those qubits. A group with no matching snapshot contributes 0.
// The result is the median of the k group means.
//
// Expectations:
//   - Identity returns 1
//   - Returns 1 for Z0 when every snapshot measured Z on qubit 0 with outcome +1, for any k
//   - A group without matching snapshots contributes 0, not an error
//   - k is clamped to [1, T]
//   - Panics when obs targets a qubit beyond the shadow width
func Estimate(sh Shadow, obs pauli.Observable, k int) float64 {
	if obs.Kind() == pauli.KindIdentity {
		return 1
	}
	if q := obs.MaxQubit(); q >= sh.NumQubits() {
		panic("shadow: observable " + obs.String() + " exceeds shadow width")
	}
	return median(GroupMeans(sh, obs, k))
}

// GroupMeans returns the per-group means used by Estimate.
func GroupMeans(sh Shadow, obs pauli.Observable, k int) []float64 {
	T := sh.Size()
	if T == 0 {
		return nil
	}
	k = min(max(k, 1), T)
	size := T / k
	factors := obs.Factors()

	means := make([]float64, k)
	for g := 0; g < k; g++ {
		var sum float64
		matched := 0
		for t := g * size; t < (g+1)*size; t++ {
			prod, ok := snapshotProduct(sh, t, factors)
			if !ok {
				continue
			}
			sum += prod
			matched++
		}
		if matched > 0 {
			means[g] = sum / float64(matched)
		}
	}
	return means
}

func snapshotProduct(sh Shadow, t int, factors []pauli.Factor) (float64, bool) {
	prod := 1.0
	for _, f := range factors {
		if sh.Bases[t][f.Qubit] != f.Basis {
			return 0, false
		}
		prod *= float64(sh.Outcomes[t][f.Qubit])
	}
	return prod, true
}

// median averages the two middle values for an even count.
func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 1 {
		return s[mid]
	}
	return 0.5 * (s[mid-1] + s[mid])
}
