// Package shadow implements classical shadows: randomized single-qubit Pauli
// snapshots of a state, their inversion into an unbiased density-matrix
// estimate, and median-of-means estimation of Pauli observables.
//
// Design constraints:
//   - Functions are pure given their inputs; randomness comes only from the
//     *rand.Rand or seed passed by the caller.
//   - Parallel generation derives one PCG stream per round, so the output does
//     not depend on the worker count.
package shadow

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/sourcegraph/conc/pool"

	"github.com/matthewyakubiw/qml-main/internal/pauli"
	"github.com/matthewyakubiw/qml-main/internal/simulator"
)

// Shadow is an ordered collection of T snapshots of one state.
// Outcomes[t][q] is ±1 and Bases[t][q] is the basis qubit q was measured in.
type Shadow struct {
	Outcomes [][]int8        `json:"outcomes"`
	Bases    [][]pauli.Basis `json:"bases"`
}

// Size returns the number of snapshots T.
func (s Shadow) Size() int { return len(s.Outcomes) }

// NumQubits returns n, or 0 for an empty shadow.
func (s Shadow) NumQubits() int {
	if len(s.Outcomes) == 0 {
		return 0
	}
	return len(s.Outcomes[0])
}

// Validate checks shapes and value domains.
//
// Expectations:
//   - Outcomes and Bases are both T×n
//   - Every outcome is +1 or -1
//   - Every basis label is 0, 1 or 2
func (s Shadow) Validate() error {
	if len(s.Outcomes) != len(s.Bases) {
		return fmt.Errorf("shadow: %d outcome rows but %d basis rows", len(s.Outcomes), len(s.Bases))
	}
	n := s.NumQubits()
	for t := range s.Outcomes {
		if len(s.Outcomes[t]) != n || len(s.Bases[t]) != n {
			return fmt.Errorf("shadow: snapshot %d has ragged width", t)
		}
		for q := 0; q < n; q++ {
			if o := s.Outcomes[t][q]; o != 1 && o != -1 {
				return fmt.Errorf("shadow: snapshot %d qubit %d outcome %d not ±1", t, q, o)
			}
			if !s.Bases[t][q].Valid() {
				return fmt.Errorf("shadow: snapshot %d qubit %d basis %d out of range", t, q, s.Bases[t][q])
			}
		}
	}
	return nil
}

// Generate records T snapshots of psi. Each round draws a uniform basis in
// {X, Y, Z} for every qubit, then asks dev for one ±1 outcome per qubit.
//
// Expectations:
//   - Returns a T×n outcome matrix with values in {-1, +1}
//   - Returns a T×n basis matrix with values in {0, 1, 2}
//   - Returns an error when T < 1 or len(psi) != 2^n
//   - Same rng state yields the same shadow
func Generate(dev simulator.Device, psi simulator.State, T, n int, rng *rand.Rand) (Shadow, error) {
	if err := checkArgs(psi, T, n); err != nil {
		return Shadow{}, err
	}
	sh := Shadow{Outcomes: make([][]int8, T), Bases: make([][]pauli.Basis, T)}
	for t := 0; t < T; t++ {
		sh.Bases[t], sh.Outcomes[t] = round(dev, psi, n, rng)
	}
	return sh, nil
}

// GenerateSeeded is the parallel form of Generate. Round t uses its own
// PCG(seed, t) stream, so any workers value gives the same shadow.
// workers <= 1 runs on the calling goroutine.
func GenerateSeeded(ctx context.Context, dev simulator.Device, psi simulator.State, T, n int, seed uint64, workers int) (Shadow, error) {
	if err := checkArgs(psi, T, n); err != nil {
		return Shadow{}, err
	}
	sh := Shadow{Outcomes: make([][]int8, T), Bases: make([][]pauli.Basis, T)}
	run := func(t int) {
		rng := rand.New(rand.NewPCG(seed, uint64(t)))
		sh.Bases[t], sh.Outcomes[t] = round(dev, psi, n, rng)
	}

	if workers <= 1 {
		for t := 0; t < T; t++ {
			if t%256 == 0 && ctx.Err() != nil {
				return Shadow{}, ctx.Err()
			}
			run(t)
		}
		return sh, nil
	}

	const chunk = 64
	p := pool.New().WithContext(ctx).WithMaxGoroutines(workers)
	for start := 0; start < T; start += chunk {
		lo, hi := start, min(start+chunk, T)
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			for t := lo; t < hi; t++ {
				run(t)
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return Shadow{}, fmt.Errorf("shadow: generate: %w", err)
	}
	return sh, nil
}

func round(dev simulator.Device, psi simulator.State, n int, rng *rand.Rand) ([]pauli.Basis, []int8) {
	bases := make([]pauli.Basis, n)
	for q := range bases {
		bases[q] = pauli.Basis(rng.IntN(pauli.NumBases))
	}
	return bases, dev.Measure(psi, bases, rng)
}

func checkArgs(psi simulator.State, T, n int) error {
	if T < 1 {
		return fmt.Errorf("shadow: snapshot count %d must be positive", T)
	}
	if n < 1 || len(psi) != 1<<n {
		return fmt.Errorf("shadow: state of length %d does not match %d qubits", len(psi), n)
	}
	return nil
}
