package main

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"

	"github.com/matthewyakubiw/qml-main/internal/correlation"
	"github.com/matthewyakubiw/qml-main/internal/dataset"
	"github.com/matthewyakubiw/qml-main/internal/groundstate"
	"github.com/matthewyakubiw/qml-main/internal/hamiltonian"
	"github.com/matthewyakubiw/qml-main/internal/lattice"
	"github.com/matthewyakubiw/qml-main/internal/shadow"
	"github.com/matthewyakubiw/qml-main/internal/simulator"
	"github.com/matthewyakubiw/qml-main/internal/ui"
)

var correlateFlags struct {
	Shots int
	Delta float64
}

var correlateCmd = &cobra.Command{
	Use:   "correlate",
	Short: "Print the exact and shadow-estimated correlation matrices of one random lattice",
	RunE:  runCorrelate,
}

func init() {
	f := correlateCmd.Flags()
	f.IntVarP(&correlateFlags.Shots, "shots", "t", 0, "snapshots T (default QML_SHOTS or 500)")
	f.Float64Var(&correlateFlags.Delta, "delta", 0, "median-of-means failure probability (default QML_DELTA or 0.01)")
}

// groundState draws coupling matrix index of the seeded sequence and solves it.
func groundState(rows, cols int, seed uint64, count, index int) (lattice.CouplingMatrix, simulator.State, groundstate.Result, error) {
	mats, err := lattice.Generate(count, rows, cols, seed)
	if err != nil {
		return lattice.CouplingMatrix{}, nil, groundstate.Result{}, err
	}
	if index < 0 || index >= len(mats) {
		return lattice.CouplingMatrix{}, nil, groundstate.Result{}, fmt.Errorf("sample %d out of range [0,%d)", index, len(mats))
	}
	c := mats[index]
	if c.NumSpins() > hamiltonian.MaxQubits {
		return lattice.CouplingMatrix{}, nil, groundstate.Result{}, fmt.Errorf("%d spins exceeds %d", c.NumSpins(), hamiltonian.MaxQubits)
	}
	psi, res, err := groundstate.Solve(hamiltonian.Build(c))
	return c, psi, res, err
}

func runCorrelate(cmd *cobra.Command, args []string) error {
	cfg := appCfg
	if cmd.Flags().Changed("shots") {
		cfg.Shots = correlateFlags.Shots
	}
	if cmd.Flags().Changed("delta") {
		cfg.Delta = correlateFlags.Delta
	}
	if cfg.Shots < 1 {
		return fmt.Errorf("shots %d must be positive", cfg.Shots)
	}

	c, psi, res, err := groundState(cfg.Rows, cfg.Cols, cfg.Seed, 1, 0)
	if err != nil {
		return err
	}
	n := c.NumSpins()
	dev := simulator.StateVector{}
	exact := correlation.Exact(dev, psi, n)

	sh, err := shadow.GenerateSeeded(cmd.Context(), dev, psi, cfg.Shots, n, dataset.SampleSeed(cfg.Seed, 0), max(cfg.Workers, 1))
	if err != nil {
		return err
	}
	k := shadow.GroupCount(correlation.NumObservables(n), cfg.Delta)
	est := correlation.Estimate(sh, k)

	fmt.Printf("%dx%d lattice, seed %d, E0=%.6f", cfg.Rows, cfg.Cols, cfg.Seed, res.Energy)
	if res.Fallback {
		fmt.Print(" (fallback state)")
	}
	fmt.Printf("\ncouplings (edge order): %.3f\n", c.EdgeValues())
	fmt.Printf("\nexact C:\n%s", ui.FormatMatrix(exact, 3))
	fmt.Printf("\nshadow C (T=%d, K=%d):\n%s", cfg.Shots, k, ui.FormatMatrix(est, 3))

	a, b := correlation.Flatten(exact), correlation.Flatten(est)
	fmt.Printf("\nmax |ΔC| = %.4f   RMS ΔC = %.4f\n",
		floats.Distance(a, b, math.Inf(1)),
		floats.Distance(a, b, 2)/math.Sqrt(float64(len(a))))
	return nil
}
