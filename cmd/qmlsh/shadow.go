package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/matthewyakubiw/qml-main/internal/correlation"
	"github.com/matthewyakubiw/qml-main/internal/pauli"
	"github.com/matthewyakubiw/qml-main/internal/roles/archive"
	"github.com/matthewyakubiw/qml-main/internal/shadow"
	"github.com/matthewyakubiw/qml-main/internal/simulator"
	"github.com/matthewyakubiw/qml-main/internal/types"
)

var shadowCmd = &cobra.Command{
	Use:   "shadow <run-id> <sample>",
	Short: "Query an archived shadow for arbitrary Pauli observables",
	Long: `Opens an interactive console over the shadow archived for one sample.

  X0 Z2        median-of-means estimate of a Pauli product, next to its exact value
  corr 0 1     estimated and exact C_01
  info         shadow size, qubits and group count
  exit         leave the console`,
	Args: cobra.ExactArgs(2),
	RunE: runShadowConsole,
}

// shadowSession answers queries against one archived sample.
type shadowSession struct {
	params types.RunParams
	rec    archive.SampleRecord
	sh     shadow.Shadow
	psi    simulator.State
	k      int
	dev    simulator.Device
}

func runShadowConsole(cmd *cobra.Command, args []string) error {
	runID := args[0]
	index, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("bad sample index %q: %w", args[1], err)
	}
	store, err := archive.New(nil, appCfg.ArchiveDir())
	if err != nil {
		return err
	}
	defer store.Close()

	sess, err := openSession(store, runID, index)
	if err != nil {
		return err
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          fmt.Sprintf("shadow[%d]> ", index),
		HistoryFile:     filepath.Join(appCfg.Workspace, ".shadow_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Println(sess.info())
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == "exit" || line == "quit":
			return nil
		}
		out, err := sess.query(line)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		fmt.Println(out)
	}
}

// openSession loads the sample and its shadow and recomputes the ground state
// from the run's seeded coupling sequence for exact reference values.
func openSession(store *archive.Store, runID string, index int) (*shadowSession, error) {
	p, err := store.LoadRun(runID)
	if err != nil {
		return nil, err
	}
	rec, err := store.LoadSample(runID, index)
	if err != nil {
		return nil, err
	}
	sh, err := store.LoadShadow(runID, index)
	if err != nil {
		return nil, err
	}
	_, psi, _, err := groundState(p.Rows, p.Cols, p.Seed, p.Samples, index)
	if err != nil {
		return nil, err
	}
	k := p.Groups
	if k < 1 {
		k = shadow.GroupCount(correlation.NumObservables(p.Rows*p.Cols), p.Delta)
	}
	return &shadowSession{params: p, rec: rec, sh: sh, psi: psi, k: k, dev: simulator.StateVector{}}, nil
}

func (s *shadowSession) info() string {
	return fmt.Sprintf("run %s sample %d: %dx%d lattice, T=%d snapshots, K=%d groups, E0=%.6f",
		s.params.RunID, s.rec.Index, s.params.Rows, s.params.Cols, s.sh.Size(), s.k, s.rec.Energy)
}

// query evaluates one console line.
//
// Expectations:
//   - "corr i j" reports the archived estimate, a fresh estimate and the exact C_ij
//   - Any other line is parsed as a Pauli product and reports estimate and exact value
//   - Returns an error for qubits beyond the lattice
func (s *shadowSession) query(line string) (string, error) {
	n := s.sh.NumQubits()
	fields := strings.Fields(line)
	switch strings.ToLower(fields[0]) {
	case "info":
		return s.info(), nil
	case "corr":
		if len(fields) != 3 {
			return "", fmt.Errorf("usage: corr <i> <j>")
		}
		i, err1 := strconv.Atoi(fields[1])
		j, err2 := strconv.Atoi(fields[2])
		if err1 != nil || err2 != nil || i < 0 || j < 0 || i >= n || j >= n {
			return "", fmt.Errorf("qubits must be integers in [0,%d)", n)
		}
		var est float64
		for _, o := range correlation.Operator(i, j) {
			est += shadow.Estimate(s.sh, o, s.k)
		}
		est /= 3
		return fmt.Sprintf("C_%d%d  shadow %+.4f  archived %+.4f  exact %+.4f",
			i, j, est, s.rec.Estimated[i*n+j], s.rec.Exact[i*n+j]), nil
	}

	obs, err := pauli.Parse(line)
	if err != nil {
		return "", err
	}
	if q := obs.MaxQubit(); q >= n {
		return "", fmt.Errorf("qubit %d is outside the %d-qubit lattice", q, n)
	}
	return fmt.Sprintf("⟨%s⟩  shadow %+.4f  exact %+.4f",
		obs, shadow.Estimate(s.sh, obs, s.k), s.dev.Expval(s.psi, obs)), nil
}
