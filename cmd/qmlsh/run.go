package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/matthewyakubiw/qml-main/internal/bus"
	"github.com/matthewyakubiw/qml-main/internal/correlation"
	"github.com/matthewyakubiw/qml-main/internal/dataset"
	"github.com/matthewyakubiw/qml-main/internal/kernel"
	"github.com/matthewyakubiw/qml-main/internal/pipeline"
	"github.com/matthewyakubiw/qml-main/internal/regression"
	"github.com/matthewyakubiw/qml-main/internal/report"
	"github.com/matthewyakubiw/qml-main/internal/roles/archive"
	"github.com/matthewyakubiw/qml-main/internal/roles/auditor"
	"github.com/matthewyakubiw/qml-main/internal/runlog"
	"github.com/matthewyakubiw/qml-main/internal/shadow"
	"github.com/matthewyakubiw/qml-main/internal/types"
	"github.com/matthewyakubiw/qml-main/internal/ui"
)

var runFlags struct {
	Samples  int
	Shots    int
	Delta    float64
	Folds    int
	TestFrac float64
	Workers  int
	Quiet    bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build a dataset, fit every correlation entry under every kernel, and report test RMSE",
	RunE:  runPipeline,
}

func init() {
	f := runCmd.Flags()
	f.IntVarP(&runFlags.Samples, "samples", "n", 0, "dataset size N (default QML_SAMPLES or 100)")
	f.IntVarP(&runFlags.Shots, "shots", "t", 0, "snapshots per shadow T (default QML_SHOTS or 500)")
	f.Float64Var(&runFlags.Delta, "delta", 0, "median-of-means failure probability (default QML_DELTA or 0.01)")
	f.IntVar(&runFlags.Folds, "folds", 0, "cross-validation folds (default QML_FOLDS or 5)")
	f.Float64Var(&runFlags.TestFrac, "test-frac", 0, "held-out fraction (default QML_TEST_FRAC or 0.3)")
	f.IntVarP(&runFlags.Workers, "workers", "w", 0, "parallel workers (default QML_WORKERS or 1)")
	f.BoolVarP(&runFlags.Quiet, "quiet", "q", false, "disable the live pipeline display")
}

// applyRunFlags overlays the run flags the user actually set onto cfg.
func applyRunFlags(cmd *cobra.Command) {
	fl := cmd.Flags()
	if fl.Changed("samples") {
		appCfg.Samples = runFlags.Samples
	}
	if fl.Changed("shots") {
		appCfg.Shots = runFlags.Shots
	}
	if fl.Changed("delta") {
		appCfg.Delta = runFlags.Delta
	}
	if fl.Changed("folds") {
		appCfg.Folds = runFlags.Folds
	}
	if fl.Changed("test-frac") {
		appCfg.TestFrac = runFlags.TestFrac
	}
	if fl.Changed("workers") {
		appCfg.Workers = runFlags.Workers
	}
}

func runPipeline(cmd *cobra.Command, args []string) error {
	applyRunFlags(cmd)
	cfg := appCfg
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx := cmd.Context()
	start := time.Now()

	n := cfg.Rows * cfg.Cols
	params := types.RunParams{
		RunID:    uuid.New().String(),
		Rows:     cfg.Rows,
		Cols:     cfg.Cols,
		Samples:  cfg.Samples,
		Shots:    cfg.Shots,
		Seed:     cfg.Seed,
		Delta:    cfg.Delta,
		Groups:   shadow.GroupCount(correlation.NumObservables(n), cfg.Delta),
		Folds:    cfg.Folds,
		TestFrac: cfg.TestFrac,
	}

	// Build the bus first; every observer below taps or subscribes to it.
	b := bus.New()
	arch, err := archive.New(b, cfg.ArchiveDir())
	if err != nil {
		return err
	}
	rep, err := report.Open(cfg.ReportPath())
	if err != nil {
		arch.Close()
		return err
	}
	defer rep.Close()
	aud := auditor.New(b.NewTap(), cfg.AuditPath())
	reg := runlog.NewRegistry(cfg.RunsDir())
	logTap := b.NewTap()

	// Observers outlive a cancelled run so they can drain what was published.
	obsCtx, stopObs := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	goRun := func(f func(context.Context)) {
		wg.Add(1)
		go func() { defer wg.Done(); f(obsCtx) }()
	}
	goRun(arch.Run)
	goRun(aud.Run)
	goRun(func(ctx context.Context) { reg.Follow(ctx, logTap) })
	if !runFlags.Quiet {
		goRun(ui.New(b.NewTap(), len(kernel.Names)).Run)
	}

	reg.Open(params)
	if err := rep.SaveRun(params); err != nil {
		log.Printf("[RUN] WARNING: %v", err)
	}
	log.Printf("[RUN] run=%s %dx%d N=%d T=%d K=%d", params.RunID, cfg.Rows, cfg.Cols, cfg.Samples, cfg.Shots, params.Groups)
	b.Emit(types.RoleUser, types.RoleDataset, types.MsgRunStarted, params)

	var tbl *pipeline.Table
	ds, err := dataset.Build(ctx, dataset.Config{
		RunID:   params.RunID,
		Rows:    cfg.Rows,
		Cols:    cfg.Cols,
		Samples: cfg.Samples,
		Shots:   cfg.Shots,
		Seed:    cfg.Seed,
		Delta:   cfg.Delta,
		Workers: cfg.Workers,
	}, nil, b, arch)
	if err == nil {
		tbl, err = pipeline.Run(ctx, ds, pipeline.Config{
			RunID: params.RunID,
			Regression: regression.Config{
				TestFrac: cfg.TestFrac,
				Seed:     cfg.Seed,
				Folds:    cfg.Folds,
				Workers:  1,
			},
			Workers:  cfg.Workers,
			Bus:      b,
			Recorder: rep,
		})
	}

	status := "completed"
	switch {
	case errors.Is(err, context.Canceled):
		status = "cancelled"
	case err != nil:
		status = "failed"
	}
	stopObs()
	wg.Wait()
	reg.Close(params.RunID, status)
	if ferr := rep.FinishRun(params.RunID, status, time.Since(start)); ferr != nil {
		log.Printf("[RUN] WARNING: %v", ferr)
	}
	for _, a := range aud.Anomalies() {
		fmt.Printf("⚠️  audit: %s\n", a)
	}
	if err != nil {
		if errors.Is(err, regression.ErrSplitMismatch) {
			return fmt.Errorf("run %s aborted: %w", params.RunID, err)
		}
		return err
	}

	fmt.Printf("\nrun %s  (%dx%d, N=%d, T=%d, K=%d)\n\n", params.RunID, cfg.Rows, cfg.Cols, cfg.Samples, cfg.Shots, params.Groups)
	fmt.Print(scoreTable(tbl))
	printPrediction(tbl, ds)
	return nil
}

// scoreTable renders one row per kernel, best mean test RMSE first.
func scoreTable(tbl *pipeline.Table) string {
	kernels := append([]string(nil), tbl.Kernels...)
	sort.SliceStable(kernels, func(a, b int) bool {
		return tbl.MeanTestRMSE(kernels[a]) < tbl.MeanTestRMSE(kernels[b])
	})
	rows := make([][]string, 0, len(kernels))
	for _, k := range kernels {
		fam := map[string]int{}
		for _, s := range tbl.Scores(k) {
			fam[string(s.Best.Family)]++
		}
		rows = append(rows, []string{
			k,
			strconv.FormatFloat(tbl.MeanCVRMSE(k), 'f', 4, 64),
			strconv.FormatFloat(tbl.MeanTestRMSE(k), 'f', 4, 64),
			fmt.Sprintf("svr %d / krr %d", fam[string(regression.FamilySVR)], fam[string(regression.FamilyKernelRidge)]),
		})
	}
	return ui.RenderTable([]string{"kernel", "mean CV RMSE", "mean test RMSE", "winners"}, rows)
}

// printPrediction shows the exact and best-kernel predicted matrix of the first test sample.
func printPrediction(tbl *pipeline.Table, ds *dataset.Dataset) {
	test := tbl.TestSamples()
	if len(test) == 0 || len(tbl.Kernels) == 0 {
		return
	}
	best := tbl.Kernels[0]
	for _, k := range tbl.Kernels[1:] {
		if tbl.MeanTestRMSE(k) < tbl.MeanTestRMSE(best) {
			best = k
		}
	}
	pred, err := tbl.PredictedMatrix(best, test[0])
	if err != nil {
		log.Printf("[RUN] WARNING: %v", err)
		return
	}
	exact, err := correlation.Unflatten(ds.Samples[test[0]].Exact)
	if err != nil {
		log.Printf("[RUN] WARNING: %v", err)
		return
	}
	fmt.Printf("\ntest sample %d, exact C:\n%s", test[0], ui.FormatMatrix(exact, 3))
	fmt.Printf("\npredicted C' (%s):\n%s", best, ui.FormatMatrix(pred, 3))
}
