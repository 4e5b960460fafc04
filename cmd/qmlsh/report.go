package main

import (
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/matthewyakubiw/qml-main/internal/report"
	"github.com/matthewyakubiw/qml-main/internal/roles/archive"
	"github.com/matthewyakubiw/qml-main/internal/ui"
)

var reportFlags struct {
	Entries bool
}

var reportCmd = &cobra.Command{
	Use:   "report [run-id]",
	Short: "List past runs, or show the score table of one run",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().BoolVar(&reportFlags.Entries, "entries", false, "show every (entry, kernel) score instead of per-kernel means")
}

func runReport(cmd *cobra.Command, args []string) error {
	store, err := report.Open(appCfg.ReportPath())
	if err != nil {
		return err
	}
	defer store.Close()
	if len(args) == 0 {
		return listRuns(cmd, store)
	}
	return showRun(cmd, store, args[0])
}

func listRuns(cmd *cobra.Command, store *report.Store) error {
	runs, err := store.ListRuns(cmd.Context())
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}
	archived := archivedCounts()
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		shadows := "-"
		if n, ok := archived[r.Params.RunID]; ok {
			shadows = strconv.Itoa(n)
		}
		rows = append(rows, []string{
			r.Params.RunID,
			r.Started.Local().Format(time.DateTime),
			fmt.Sprintf("%dx%d", r.Params.Rows, r.Params.Cols),
			strconv.Itoa(r.Params.Samples),
			strconv.Itoa(r.Params.Shots),
			shadows,
			r.Status,
			(time.Duration(r.ElapsedMs) * time.Millisecond).String(),
		})
	}
	fmt.Print(ui.RenderTable([]string{"run", "started", "lattice", "N", "T", "shadows", "status", "elapsed"}, rows))
	return nil
}

// archivedCounts maps run IDs to their archived shadow count. The archive is
// optional here; a locked or missing archive yields an empty map.
func archivedCounts() map[string]int {
	out := map[string]int{}
	store, err := archive.New(nil, appCfg.ArchiveDir())
	if err != nil {
		log.Printf("[REPORT] archive unavailable: %v", err)
		return out
	}
	defer store.Close()
	runs, err := store.ListRuns()
	if err != nil {
		log.Printf("[REPORT] archive list: %v", err)
		return out
	}
	for _, r := range runs {
		out[r.Params.RunID] = r.Samples
	}
	return out
}

func showRun(cmd *cobra.Command, store *report.Store, runID string) error {
	if reportFlags.Entries {
		scores, err := store.Scores(cmd.Context(), runID)
		if err != nil {
			return err
		}
		if len(scores) == 0 {
			return fmt.Errorf("no scores for run %s", runID)
		}
		rows := make([][]string, 0, len(scores))
		for _, s := range scores {
			rows = append(rows, []string{
				s.Kernel,
				fmt.Sprintf("C_%d%d", s.I, s.J),
				s.Family,
				strconv.FormatFloat(s.C, 'g', -1, 64),
				strconv.FormatFloat(s.CVRMSE, 'f', 4, 64),
				strconv.FormatFloat(s.TestRMSE, 'f', 4, 64),
			})
		}
		fmt.Print(ui.RenderTable([]string{"kernel", "entry", "model", "C", "CV RMSE", "test RMSE"}, rows))
		return nil
	}

	sum, err := store.Summaries(cmd.Context(), runID)
	if err != nil {
		return err
	}
	if len(sum) == 0 {
		return fmt.Errorf("no scores for run %s", runID)
	}
	rows := make([][]string, 0, len(sum))
	for _, k := range sum {
		rows = append(rows, []string{
			k.Kernel,
			strconv.Itoa(k.Entries),
			strconv.FormatFloat(k.MeanCV, 'f', 4, 64),
			strconv.FormatFloat(k.MeanTest, 'f', 4, 64),
		})
	}
	fmt.Print(ui.RenderTable([]string{"kernel", "entries", "mean CV RMSE", "mean test RMSE"}, rows))
	return nil
}
