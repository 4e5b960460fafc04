package runlog

import (
	"bufio"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matthewyakubiw/qml-main/internal/bus"
	"github.com/matthewyakubiw/qml-main/internal/types"
)

// readEvents parses all JSONL lines from a file into a slice of Events.
func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("readEvents: %v", err)
	}
	defer f.Close()
	var events []Event
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e Event
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("readEvents: unmarshal %q: %v", sc.Text(), err)
		}
		events = append(events, e)
	}
	return events
}

func params(id string) types.RunParams {
	return types.RunParams{RunID: id, Rows: 2, Cols: 2, Samples: 10, Shots: 100, Seed: 24}
}

// --- Registry.Open ---

func TestRegistry_Open_WritesRunBegin(t *testing.T) {
	// Open creates the log directory and writes a run_begin event carrying the params
	dir := t.TempDir()
	r := NewRegistry(filepath.Join(dir, "runs"))
	rl := r.Open(params("run1"))
	if rl == nil {
		t.Fatal("expected non-nil RunLog")
	}
	r.Close("run1", "completed")

	events := readEvents(t, filepath.Join(dir, "runs", "run1.jsonl"))
	if len(events) == 0 {
		t.Fatal("expected at least one event")
	}
	if events[0].Kind != KindRunBegin {
		t.Errorf("expected first kind %q, got %q", KindRunBegin, events[0].Kind)
	}
	if events[0].Params == nil || events[0].Params.Shots != 100 {
		t.Errorf("expected params with shots=100, got %+v", events[0].Params)
	}
}

func TestRegistry_Open_ReturnsExistingOnDuplicate(t *testing.T) {
	// A second Open for the same run returns the same handle and writes no second run_begin
	dir := t.TempDir()
	r := NewRegistry(dir)
	a := r.Open(params("run1"))
	b := r.Open(params("run1"))
	if a != b {
		t.Errorf("expected same *RunLog pointer on second Open")
	}
	r.Close("run1", "completed")

	begins := 0
	for _, e := range readEvents(t, filepath.Join(dir, "run1.jsonl")) {
		if e.Kind == KindRunBegin {
			begins++
		}
	}
	if begins != 1 {
		t.Errorf("expected 1 run_begin, got %d", begins)
	}
}

// --- Registry.Get / Close ---

func TestRegistry_Get_ReturnsNilForUnknown(t *testing.T) {
	r := NewRegistry(t.TempDir())
	if got := r.Get("nonexistent"); got != nil {
		t.Errorf("expected nil for unknown runID, got %v", got)
	}
}

func TestRegistry_Close_WritesRunEndWithStats(t *testing.T) {
	// run_end carries status, sample count and per-kernel mean test RMSE
	dir := t.TempDir()
	r := NewRegistry(dir)
	rl := r.Open(params("run1"))
	rl.Sample(types.SampleBuilt{Index: 0, Energy: -3})
	rl.Sample(types.SampleBuilt{Index: 1, Energy: -2})
	rl.Kernel(types.KernelBuilt{Kernel: "gaussian", Gamma: 1.5})
	rl.EntryScored(types.EntryScored{Entry: 1, Kernel: "gaussian", CVRMSE: 0.2, TestRMSE: 0.1})
	rl.EntryScored(types.EntryScored{Entry: 2, Kernel: "gaussian", CVRMSE: 0.4, TestRMSE: 0.3})
	rl.EntryScored(types.EntryScored{Entry: 1, Kernel: "ntk", CVRMSE: 0.5, TestRMSE: 0.5})
	r.Close("run1", "completed")

	events := readEvents(t, filepath.Join(dir, "run1.jsonl"))
	if len(events) != 7 {
		t.Fatalf("expected 7 events, got %d", len(events))
	}
	last := events[len(events)-1]
	if last.Kind != KindRunEnd || last.Status != "completed" {
		t.Errorf("expected run_end/completed, got %s/%s", last.Kind, last.Status)
	}
	if last.Samples != 2 {
		t.Errorf("expected samples=2, got %d", last.Samples)
	}
	if len(last.KernelStats) != 2 || last.KernelStats[0].Kernel != "gaussian" {
		t.Fatalf("expected gaussian then ntk stats, got %+v", last.KernelStats)
	}
	if math.Abs(last.MeanTest["gaussian"]-0.2) > 1e-12 {
		t.Errorf("expected gaussian mean test 0.2, got %v", last.MeanTest["gaussian"])
	}
	if r.Get("run1") != nil {
		t.Errorf("expected nil after Close")
	}
}

func TestRegistry_Close_NoopsForUnknown(t *testing.T) {
	r := NewRegistry(t.TempDir())
	r.Close("nonexistent", "completed")
	var nilReg *Registry
	nilReg.Close("x", "completed")
}

// --- nil RunLog safety ---

func TestRunLog_NilReceiverNoops(t *testing.T) {
	// All RunLog methods are no-ops when called on nil *RunLog
	var rl *RunLog
	rl.Sample(types.SampleBuilt{})
	rl.Kernel(types.KernelBuilt{})
	rl.EntryScored(types.EntryScored{})
	if rl.KernelStats() != nil {
		t.Errorf("expected nil stats on nil receiver")
	}
}

// --- Registry.Follow ---

func TestRegistry_Follow_RoutesByRunAndClosesOnFinish(t *testing.T) {
	// Messages land in their own run's log; RunFinished closes it as completed
	dir := t.TempDir()
	r := NewRegistry(dir)
	r.Open(params("a"))
	b := bus.New()
	tap := b.NewTap()

	b.Emit(types.RoleDataset, types.RoleArchive, types.MsgSampleBuilt, types.SampleBuilt{RunID: "a", Index: 0})
	b.Emit(types.RoleDataset, types.RoleArchive, types.MsgSampleBuilt, types.SampleBuilt{RunID: "other", Index: 0})
	b.Emit(types.RoleKernel, types.RoleSelector, types.MsgKernelBuilt, types.KernelBuilt{RunID: "a", Kernel: "ntk"})
	b.Emit(types.RoleSelector, types.RoleReport, types.MsgEntryScored, types.EntryScored{RunID: "a", Kernel: "ntk", TestRMSE: 0.1})
	b.Emit(types.RoleSelector, types.RoleUser, types.MsgRunFinished, types.RunFinished{RunID: "a", Entries: 4})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { r.Follow(ctx, tap); close(done) }()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Follow did not return after cancel")
	}

	events := readEvents(t, filepath.Join(dir, "a.jsonl"))
	if len(events) != 5 {
		t.Fatalf("expected begin, sample, kernel, entry, end; got %d events", len(events))
	}
	if last := events[4]; last.Kind != KindRunEnd || last.Status != "completed" || last.Samples != 1 {
		t.Errorf("expected completed run_end with 1 sample, got %+v", last)
	}
	if r.Get("a") != nil {
		t.Errorf("expected run closed after RunFinished")
	}
	if _, err := os.Stat(filepath.Join(dir, "other.jsonl")); !os.IsNotExist(err) {
		t.Errorf("expected no log for an unopened run")
	}
}
