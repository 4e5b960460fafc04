package auditor

import (
	"bufio"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matthewyakubiw/qml-main/internal/bus"
	"github.com/matthewyakubiw/qml-main/internal/types"
)

// newTestAuditor builds a minimal Auditor for unit tests.
// Opens /dev/null as the log file so writeEvent has somewhere to write.
func newTestAuditor() *Auditor {
	a := New(nil, os.DevNull)
	f, _ := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
	a.logFile = f
	return a
}

func hasAnomaly(a *Auditor, prefix string) bool {
	for _, an := range a.Anomalies() {
		if strings.HasPrefix(an, prefix) {
			return true
		}
	}
	return false
}

func sampleMsg(exact, estimated []float64) types.Message {
	return types.Message{
		From: types.RoleDataset,
		To:   types.RoleArchive,
		Type: types.MsgSampleBuilt,
		Payload: types.SampleBuilt{
			RunID: "r1", Index: 0, Exact: exact, Estimated: estimated,
		},
	}
}

func scoredMsg(runID string, cv, test float64) types.Message {
	return types.Message{
		From: types.RoleSelector,
		To:   types.RoleReport,
		Type: types.MsgEntryScored,
		Payload: types.EntryScored{
			RunID: runID, Kernel: "gaussian", CVRMSE: cv, TestRMSE: test,
		},
	}
}

func TestBoundaryViolation_WrongSender(t *testing.T) {
	// EntryScored must travel S3→S6
	a := newTestAuditor()
	msg := scoredMsg("r1", 0.1, 0.1)
	msg.From = types.RoleDataset
	a.process(msg)
	if !hasAnomaly(a, "boundary_violation") {
		t.Errorf("expected boundary_violation, got %v", a.Anomalies())
	}
}

func TestBoundary_AllowedPathIsClean(t *testing.T) {
	a := newTestAuditor()
	a.process(scoredMsg("r1", 0.1, 0.2))
	if len(a.Anomalies()) != 0 {
		t.Errorf("expected no anomalies, got %v", a.Anomalies())
	}
}

func TestSampleBuilt_AsymmetricLabelsFlagged(t *testing.T) {
	// Estimated labels with C_01 != C_10 are an invariant violation
	a := newTestAuditor()
	a.process(sampleMsg([]float64{1, 0.5, 0.5, 1}, []float64{1, 0.4, 0.3, 1}))
	if !hasAnomaly(a, "invariant_violation") {
		t.Errorf("expected invariant_violation, got %v", a.Anomalies())
	}
}

func TestSampleBuilt_BadDiagonalFlagged(t *testing.T) {
	a := newTestAuditor()
	a.process(sampleMsg([]float64{0.9, 0, 0, 1}, []float64{1, 0, 0, 1}))
	if !hasAnomaly(a, "invariant_violation") {
		t.Errorf("expected invariant_violation, got %v", a.Anomalies())
	}
}

func TestEntryScored_NonFiniteFlagged(t *testing.T) {
	a := newTestAuditor()
	a.process(scoredMsg("r1", math.NaN(), 0.1))
	a.process(scoredMsg("r1", 0.1, math.Inf(1)))
	n := 0
	for _, an := range a.Anomalies() {
		if strings.HasPrefix(an, "non_finite_score") {
			n++
		}
	}
	if n != 2 {
		t.Errorf("expected 2 non_finite_score anomalies, got %d", n)
	}
}

func TestRunFinished_IncompleteRunFlagged(t *testing.T) {
	// 2 entries × 1 kernel expected, only 1 scored
	a := newTestAuditor()
	a.process(scoredMsg("r1", 0.1, 0.1))
	a.process(types.Message{
		From: types.RoleSelector, To: types.RoleUser, Type: types.MsgRunFinished,
		Payload: types.RunFinished{RunID: "r1", Entries: 2, MeanTest: map[string]float64{"gaussian": 0.1}},
	})
	if !hasAnomaly(a, "incomplete_run") {
		t.Errorf("expected incomplete_run, got %v", a.Anomalies())
	}
}

func TestRunFinished_CompleteRunClean(t *testing.T) {
	a := newTestAuditor()
	a.process(scoredMsg("r2", 0.1, 0.1))
	a.process(scoredMsg("r2", 0.2, 0.2))
	a.process(types.Message{
		From: types.RoleSelector, To: types.RoleUser, Type: types.MsgRunFinished,
		Payload: types.RunFinished{RunID: "r2", Entries: 2, MeanTest: map[string]float64{"gaussian": 0.15}},
	})
	if len(a.Anomalies()) != 0 {
		t.Errorf("expected no anomalies, got %v", a.Anomalies())
	}
}

func TestRun_WritesJSONLFromTap(t *testing.T) {
	// Messages published on the bus become one AuditEvent line each
	b := bus.New()
	path := filepath.Join(t.TempDir(), "audit", "audit.jsonl")
	a := New(b.NewTap(), path)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { a.Run(ctx); close(done) }()

	b.Emit(types.RoleSelector, types.RoleReport, types.MsgEntryScored, types.EntryScored{RunID: "r", CVRMSE: 0.1, TestRMSE: 0.1})
	b.Emit(types.RoleKernel, types.RoleReport, types.MsgKernelBuilt, types.KernelBuilt{RunID: "r", Kernel: "ntk"})
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open audit log: %v", err)
	}
	defer f.Close()
	var events []types.AuditEvent
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e types.AuditEvent
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		events = append(events, e)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Anomaly != "none" || events[0].EventID == "" {
		t.Errorf("expected clean first event with an ID, got %+v", events[0])
	}
	if events[1].Anomaly != "boundary_violation" || events[1].Detail == nil {
		t.Errorf("expected boundary_violation with detail, got %+v", events[1])
	}
}
