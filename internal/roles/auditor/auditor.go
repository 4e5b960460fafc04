package auditor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/matthewyakubiw/qml-main/internal/correlation"
	"github.com/matthewyakubiw/qml-main/internal/types"
)

// labelTol is the tolerance for symmetry and the unit diagonal of label vectors.
const labelTol = 1e-9

// Auditor taps the message bus read-only and writes structured AuditEvents to a JSONL file.
// It detects boundary violations, broken correlation invariants, non-finite
// scores and runs that finish with entries missing.
type Auditor struct {
	tap     <-chan types.Message
	logPath string
	mu      sync.Mutex
	logFile *os.File

	scored    map[string]int // runID -> EntryScored count
	anomalies []string       // "<anomaly>: <detail>" in arrival order
}

// New creates an Auditor.
func New(tap <-chan types.Message, logPath string) *Auditor {
	return &Auditor{
		tap:     tap,
		logPath: logPath,
		scored:  make(map[string]int),
	}
}

// Run starts the auditor loop. It blocks until ctx is cancelled, then drains
// whatever is already queued on the tap.
func (a *Auditor) Run(ctx context.Context) {
	if err := os.MkdirAll(filepath.Dir(a.logPath), 0o755); err != nil {
		log.Printf("[AUDIT] ERROR: create log dir: %v", err)
		return
	}

	f, err := os.OpenFile(a.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		log.Printf("[AUDIT] ERROR: open log file: %v", err)
		return
	}
	a.mu.Lock()
	a.logFile = f
	a.mu.Unlock()
	defer f.Close()

	log.Printf("[AUDIT] started; writing to %s", a.logPath)

	for {
		select {
		case <-ctx.Done():
			for len(a.tap) > 0 {
				a.process(<-a.tap)
			}
			return
		case msg, ok := <-a.tap:
			if !ok {
				return
			}
			a.process(msg)
		}
	}
}

// allowed sender→receiver pairs per message type
var allowedPaths = map[types.MessageType]struct {
	from types.Role
	to   types.Role
}{
	types.MsgRunStarted:   {types.RoleUser, types.RoleDataset},
	types.MsgSampleBuilt:  {types.RoleDataset, types.RoleArchive},
	types.MsgDatasetReady: {types.RoleDataset, types.RoleKernel},
	types.MsgKernelBuilt:  {types.RoleKernel, types.RoleSelector},
	types.MsgEntryScored:  {types.RoleSelector, types.RoleReport},
	types.MsgRunFinished:  {types.RoleSelector, types.RoleUser},
}

func (a *Auditor) process(msg types.Message) {
	anomaly := "none"
	var detail *string
	flag := func(kind, d string) {
		anomaly = kind
		detail = &d
		a.mu.Lock()
		a.anomalies = append(a.anomalies, kind+": "+d)
		a.mu.Unlock()
	}

	// 1. Boundary violation check
	if allowed, ok := allowedPaths[msg.Type]; ok {
		if msg.From != allowed.from || msg.To != allowed.to {
			d := fmt.Sprintf("expected %s→%s for %s, got %s→%s",
				allowed.from, allowed.to, msg.Type, msg.From, msg.To)
			flag("boundary_violation", d)
			log.Printf("[AUDIT] BOUNDARY VIOLATION: %s", d)
		}
	}

	// 2. Payload invariants
	switch p := msg.Payload.(type) {
	case types.SampleBuilt:
		for _, lv := range []struct {
			name string
			v    []float64
		}{{"exact", p.Exact}, {"estimated", p.Estimated}} {
			if err := correlation.Check(lv.v, labelTol); err != nil {
				d := fmt.Sprintf("run %s sample %d %s labels: %v", p.RunID, p.Index, lv.name, err)
				flag("invariant_violation", d)
				log.Printf("[AUDIT] INVARIANT VIOLATION: %s", d)
			}
		}
	case types.EntryScored:
		a.mu.Lock()
		a.scored[p.RunID]++
		a.mu.Unlock()
		if !finite(p.CVRMSE) || !finite(p.TestRMSE) {
			d := fmt.Sprintf("run %s entry %d kernel %s cv=%v test=%v", p.RunID, p.Entry, p.Kernel, p.CVRMSE, p.TestRMSE)
			flag("non_finite_score", d)
			log.Printf("[AUDIT] NON-FINITE SCORE: %s", d)
		}
	case types.RunFinished:
		a.mu.Lock()
		got := a.scored[p.RunID]
		delete(a.scored, p.RunID)
		a.mu.Unlock()
		if want := p.Entries * len(p.MeanTest); got != want {
			d := fmt.Sprintf("run %s scored %d of %d (entry, kernel) pairs", p.RunID, got, want)
			flag("incomplete_run", d)
			log.Printf("[AUDIT] INCOMPLETE RUN: %s", d)
		}
	}

	a.writeEvent(types.AuditEvent{
		EventID:     uuid.New().String(),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		FromRole:    msg.From,
		ToRole:      msg.To,
		MessageType: string(msg.Type),
		Anomaly:     anomaly,
		Detail:      detail,
	})
}

// Anomalies returns a snapshot of every anomaly flagged so far.
func (a *Auditor) Anomalies() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.anomalies...)
}

func (a *Auditor) writeEvent(e types.AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.logFile == nil {
		return
	}

	data, err := json.Marshal(e)
	if err != nil {
		log.Printf("[AUDIT] ERROR: marshal event: %v", err)
		return
	}
	if _, err := fmt.Fprintf(a.logFile, "%s\n", data); err != nil {
		log.Printf("[AUDIT] ERROR: write event: %v", err)
	}
}

func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }
