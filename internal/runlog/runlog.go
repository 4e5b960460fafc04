// Package runlog provides per-run structured logging for the learning pipeline.
//
// Each run gets one JSONL file in a configurable directory. Events capture every
// key stage: the run parameters, each built sample, each kernel representation,
// each scored (entry, kernel) pair, and the final summary. The log is the raw
// substrate for comparing runs after the fact.
//
// Design constraints:
//   - All RunLog methods are nil-safe (no-op on nil receiver) so stages don't need
//     nil checks before every log call.
//   - Registry is the sole owner of JSONL persistence; stages never open files.
//   - The CLI opens a log via Registry.Open; Registry.Follow feeds it from a bus
//     tap and closes it when the run finishes.
package runlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/matthewyakubiw/qml-main/internal/types"
)

// EventKind labels a single structured event in the run log.
type EventKind string

const (
	KindRunBegin    EventKind = "run_begin"
	KindRunEnd      EventKind = "run_end"
	KindSample      EventKind = "sample"
	KindKernel      EventKind = "kernel"
	KindEntryScored EventKind = "entry_scored"
)

// Event is one JSONL line in the run log.
// Fields are omitempty so each event only serialises relevant data.
type Event struct {
	Kind      EventKind `json:"kind"`
	Timestamp string    `json:"ts"`

	// run_begin / run_end
	RunID       string             `json:"run_id,omitempty"`
	Params      *types.RunParams   `json:"params,omitempty"` // run_begin only
	Status      string             `json:"status,omitempty"` // "completed" | "failed" | "cancelled"
	ElapsedMs   int64              `json:"elapsed_ms,omitempty"`
	KernelStats []KernelStat       `json:"kernel_stats,omitempty"` // run_end only
	Samples     int                `json:"samples,omitempty"`      // run_end only
	MeanTest    map[string]float64 `json:"mean_test,omitempty"`    // run_end only

	// sample
	Index    int     `json:"index,omitempty"`
	Energy   float64 `json:"energy,omitempty"`
	Fallback bool    `json:"fallback,omitempty"`

	// kernel / entry_scored
	Kernel   string  `json:"kernel,omitempty"`
	Gamma    float64 `json:"gamma,omitempty"`
	Entry    int     `json:"entry,omitempty"`
	Family   string  `json:"family,omitempty"`
	C        float64 `json:"c,omitempty"`
	CVRMSE   float64 `json:"cv_rmse,omitempty"`
	TestRMSE float64 `json:"test_rmse,omitempty"`
}

// KernelStat summarises the scored entries of one kernel across a run.
type KernelStat struct {
	Kernel       string  `json:"kernel"`
	Entries      int     `json:"entries"`
	MeanCVRMSE   float64 `json:"mean_cv_rmse"`
	MeanTestRMSE float64 `json:"mean_test_rmse"`
}

// kernelAcc is the unexported per-kernel accumulator stored inside a RunLog.
type kernelAcc struct {
	entries int
	cvSum   float64
	testSum float64
}

// RunLog is a handle for writing structured events for one run.
//
// Expectations:
//   - All methods are nil-safe (no-op when called on nil *RunLog)
//   - Concurrent writes are safe (mutex-protected)
//   - KernelStats lists kernels in the order they were first scored
type RunLog struct {
	runID   string
	started time.Time
	mu      sync.Mutex
	f       *os.File
	samples int
	order   []string
	kernels map[string]*kernelAcc
}

// Registry maps run IDs to open RunLogs.
// It is the sole authority for creating and closing run log files.
//
// Expectations:
//   - Open creates the log directory if absent
//   - Open writes a run_begin event as the first JSONL line
//   - Open returns the existing log without re-opening when called twice for the same runID
//   - Get returns nil for unknown run IDs
//   - Close writes run_end with status, elapsed_ms and kernel stats before flushing
//   - Close removes the runID from the registry so subsequent Get returns nil
//   - Close no-ops gracefully when runID is not registered
type Registry struct {
	dir  string
	mu   sync.Mutex
	logs map[string]*RunLog
}

// NewRegistry creates a Registry that writes one JSONL file per run under dir.
func NewRegistry(dir string) *Registry {
	return &Registry{dir: dir, logs: make(map[string]*RunLog)}
}

// Dir returns the directory run logs are written to.
func (r *Registry) Dir() string {
	if r == nil {
		return ""
	}
	return r.dir
}

// Open creates a new RunLog for p.RunID, writes a run_begin event, and registers it.
func (r *Registry) Open(p types.RunParams) *RunLog {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if rl, ok := r.logs[p.RunID]; ok {
		return rl
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		slog.Error("[RUNLOG] could not create dir", "dir", r.dir, "error", err)
		return nil
	}
	path := filepath.Join(r.dir, p.RunID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Error("[RUNLOG] could not open log file", "path", path, "error", err)
		return nil
	}

	rl := &RunLog{runID: p.RunID, started: time.Now(), f: f, kernels: make(map[string]*kernelAcc)}
	r.logs[p.RunID] = rl
	params := p
	rl.write(Event{Kind: KindRunBegin, RunID: p.RunID, Params: &params})
	return rl
}

// Get returns the RunLog for runID, or nil if not found.
// Nil is safe to pass to all RunLog methods.
func (r *Registry) Get(runID string) *RunLog {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logs[runID]
}

// Close writes a run_end event, flushes and closes the file, and removes the
// entry from the registry. Safe to call on a nil *Registry or unknown runID.
func (r *Registry) Close(runID, status string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	rl, ok := r.logs[runID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.logs, runID)
	r.mu.Unlock()

	stats := rl.KernelStats()
	mean := make(map[string]float64, len(stats))
	for _, ks := range stats {
		mean[ks.Kernel] = ks.MeanTestRMSE
	}
	rl.mu.Lock()
	elapsed := time.Since(rl.started).Milliseconds()
	samples := rl.samples
	rl.mu.Unlock()

	rl.write(Event{
		Kind:        KindRunEnd,
		RunID:       runID,
		Status:      status,
		ElapsedMs:   elapsed,
		KernelStats: stats,
		Samples:     samples,
		MeanTest:    mean,
	})

	rl.mu.Lock()
	if rl.f != nil {
		_ = rl.f.Close()
		rl.f = nil
	}
	rl.mu.Unlock()
}

// Follow routes stage messages from tap to their run's log until ctx is
// cancelled, then drains whatever is already queued. RunFinished closes the
// run with status "completed".
//
// Expectations:
//   - SampleBuilt, KernelBuilt and EntryScored reach the RunLog named by their RunID
//   - Messages for runs that were never opened are ignored
//   - Returns when tap is closed
func (r *Registry) Follow(ctx context.Context, tap <-chan types.Message) {
	for {
		select {
		case <-ctx.Done():
			for len(tap) > 0 {
				r.route(<-tap)
			}
			return
		case msg, ok := <-tap:
			if !ok {
				return
			}
			r.route(msg)
		}
	}
}

func (r *Registry) route(msg types.Message) {
	switch p := msg.Payload.(type) {
	case types.SampleBuilt:
		r.Get(p.RunID).Sample(p)
	case types.KernelBuilt:
		r.Get(p.RunID).Kernel(p)
	case types.EntryScored:
		r.Get(p.RunID).EntryScored(p)
	case types.RunFinished:
		r.Close(p.RunID, "completed")
	}
}

// Sample writes a sample event.
func (rl *RunLog) Sample(s types.SampleBuilt) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	rl.samples++
	rl.mu.Unlock()
	rl.write(Event{Kind: KindSample, Index: s.Index, Energy: s.Energy, Fallback: s.Fallback})
}

// Kernel writes a kernel event.
func (rl *RunLog) Kernel(k types.KernelBuilt) {
	if rl == nil {
		return
	}
	rl.write(Event{Kind: KindKernel, Kernel: k.Kernel, Gamma: k.Gamma})
}

// EntryScored writes an entry_scored event and folds it into the kernel stats.
//
// Expectations:
//   - Entries for a kernel increments by 1 per invocation
//   - MeanTestRMSE is the running mean of TestRMSE for that kernel
func (rl *RunLog) EntryScored(e types.EntryScored) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	acc := rl.kernels[e.Kernel]
	if acc == nil {
		acc = &kernelAcc{}
		rl.kernels[e.Kernel] = acc
		rl.order = append(rl.order, e.Kernel)
	}
	acc.entries++
	acc.cvSum += e.CVRMSE
	acc.testSum += e.TestRMSE
	rl.mu.Unlock()
	rl.write(Event{
		Kind:     KindEntryScored,
		Entry:    e.Entry,
		Kernel:   e.Kernel,
		Family:   e.Family,
		C:        e.C,
		CVRMSE:   e.CVRMSE,
		TestRMSE: e.TestRMSE,
	})
}

// KernelStats returns a snapshot of per-kernel score means.
func (rl *RunLog) KernelStats() []KernelStat {
	if rl == nil {
		return nil
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	out := make([]KernelStat, 0, len(rl.order))
	for _, name := range rl.order {
		acc := rl.kernels[name]
		n := float64(acc.entries)
		out = append(out, KernelStat{
			Kernel:       name,
			Entries:      acc.entries,
			MeanCVRMSE:   acc.cvSum / n,
			MeanTestRMSE: acc.testSum / n,
		})
	}
	return out
}

// write appends one JSON line to the run log file. Adds timestamp, mutex-protected.
func (rl *RunLog) write(e Event) {
	e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("[RUNLOG] marshal event", "error", err)
		return
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if rl.f == nil {
		return
	}
	if _, err = fmt.Fprintf(rl.f, "%s\n", data); err != nil {
		slog.Error("[RUNLOG] write event", "error", err)
	}
}
