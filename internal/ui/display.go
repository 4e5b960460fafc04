package ui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/matthewyakubiw/qml-main/internal/types"
)

// ANSI codes
const (
	ansiReset   = "\033[0m"
	ansiBold    = "\033[1m"
	ansiDim     = "\033[2m"
	ansiCyan    = "\033[36m"
	ansiYellow  = "\033[33m"
	ansiGreen   = "\033[32m"
	ansiRed     = "\033[31m"
	ansiMagenta = "\033[35m"
	ansiBlue    = "\033[34m"
)

var roleEmoji = map[types.Role]string{
	types.RoleDataset:  "🧪",
	types.RoleKernel:   "🧮",
	types.RoleSelector: "📈",
	types.RoleArchive:  "💾",
	types.RoleAuditor:  "📡",
	types.RoleReport:   "🗂 ",
	types.RoleUser:     "👤",
}

var msgColor = map[types.MessageType]string{
	types.MsgRunStarted:   ansiCyan,
	types.MsgSampleBuilt:  ansiDim,
	types.MsgDatasetReady: ansiBlue,
	types.MsgKernelBuilt:  ansiMagenta,
	types.MsgEntryScored:  ansiYellow,
	types.MsgRunFinished:  ansiGreen,
}

var msgStatus = map[types.MessageType]string{
	types.MsgRunStarted:   "🧪 building dataset...",
	types.MsgDatasetReady: "🧮 building kernels...",
	types.MsgKernelBuilt:  "📈 selecting models...",
}

// progress counts high-volume messages so they drive the spinner instead of
// printing one flow line each.
type progress struct {
	samples, sampleTotal int
	scored, scoreTotal   int
	kernels              int
}

// dynamicStatus returns a spinner label for msg, enriched with the running
// counts for message types that arrive once per sample or per entry.
func dynamicStatus(msg types.Message, p progress) string {
	switch msg.Type {
	case types.MsgSampleBuilt:
		if p.sampleTotal > 0 {
			return fmt.Sprintf("🧪 sample %d/%d", p.samples, p.sampleTotal)
		}
		return fmt.Sprintf("🧪 sample %d", p.samples)
	case types.MsgEntryScored:
		if p.scoreTotal > 0 {
			return fmt.Sprintf("📈 scored %d/%d", p.scored, p.scoreTotal)
		}
		return fmt.Sprintf("📈 scored %d", p.scored)
	}
	return msgStatus[msg.Type]
}

// maxDetail caps the payload summary shown inside a flow line.
const maxDetail = 80

var spinRunes = []rune("⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏")

// Display renders the pipeline stage flow to stdout.
// It reads from a bus tap channel and animates a live pipeline view.
type Display struct {
	tap     <-chan types.Message
	abortCh chan struct{}
	mu      sync.Mutex
	status  string
	started time.Time
	inRun   bool
	spinIdx int
	prog    progress
	kernels int // kernels per run, used for the scored total
}

// New creates a Display reading from tap. kernels is the number of kernel
// representations each run scores.
func New(tap <-chan types.Message, kernels int) *Display {
	return &Display{tap: tap, abortCh: make(chan struct{}, 1), kernels: kernels}
}

// Abort signals the display to immediately close the current pipeline box.
// Safe to call from any goroutine. Cancelling Run's context closes an
// unfinished box the same way.
func (d *Display) Abort() {
	select {
	case d.abortCh <- struct{}{}:
	default:
	}
}

// Run is the main goroutine. It renders flow lines and animates the spinner.
// All terminal writes happen within this goroutine.
func (d *Display) Run(ctx context.Context) {
	ticker := time.NewTicker(80 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for len(d.tap) > 0 {
				d.handle(<-d.tap)
			}
			if d.inRun {
				d.endRun(false)
			}
			return

		case <-d.abortCh:
			if d.inRun {
				fmt.Print("\r\033[K")
				d.endRun(false)
			}

		case msg, ok := <-d.tap:
			if !ok {
				return
			}
			d.handle(msg)

		case <-ticker.C:
			if !d.inRun {
				continue
			}
			frame := spinRunes[d.spinIdx%len(spinRunes)]
			d.spinIdx++
			d.mu.Lock()
			status := d.status
			d.mu.Unlock()
			fmt.Printf("\r%s%s%s %s", ansiCyan, string(frame), ansiReset, status)
		}
	}
}

// handle prints the flow line for msg, if any, and updates the spinner.
func (d *Display) handle(msg types.Message) {
	if !d.inRun {
		d.startRun()
	}
	d.observe(msg)
	if line := d.flowLine(msg); line != "" {
		// Clear spinner line before printing a new flow line.
		fmt.Print("\r\033[K")
		fmt.Println(line)
	}
	d.setStatus(dynamicStatus(msg, d.prog))
	if msg.Type == types.MsgRunFinished {
		d.endRun(true)
	}
}

// observe updates the progress counters from msg.
func (d *Display) observe(msg types.Message) {
	switch p := msg.Payload.(type) {
	case types.RunParams:
		d.prog = progress{
			sampleTotal: p.Samples,
			scoreTotal:  p.Rows * p.Cols * p.Rows * p.Cols * d.kernels,
		}
	case types.SampleBuilt:
		d.prog.samples++
	case types.KernelBuilt:
		d.prog.kernels++
	case types.EntryScored:
		d.prog.scored++
	}
}

func (d *Display) startRun() {
	d.started = time.Now()
	d.inRun = true
	d.prog = progress{}
	d.setStatus("initializing...")
	fmt.Printf("\n%s┌─── ⚡ %sqmlsh pipeline%s%s %s%s\n", ansiDim, ansiBold, ansiReset, ansiDim, strings.Repeat("─", 40), ansiReset)
}

func (d *Display) endRun(success bool) {
	d.inRun = false
	elapsed := time.Since(d.started).Round(time.Millisecond)
	icon := "✅"
	if !success {
		icon = ansiRed + "❌" + ansiReset + ansiDim
	}
	fmt.Printf("\r\033[K%s└─── %s  %v %s%s\n", ansiDim, icon, elapsed, strings.Repeat("─", 35), ansiReset)
}

func (d *Display) setStatus(s string) {
	d.mu.Lock()
	d.status = s
	d.mu.Unlock()
}

// flowLine renders one stage transition, or "" for the per-sample and
// per-entry messages that only move the spinner.
func (d *Display) flowLine(msg types.Message) string {
	switch msg.Type {
	case types.MsgSampleBuilt, types.MsgEntryScored:
		return ""
	}

	label := string(msg.Type)
	if det := msgDetail(msg); det != "" {
		label += ": " + clip(det, maxDetail)
	}
	color := msgColor[msg.Type]
	if color == "" {
		color = ansiDim
	}
	return fmt.Sprintf("  %s ──[%s%s%s]──► %s", roleLabel(msg.From), color, label, ansiReset, roleLabel(msg.To))
}

func roleLabel(r types.Role) string {
	emoji, ok := roleEmoji[r]
	if !ok {
		emoji = "•"
	}
	return emoji + " " + string(r)
}

func msgDetail(msg types.Message) string {
	switch p := msg.Payload.(type) {
	case types.RunParams:
		return fmt.Sprintf("%dx%d lattice, N=%d, T=%d", p.Rows, p.Cols, p.Samples, p.Shots)
	case types.DatasetReady:
		return fmt.Sprintf("%d samples, %d features, %v", p.Samples, p.Features, time.Duration(p.ElapsedMs)*time.Millisecond)
	case types.KernelBuilt:
		if p.Gamma != 0 {
			return fmt.Sprintf("%s %dx%d γ=%.3g", p.Kernel, p.Rows, p.Cols, p.Gamma)
		}
		return fmt.Sprintf("%s %dx%d", p.Kernel, p.Rows, p.Cols)
	case types.EntryScored:
		return fmt.Sprintf("C_%d%d %s %s C=%g test=%.4f", p.I, p.J, p.Kernel, p.Family, p.C, p.TestRMSE)
	case types.RunFinished:
		return fmt.Sprintf("%d entries", p.Entries)
	case types.SampleBuilt:
		if p.Fallback {
			return fmt.Sprintf("#%d fallback", p.Index)
		}
		return fmt.Sprintf("#%d E=%.4f", p.Index, p.Energy)
	}
	return ""
}

// clip truncates s to at most n terminal columns, appending "…" if trimmed.
func clip(s string, n int) string {
	if runewidth.StringWidth(s) <= n {
		return s
	}
	return runewidth.Truncate(s, n-1, "") + "…"
}
