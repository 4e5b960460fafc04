package ui

import (
	"strings"
	"testing"

	"github.com/mattn/go-runewidth"
	"gonum.org/v1/gonum/mat"

	"github.com/matthewyakubiw/qml-main/internal/types"
)

func makeMsg(t types.MessageType, payload any) types.Message {
	return types.Message{Type: t, Payload: payload}
}

// --- msgDetail ---

func TestMsgDetail_RunParams(t *testing.T) {
	// RunStarted: lattice shape, sample count and shots
	got := msgDetail(makeMsg(types.MsgRunStarted, types.RunParams{Rows: 4, Cols: 5, Samples: 100, Shots: 500}))
	if !strings.Contains(got, "4x5") || !strings.Contains(got, "N=100") || !strings.Contains(got, "T=500") {
		t.Errorf("unexpected detail %q", got)
	}
}

func TestMsgDetail_KernelBuilt_GammaOnlyWhenSet(t *testing.T) {
	// Gaussian shows γ; kernels without a bandwidth do not
	g := msgDetail(makeMsg(types.MsgKernelBuilt, types.KernelBuilt{Kernel: "gaussian", Rows: 10, Cols: 31, Gamma: 0.5}))
	if !strings.Contains(g, "γ=0.5") {
		t.Errorf("expected γ in %q", g)
	}
	d := msgDetail(makeMsg(types.MsgKernelBuilt, types.KernelBuilt{Kernel: "dirichlet", Rows: 10, Cols: 217}))
	if strings.Contains(d, "γ") {
		t.Errorf("unexpected γ in %q", d)
	}
}

func TestMsgDetail_EntryScored(t *testing.T) {
	got := msgDetail(makeMsg(types.MsgEntryScored, types.EntryScored{I: 1, J: 2, Kernel: "ntk", Family: "svr", C: 10, TestRMSE: 0.0312}))
	for _, want := range []string{"C_12", "ntk", "svr", "C=10", "0.0312"} {
		if !strings.Contains(got, want) {
			t.Errorf("expected %q in %q", want, got)
		}
	}
}

func TestMsgDetail_SampleBuilt_Fallback(t *testing.T) {
	// A sample whose ground state fell back to the zero vector says so instead of an energy
	got := msgDetail(makeMsg(types.MsgSampleBuilt, types.SampleBuilt{Index: 7, Fallback: true}))
	if got != "#7 fallback" {
		t.Errorf("expected '#7 fallback', got %q", got)
	}
}

func TestMsgDetail_UnknownPayload(t *testing.T) {
	if got := msgDetail(makeMsg("Other", 42)); got != "" {
		t.Errorf("expected empty detail, got %q", got)
	}
}

// --- flowLine ---

func TestFlowLine_HighVolumeMessagesAreSilent(t *testing.T) {
	// SampleBuilt and EntryScored only advance the spinner
	d := New(nil, 3)
	for _, mt := range []types.MessageType{types.MsgSampleBuilt, types.MsgEntryScored} {
		if line := d.flowLine(makeMsg(mt, nil)); line != "" {
			t.Errorf("%s: expected no flow line, got %q", mt, line)
		}
	}
}

func TestFlowLine_ShowsRolesAndType(t *testing.T) {
	msg := types.Message{From: types.RoleKernel, To: types.RoleSelector, Type: types.MsgKernelBuilt,
		Payload: types.KernelBuilt{Kernel: "ntk", Rows: 4, Cols: 21}}
	line := New(nil, 3).flowLine(msg)
	for _, want := range []string{"S2", "S3", "KernelBuilt", "ntk 4x21"} {
		if !strings.Contains(line, want) {
			t.Errorf("expected %q in %q", want, line)
		}
	}
}

// --- dynamicStatus / progress ---

func TestDynamicStatus_CountsAgainstRunTotals(t *testing.T) {
	// RunStarted fixes the totals: 2x2 lattice → 16 entries × 3 kernels = 48 scores
	d := New(nil, 3)
	d.observe(makeMsg(types.MsgRunStarted, types.RunParams{Rows: 2, Cols: 2, Samples: 10}))
	d.observe(makeMsg(types.MsgSampleBuilt, types.SampleBuilt{}))
	d.observe(makeMsg(types.MsgSampleBuilt, types.SampleBuilt{}))
	if got := dynamicStatus(makeMsg(types.MsgSampleBuilt, nil), d.prog); !strings.Contains(got, "2/10") {
		t.Errorf("expected 2/10 in %q", got)
	}
	d.observe(makeMsg(types.MsgEntryScored, types.EntryScored{}))
	if got := dynamicStatus(makeMsg(types.MsgEntryScored, nil), d.prog); !strings.Contains(got, "1/48") {
		t.Errorf("expected 1/48 in %q", got)
	}
}

func TestDynamicStatus_NoTotalWithoutRunStarted(t *testing.T) {
	got := dynamicStatus(makeMsg(types.MsgEntryScored, nil), progress{scored: 5})
	if strings.Contains(got, "/") {
		t.Errorf("expected bare count, got %q", got)
	}
}

// --- clip ---

func TestClip_UnchangedWhenWithinLimit(t *testing.T) {
	if got := clip("hello", 10); got != "hello" {
		t.Errorf("clip = %q, want unchanged", got)
	}
}

func TestClip_CountsColumnsNotRunes(t *testing.T) {
	// "相关函数矩阵" = 6 wide runes = 12 cols; clipped to 8 cols including "…"
	got := clip("相关函数矩阵", 8)
	if !strings.HasSuffix(got, "…") {
		t.Errorf("expected trailing …, got %q", got)
	}
	if w := runewidth.StringWidth(got); w > 8 {
		t.Errorf("clipped width %d, want ≤ 8", w)
	}
}

// --- RenderTable / FormatMatrix ---

func TestRenderTable_AlignsWideCells(t *testing.T) {
	// Second column starts at the same terminal column on every line
	out := RenderTable([]string{"kernel", "γ"}, [][]string{{"高斯", "0.5"}, {"ntk", "-"}})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, rule and 2 rows, got %d lines", len(lines))
	}
	col := runewidth.StringWidth("kernel") + 2
	for i, l := range lines {
		prefix := runewidth.Truncate(l, col, "")
		if runewidth.StringWidth(prefix) != col {
			t.Errorf("line %d: expected first column padded to %d, got %q", i, col, l)
		}
	}
}

func TestRenderTable_PadsShortRows(t *testing.T) {
	out := RenderTable([]string{"a", "b", "c"}, [][]string{{"x"}})
	if !strings.Contains(out, "x") {
		t.Errorf("expected short row rendered, got %q", out)
	}
}

func TestFormatMatrix_FixedDecimals(t *testing.T) {
	m := mat.NewDense(2, 2, []float64{1, -0.25, -0.25, 1})
	got := FormatMatrix(m, 2)
	want := " 1.00 -0.25\n-0.25  1.00\n"
	if got != want {
		t.Errorf("FormatMatrix = %q, want %q", got, want)
	}
}
