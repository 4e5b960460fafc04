package pauli

import "testing"

func TestProduct_SortsByQubit(t *testing.T) {
	// Factors are sorted by ascending qubit index
	o := Product(Factor{Qubit: 3, Basis: Z}, Factor{Qubit: 1, Basis: X})
	qs := o.Qubits()
	if len(qs) != 2 || qs[0] != 1 || qs[1] != 3 {
		t.Errorf("expected qubits [1 3], got %v", qs)
	}
	if o.Kind() != KindProduct {
		t.Errorf("expected KindProduct, got %v", o.Kind())
	}
}

func TestProduct_CollapsesVariants(t *testing.T) {
	// One factor collapses to Single, none to Identity
	if k := Product().Kind(); k != KindIdentity {
		t.Errorf("expected KindIdentity, got %v", k)
	}
	if k := Product(Factor{Qubit: 0, Basis: Y}).Kind(); k != KindSingle {
		t.Errorf("expected KindSingle, got %v", k)
	}
}

func TestProduct_PanicsOnRepeatedQubit(t *testing.T) {
	// Panics when two factors target the same qubit
	defer func() {
		if recover() == nil {
			t.Error("expected panic for repeated qubit")
		}
	}()
	Product(Factor{Qubit: 2, Basis: X}, Factor{Qubit: 2, Basis: Z})
}

func TestParse_Product(t *testing.T) {
	// "X0 Z2" parses to a two-factor product
	o, err := Parse("X0 z2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := o.String(); got != "X0 Z2" {
		t.Errorf("expected %q, got %q", "X0 Z2", got)
	}
}

func TestParse_Identity(t *testing.T) {
	// "I" and the empty string parse to Identity
	for _, s := range []string{"", "I", "  i "} {
		o, err := Parse(s)
		if err != nil || o.Kind() != KindIdentity {
			t.Errorf("Parse(%q): expected identity, got %v err=%v", s, o, err)
		}
	}
}

func TestParse_Errors(t *testing.T) {
	// Returns an error for unknown bases, missing indices, and repeated qubits
	for _, s := range []string{"Q1", "X", "Xa", "X1 Y1"} {
		if _, err := Parse(s); err == nil {
			t.Errorf("Parse(%q): expected error", s)
		}
	}
}

func TestApply_PauliActions(t *testing.T) {
	// X flips, Y flips with ±i, Z applies (-1)^bit; qubit 0 is the MSB
	cases := []struct {
		obs       Observable
		idx, n    int
		wantOut   int
		wantPhase complex128
	}{
		{Single(0, X), 0b00, 2, 0b10, 1},
		{Single(1, Y), 0b00, 2, 0b01, 1i},
		{Single(1, Y), 0b01, 2, 0b00, -1i},
		{Single(0, Z), 0b10, 2, 0b10, -1},
		{Pair(0, 1, Y), 0b00, 2, 0b11, -1},
		{Identity(), 0b11, 2, 0b11, 1},
	}
	for _, c := range cases {
		out, ph := c.obs.Apply(c.idx, c.n)
		if out != c.wantOut || ph != c.wantPhase {
			t.Errorf("%s|%b>: expected %v|%b>, got %v|%b>", c.obs, c.idx, c.wantPhase, c.wantOut, ph, out)
		}
	}
}
