package helpers

import "testing"

func TestParseDecimalPreservesString(t *testing.T) {
	for _, s := range []string{"0", "500000", "100.99", "0.5", "123.450"} {
		d, err := ParseDecimal(s)
		if err != nil {
			t.Fatalf("ParseDecimal(%q): %v", s, err)
		}
		if d.String() != s {
			t.Errorf("String() = %q, want %q", d.String(), s)
		}
	}
}

func TestParseDecimalRejectsNegativeAndGarbage(t *testing.T) {
	for _, s := range []string{"-1", "abc", "", "1.2.3"} {
		if _, err := ParseDecimal(s); err == nil {
			t.Errorf("ParseDecimal(%q) expected error", s)
		}
	}
}

func TestDecimalCmp(t *testing.T) {
	a := MustParseDecimal("100.99")
	b := MustParseDecimal("100.990")
	if a.Cmp(b) != 0 {
		t.Errorf("expected 100.99 == 100.990")
	}
	c := MustParseDecimal("101")
	if a.Cmp(c) >= 0 {
		t.Errorf("expected 100.99 < 101")
	}
}

func TestDecimalAddSub(t *testing.T) {
	a := MustParseDecimal("500000")
	b := MustParseDecimal("500000")
	sum := a.Add(b)
	if sum.String() != "1000000" {
		t.Errorf("Add: got %s, want 1000000", sum.String())
	}
	diff := sum.Sub(b)
	if diff.Cmp(a) != 0 {
		t.Errorf("Sub: got %s, want %s", diff.String(), a.String())
	}
}

func TestDecimalIsInteger(t *testing.T) {
	if !MustParseDecimal("600000").IsInteger() {
		t.Errorf("600000 should be integral")
	}
	if MustParseDecimal("100.99").IsInteger() {
		t.Errorf("100.99 should not be integral")
	}
}

func TestStakeFromDecimal(t *testing.T) {
	s, err := StakeFromDecimal(MustParseDecimal("600000"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.String() != "600000" {
		t.Errorf("got %s, want 600000", s.String())
	}

	if _, err := StakeFromDecimal(MustParseDecimal("100.99")); err == nil {
		t.Errorf("expected error for non-integer stake amount")
	}
}

func TestStakeAmountArithmetic(t *testing.T) {
	ten := StakeFromInt64(10)
	thirty := StakeFromInt64(30)
	sum := ten.Add(thirty)
	if sum.Cmp(StakeFromInt64(40)) != 0 {
		t.Errorf("Add: got %s, want 40", sum.String())
	}
	diff := ten.Sub(thirty)
	if diff.Sign() >= 0 {
		t.Errorf("expected negative result from 10 - 30")
	}
}
