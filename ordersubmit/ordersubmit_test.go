package ordersubmit

import "testing"

func TestDecimalToCents(t *testing.T) {
	cases := map[string]int64{
		"12.34": 1234,
		"0.00":  0,
		"150":   15000,
		"9.5":   950,
		"9.999": 999,
	}
	for in, want := range cases {
		got, err := decimalToCents(in)
		if err != nil {
			t.Fatalf("decimalToCents(%q): %v", in, err)
		}
		if got != want {
			t.Errorf("decimalToCents(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestDecimalToCents_RejectsGarbage(t *testing.T) {
	if _, err := decimalToCents("not-a-price"); err == nil {
		t.Fatal("expected error for malformed price")
	}
}
