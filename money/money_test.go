package money

import "testing"

func sum(xs []int64) int64 {
	var total int64
	for _, x := range xs {
		total += x
	}
	return total
}

func TestDistribute_ProportionalRefundS3(t *testing.T) {
	// S3: refund $30.00 on an 80/40 captured split.
	got := Distribute(3000, []int64{8000, 4000})
	want := []int64{2000, 1000}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Distribute(3000, [8000,4000]) = %v, want %v", got, want)
		}
	}
}

func TestDistribute_RoundingRepairS4(t *testing.T) {
	t.Run("even weights, no remainder", func(t *testing.T) {
		got := Distribute(1000, []int64{33, 33, 34})
		want := []int64{330, 330, 340}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("got %v, want %v", got, want)
			}
		}
	})

	t.Run("equal weights, remainder goes to first max", func(t *testing.T) {
		got := Distribute(10, []int64{1, 1, 1})
		want := []int64{4, 3, 3}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("got %v, want %v", got, want)
			}
		}
	})
}

func TestDistribute_DegenerateInputs(t *testing.T) {
	if got := Distribute(0, []int64{1, 2, 3}); sum(got) != 0 {
		t.Fatalf("total=0 should yield all zeros, got %v", got)
	}
	if got := Distribute(500, []int64{0, 0, 0}); sum(got) != 0 {
		t.Fatalf("zero weights should yield all zeros, got %v", got)
	}
	if got := Distribute(500, nil); len(got) != 0 {
		t.Fatalf("empty weights should yield empty output, got %v", got)
	}
}

// Property: Σ output == total for any non-empty, non-negative weight
// vector whose sum is positive (§8 property 3).
func TestDistribute_SumsExactly(t *testing.T) {
	cases := []struct {
		total   int64
		weights []int64
	}{
		{100, []int64{1}},
		{100, []int64{1, 1}},
		{101, []int64{1, 2, 3}},
		{999, []int64{7, 11, 13, 17}},
		{1, []int64{1, 1, 1, 1, 1}},
		{123456, []int64{1, 1, 1, 1, 1}},
		{0, []int64{5, 5}},
		{7, []int64{100, 1}},
	}
	for _, c := range cases {
		got := Distribute(c.total, c.weights)
		if len(got) != len(c.weights) {
			t.Fatalf("Distribute(%d, %v): length %d, want %d", c.total, c.weights, len(got), len(c.weights))
		}
		if s := sum(got); s != c.total {
			t.Fatalf("Distribute(%d, %v) = %v, sum %d, want %d", c.total, c.weights, got, s, c.total)
		}
		for _, v := range got {
			if v < 0 {
				t.Fatalf("Distribute(%d, %v) produced negative share %v", c.total, c.weights, got)
			}
		}
	}
}

// Property: stable under permutation of equal weights (§8 property 4).
func TestDistribute_StableUnderPermutationOfEqualWeights(t *testing.T) {
	a := Distribute(100, []int64{10, 10, 10, 10})
	b := Distribute(100, []int64{10, 10, 10, 10})
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("not stable: %v vs %v", a, b)
		}
	}
}
