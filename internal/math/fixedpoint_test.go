package math_test

import (
	"errors"
	stdmath "math"
	"testing"

	fpmath "ShadowSwap/internal/math"
)

// ============================================================================
// Test: QuoteAmount
// ============================================================================

func TestQuoteAmount_UnitBase(t *testing.T) {
	got, err := fpmath.QuoteAmount(6, 100, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 600 {
		t.Errorf("got %d, want 600", got)
	}
}

func TestQuoteAmount_DefaultBaseUnit(t *testing.T) {
	// 2.5 base tokens (9 decimals) at 40 quote units per token
	got, err := fpmath.QuoteAmount(2_500_000_000, 40, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 100 {
		t.Errorf("got %d, want 100", got)
	}
}

func TestQuoteAmount_RoundsDown(t *testing.T) {
	got, _ := fpmath.QuoteAmount(3, 5, 2) // 7.5
	if got != 7 {
		t.Errorf("got %d, want 7", got)
	}
}

func TestQuoteAmount_IntermediateDoesNotOverflow(t *testing.T) {
	got, err := fpmath.QuoteAmount(stdmath.MaxInt64, 1_000_000_000, 1_000_000_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != stdmath.MaxInt64 {
		t.Errorf("got %d, want MaxInt64", got)
	}
}

func TestQuoteAmount_Overflow(t *testing.T) {
	_, err := fpmath.QuoteAmount(stdmath.MaxInt64, 2, 1)
	if !errors.Is(err, fpmath.ErrOverflow) {
		t.Errorf("got %v, want ErrOverflow", err)
	}
}

// ============================================================================
// Test: FeeAmount
// ============================================================================

func TestFeeAmount(t *testing.T) {
	cases := []struct {
		quote int64
		bps   uint16
		want  int64
	}{
		{600, 0, 0},
		{600, 30, 1},     // 1.8
		{10_000, 30, 30}, // 0.3%
		{10_000, 10000, 10_000},
		{99, 100, 0},
	}
	for _, tc := range cases {
		got, err := fpmath.FeeAmount(tc.quote, tc.bps)
		if err != nil {
			t.Fatalf("FeeAmount(%d, %d): %v", tc.quote, tc.bps, err)
		}
		if got != tc.want {
			t.Errorf("FeeAmount(%d, %d): got %d, want %d", tc.quote, tc.bps, got, tc.want)
		}
	}
}

// ============================================================================
// Test: Rounding
// ============================================================================

func TestDivideInt128_HalfEven(t *testing.T) {
	cases := []struct {
		num, den, want int64
	}{
		{5, 2, 2},  // 2.5 -> 2
		{7, 2, 4},  // 3.5 -> 4
		{8, 3, 3},  // 2.67 -> 3
		{10, 4, 2}, // 2.5 -> 2
	}
	for _, tc := range cases {
		n := fpmath.MultiplyInt128(tc.num, 1)
		got, err := fpmath.DivideInt128(n, tc.den, fpmath.RoundHalfEven)
		fpmath.Release(n)
		if err != nil {
			t.Fatal(err)
		}
		if got != tc.want {
			t.Errorf("%d/%d: got %d, want %d", tc.num, tc.den, got, tc.want)
		}
	}
}

func TestDivideInt128_RoundUp(t *testing.T) {
	n := fpmath.MultiplyInt128(7, 1)
	defer fpmath.Release(n)
	got, _ := fpmath.DivideInt128(n, 2, fpmath.RoundUp)
	if got != 4 {
		t.Errorf("got %d, want 4", got)
	}
}

func TestComputeAvgPrice(t *testing.T) {
	got, err := fpmath.ComputeAvgPrice([]int64{6, 4}, []int64{100, 95})
	if err != nil {
		t.Fatal(err)
	}
	if got != 98 {
		t.Errorf("got %d, want 98", got)
	}
	zero, _ := fpmath.ComputeAvgPrice(nil, nil)
	if zero != 0 {
		t.Errorf("empty fills: got %d, want 0", zero)
	}
}
