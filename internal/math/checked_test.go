package math_test

import (
	stdmath "math"
	"testing"

	checked "EscrowLedger/internal/math"
)

func TestAddU64_Basic(t *testing.T) {
	got, err := checked.AddU64(100, 200)
	if err != nil {
		t.Fatalf("AddU64 failed: %v", err)
	}
	if got != 300 {
		t.Errorf("got %d, want 300", got)
	}
}

func TestAddU64_Overflow(t *testing.T) {
	_, err := checked.AddU64(stdmath.MaxUint64, 1)
	if err != checked.ErrOverflow {
		t.Errorf("got %v, want ErrOverflow", err)
	}
}

func TestAddU64_MaxBoundary(t *testing.T) {
	got, err := checked.AddU64(stdmath.MaxUint64-1, 1)
	if err != nil {
		t.Fatalf("AddU64 at boundary failed: %v", err)
	}
	if got != stdmath.MaxUint64 {
		t.Errorf("got %d, want MaxUint64", got)
	}
}

func TestSubU64_Basic(t *testing.T) {
	got, err := checked.SubU64(300, 100)
	if err != nil {
		t.Fatalf("SubU64 failed: %v", err)
	}
	if got != 200 {
		t.Errorf("got %d, want 200", got)
	}
}

func TestSubU64_Underflow(t *testing.T) {
	_, err := checked.SubU64(100, 101)
	if err != checked.ErrUnderflow {
		t.Errorf("got %v, want ErrUnderflow", err)
	}
}

func TestSubU64_ToZero(t *testing.T) {
	got, err := checked.SubU64(100, 100)
	if err != nil {
		t.Fatalf("SubU64 failed: %v", err)
	}
	if got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

func TestMulU64_Basic(t *testing.T) {
	got, err := checked.MulU64(100, 2)
	if err != nil {
		t.Fatalf("MulU64 failed: %v", err)
	}
	if got != 200 {
		t.Errorf("got %d, want 200", got)
	}
}

func TestMulU64_Zero(t *testing.T) {
	got, err := checked.MulU64(0, stdmath.MaxUint64)
	if err != nil || got != 0 {
		t.Errorf("got (%d, %v), want (0, nil)", got, err)
	}
}

func TestMulU64_Overflow(t *testing.T) {
	_, err := checked.MulU64(stdmath.MaxUint64/2+1, 2)
	if err != checked.ErrOverflow {
		t.Errorf("got %v, want ErrOverflow", err)
	}
}

func TestSaturatingSub(t *testing.T) {
	if got := checked.SaturatingSub(100, 40); got != 60 {
		t.Errorf("got %d, want 60", got)
	}
	if got := checked.SaturatingSub(40, 100); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
	if got := checked.SaturatingSub(40, 40); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}
