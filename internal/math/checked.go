package math

import (
	"errors"
	"math"
)

// Checked uint64 arithmetic for collateral amounts. Balance math must fail
// loudly instead of wrapping: a subtraction that would go negative is a
// caller-visible insufficiency, an addition that would wrap is corrupt input.
var (
	ErrOverflow  = errors.New("uint64 overflow")
	ErrUnderflow = errors.New("uint64 underflow")
)

// AddU64 returns a + b, or ErrOverflow if the sum does not fit in uint64.
func AddU64(a, b uint64) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, ErrOverflow
	}
	return a + b, nil
}

// SubU64 returns a - b, or ErrUnderflow if b > a.
func SubU64(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrUnderflow
	}
	return a - b, nil
}

// MulU64 returns a * b, or ErrOverflow on overflow.
func MulU64(a, b uint64) (uint64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	if a > math.MaxUint64/b {
		return 0, ErrOverflow
	}
	return a * b, nil
}

// SaturatingSub returns a - b, clamped at zero. Used for shortfall
// computation where a deficit of zero is a meaningful result.
func SaturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
