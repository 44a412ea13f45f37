package safe

import (
	"math"
)

// Uint64ToInt64 converts an uint64 value to int64, clamping to math.MaxInt64
// if overflow would occur.
// Returns the converted value and a boolean indicating whether clamping occurred.
func Uint64ToInt64(val uint64) (int64, bool) {
	if val > math.MaxInt64 {
		return math.MaxInt64, true
	}
	return int64(val), false
}

// AddressDelta returns a-b as a signed offset. Addresses further apart than
// the int64 range are clamped and reported.
func AddressDelta(a, b uint64) (int64, bool) {
	if a >= b {
		return Uint64ToInt64(a - b)
	}
	d := b - a
	if d > math.MaxInt64+1 {
		return math.MinInt64, true
	}
	if d == math.MaxInt64+1 {
		return math.MinInt64, false
	}
	return -int64(d), false
}

// Offset applies a signed delta to an address with wraparound.
func Offset(addr uint64, delta int64) uint64 {
	//nolint:gosec // G115: two's complement addition is intended.
	return addr + uint64(delta)
}

// IntToInt32 converts an int to int32, clamping to the int32 range.
// Returns the converted value and a boolean indicating whether clamping occurred.
func IntToInt32(val int) (int32, bool) {
	switch {
	case val > math.MaxInt32:
		return math.MaxInt32, true
	case val < math.MinInt32:
		return math.MinInt32, true
	}
	return int32(val), false
}
