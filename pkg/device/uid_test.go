package device

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUIDString(t *testing.T) {
	cases := []struct {
		name string
		uid  UID
		want string
	}{
		{"zero", UID{}, "0"},
		{"random only", UID{Random: 1}, "1"},
		{"max random", UID{Random: math.MaxUint64}, "18446744073709551615"},
		{
			"full width",
			UID{DeviceID: 0xBEEF, Year: 26, Random: math.MaxUint64},
			// (0xBEEF<<8 | 26) * 2^64 + MaxUint64
			bigDecimalRef(0xBEEF<<8|26, math.MaxUint64),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.uid.String())
		})
	}
}

// bigDecimalRef recomputes hi*2^64+lo with the same base-2^32 long
// division as the production path, written out separately, as a
// cross-check.
func bigDecimalRef(hi uint64, lo uint64) string {
	// value = hi * 2^64 + lo, computed digit-by-digit in base 10 using
	// the same base-2^32 long division, but written independently.
	digits := []byte{}
	h, l := hi, lo
	for h != 0 || l != 0 {
		q1, r1 := h/10, h%10
		mid := r1<<32 | (l >> 32)
		q2, r2 := mid/10, mid%10
		low := r2<<32 | (l & 0xffffffff)
		q3, r3 := low/10, low%10
		h, l = q1, q2<<32|q3
		digits = append(digits, byte('0'+r3))
	}
	if len(digits) == 0 {
		return "0"
	}
	for i, j := 0, len(digits)-1; i < j; i, j = i+1, j-1 {
		digits[i], digits[j] = digits[j], digits[i]
	}
	return string(digits)
}
