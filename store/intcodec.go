package store

import "strconv"

// ParseCanonicalInt64 parses b as the canonical decimal representation of
// a signed 64-bit integer: an optional leading '-', then digits 0-9, no
// leading zeros unless the whole value is "0", and no surrounding
// whitespace. This is deliberately stricter than strconv.ParseInt, which
// accepts values like "+1" and "01" that INCR must reject; those are
// rejected here along with " 1" and "1.0".
func ParseCanonicalInt64(b []byte) (int64, bool) {
	if len(b) == 0 {
		return 0, false
	}

	digits := b
	if b[0] == '-' {
		digits = b[1:]
		if len(digits) == 0 {
			return 0, false
		}
	}
	if len(digits) > 1 && digits[0] == '0' {
		return 0, false
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, false
		}
	}

	v, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func formatInt64(v int64) string {
	return strconv.FormatInt(v, 10)
}

// addInt64 returns a+b and true, or (0, false) if the addition would
// overflow a signed 64-bit integer.
func addInt64(a, b int64) (int64, bool) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, false
	}
	return sum, true
}
