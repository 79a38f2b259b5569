package runtime

import (
	"strconv"

	"github.com/wippyai/script-runtime/errors"
)

// ParseByteSize parses a byte count with an optional base-1024
// magnitude suffix (k/K, M, G). The numeric part may be fractional and
// is truncated to an integer before the shift, so "1.5M" is 1 MiB.
// Anything after a recognized suffix character is ignored; an
// unrecognized suffix is an error carrying the offending remainder.
func ParseByteSize(s string) (uint64, error) {
	mant, rest := splitMantissa(s)
	var v uint64
	if mant != "" {
		f, err := strconv.ParseFloat(mant, 64)
		if err == nil && f > 0 {
			v = uint64(f)
		}
	}
	if rest == "" {
		return v, nil
	}
	switch rest[0] {
	case 'G':
		v <<= 30
	case 'M':
		v <<= 20
	case 'k', 'K':
		v <<= 10
	default:
		return 0, errors.InvalidInput(errors.PhaseConfigure, "invalid suffix: "+rest)
	}
	return v, nil
}

// splitMantissa takes the longest leading decimal float, strtod-style:
// an optional sign, digits, an optional fraction, and an exponent only
// when at least one digit follows it.
func splitMantissa(s string) (mant, rest string) {
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	digits := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
			digits++
		}
	}
	if digits == 0 {
		return "", s
	}
	if i < len(s) && (s[i] == 'e' || s[i] == 'E') {
		j := i + 1
		if j < len(s) && (s[j] == '+' || s[j] == '-') {
			j++
		}
		expDigits := 0
		for j < len(s) && s[j] >= '0' && s[j] <= '9' {
			j++
			expDigits++
		}
		if expDigits > 0 {
			i = j
		}
	}
	return s[:i], s[i:]
}
