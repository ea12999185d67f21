// Package phone formats and validates ten-digit phone numbers.
package phone

import "strings"

// Length is the number of digits in a complete number.
const Length = 10

// Digits returns only the ASCII digits of value.
func Digits(value string) string {
	var b strings.Builder
	for _, r := range value {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Format renders value as "(ddd) ddd-dddd", progressively for partial input.
// Non-digits are dropped and anything past the tenth digit is ignored.
func Format(value string) string {
	d := Digits(value)
	if len(d) > Length {
		d = d[:Length]
	}
	switch {
	case len(d) <= 3:
		return d
	case len(d) <= 6:
		return "(" + d[:3] + ") " + d[3:]
	default:
		return "(" + d[:3] + ") " + d[3:6] + "-" + d[6:]
	}
}

// IsValid reports whether value holds exactly ten digits.
func IsValid(value string) bool {
	return len(Digits(value)) == Length
}
