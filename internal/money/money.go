// Package money converts between int64 minor units, which every balance and
// posting uses, and decimal major units used for rates and display.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MinorPerMajor is the number of minor units (cents) per currency unit.
const MinorPerMajor = 100

var hundred = decimal.NewFromInt(MinorPerMajor)

// FromMajor converts whole currency units to minor units.
func FromMajor(units int64) int64 {
	return units * MinorPerMajor
}

// ToDecimal returns the major-unit decimal representation of a minor amount.
func ToDecimal(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// RoundMinor rounds a decimal number of minor units half-up to an int64.
func RoundMinor(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}

// ParseMajor parses a major-unit string such as "12.50" into minor units,
// rounding half-up beyond two decimal places.
func ParseMajor(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return RoundMinor(d.Mul(hundred)), nil
}

// Format renders a minor amount for display, e.g. "KES 1,234.50".
func Format(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	whole := minor / MinorPerMajor
	frac := minor % MinorPerMajor
	return fmt.Sprintf("%s %s%s.%02d", currency, sign, groupThousands(whole), frac)
}

func groupThousands(n int64) string {
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	out := make([]byte, 0, len(s)+len(s)/3)
	lead := len(s) % 3
	if lead > 0 {
		out = append(out, s[:lead]...)
	}
	for i := lead; i < len(s); i += 3 {
		if len(out) > 0 {
			out = append(out, ',')
		}
		out = append(out, s[i:i+3]...)
	}
	return string(out)
}
