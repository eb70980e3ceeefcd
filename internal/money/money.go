// Package money converts between decimal amounts and integer minor units.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Cents converts d to minor units. It fails when d has more than two
// fractional digits, so no value is silently rounded.
func Cents(d decimal.Decimal) (int64, error) {
	shifted := d.Shift(2)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("amount %s has more than two decimal places", d.String())
	}
	return shifted.IntPart(), nil
}

// Decimal converts minor units back to a decimal amount.
func Decimal(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// Format renders cents with exactly two decimals and no separators, e.g. 2500.00.
func Format(cents int64) string {
	return Decimal(cents).StringFixed(2)
}

// Parse reads a gateway amount string such as "2500.00".
func Parse(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return Cents(d)
}
