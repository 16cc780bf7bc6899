// Package numeric defines the fixed-point decimal types used for every
// price and volume in the feed runtime. Prices, volumes, and their derived
// sums are never represented as float64; the only place a float appears is
// inside a rolling-statistics accumulator (z-scores, stddevs) where the
// input is already a plain statistic, never a price.
package numeric

import (
	"github.com/shopspring/decimal"
)

// Price is an arbitrary-precision fixed-point price.
type Price = decimal.Decimal

// Volume is an arbitrary-precision fixed-point quantity.
type Volume = decimal.Decimal

// Zero is the additive identity, exposed to avoid repeating decimal.Zero at
// call sites throughout the codebase.
var Zero = decimal.Zero

// ParsePrice parses a price string, rejecting empty input outright so
// callers get a Parse-level error instead of a silently zeroed price.
func ParsePrice(s string) (Price, error) {
	return decimal.NewFromString(s)
}

// ParseVolume parses a volume string with the same strictness as ParsePrice.
func ParseVolume(s string) (Volume, error) {
	return decimal.NewFromString(s)
}

// Mid returns the midpoint of two prices.
func Mid(a, b Price) Price {
	return a.Add(b).Div(decimal.NewFromInt(2))
}

// BasisPoints converts a ratio (e.g. spread/mid) into basis points.
func BasisPoints(ratio Price) Price {
	return ratio.Mul(decimal.NewFromInt(10000))
}

// Percent converts a ratio into a percentage (ratio * 100).
func Percent(ratio Price) Price {
	return ratio.Mul(decimal.NewFromInt(100))
}
