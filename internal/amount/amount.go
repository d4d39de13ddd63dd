// Package amount converts between display amounts and token minor units.
package amount

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/Fantasim/payflow/internal/config"
)

var maxUint64 = decimal.NewFromUint64(math.MaxUint64)

// ToMinor converts a major-unit decimal string such as "12.50" into minor
// units of a token with the given decimals. Zero, negative, over-precise and
// out-of-range amounts are rejected with config.ErrInvalidAmount.
func ToMinor(major string, decimals int32) (uint64, error) {
	d, err := decimal.NewFromString(major)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", config.ErrInvalidAmount, major)
	}
	return DecimalToMinor(d, decimals)
}

// DecimalToMinor is ToMinor for an already parsed decimal.
func DecimalToMinor(d decimal.Decimal, decimals int32) (uint64, error) {
	if !d.IsPositive() {
		return 0, fmt.Errorf("%w: must be greater than zero, got %s", config.ErrInvalidAmount, d)
	}
	scaled := d.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than %d decimal places", config.ErrInvalidAmount, d, decimals)
	}
	if scaled.GreaterThan(maxUint64) {
		return 0, fmt.Errorf("%w: %s is out of range", config.ErrInvalidAmount, d)
	}
	return scaled.BigInt().Uint64(), nil
}

// FromMinor formats minor units as a major-unit decimal string.
func FromMinor(minor uint64, decimals int32) string {
	return decimal.NewFromUint64(minor).Shift(-decimals).StringFixed(decimals)
}

// USDC converts a dollar amount into USDC minor units.
func USDC(dollars string) (uint64, error) {
	return ToMinor(dollars, config.USDCDecimals)
}

// FormatUSDC renders USDC minor units as dollars.
func FormatUSDC(minor uint64) string {
	return FromMinor(minor, config.USDCDecimals)
}
