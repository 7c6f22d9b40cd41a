// Package helpers provides common utility functions used across the codebase.
package helpers

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// SatsPerBTC is the number of satoshis in one bitcoin.
const SatsPerBTC = 100_000_000

// BTCToSats converts a BTC value as reported by Electrum (a JSON float) to
// satoshis, rounding half away from zero. The conversion goes through a
// decimal so that values like 0.29 do not come out as 28999999.
func BTCToSats(btc float64) int64 {
	return decimal.NewFromFloat(btc).Shift(8).Round(0).IntPart()
}

// SatsToBTC converts satoshis to a BTC float value.
func SatsToBTC(sats int64) float64 {
	f, _ := decimal.New(sats, -8).Float64()
	return f
}

// FormatBTC formats satoshis as a BTC string with trailing zeros trimmed.
// For example, FormatBTC(150000000) returns "1.5".
func FormatBTC(sats int64) string {
	return decimal.New(sats, -8).String()
}

// ParseBTC parses a decimal BTC string to satoshis. More than eight
// fractional digits is an error.
func ParseBTC(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("empty amount string")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	shifted := d.Shift(8)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has more than 8 decimal places", s)
	}
	return shifted.IntPart(), nil
}
