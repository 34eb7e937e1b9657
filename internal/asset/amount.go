package asset

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ToBaseUnits converts a human amount to the integer smallest-unit string
// at the given precision: round(amount * 10^decimals), half away from zero.
func ToBaseUnits(amount decimal.Decimal, decimals int) (string, error) {
	if decimals < 0 {
		return "", fmt.Errorf("decimals must be >= 0, got %d", decimals)
	}
	if amount.IsNegative() {
		return "", fmt.Errorf("amount must be non-negative, got %s", amount)
	}
	return amount.Shift(int32(decimals)).Round(0).String(), nil
}

// FromBaseUnits converts an integer smallest-unit string back to a human
// amount at the given precision.
func FromBaseUnits(baseUnits string, decimals int) (decimal.Decimal, error) {
	raw := strings.TrimSpace(baseUnits)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("base units are required")
	}
	n, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse base units %q: %w", baseUnits, err)
	}
	if !n.IsInteger() {
		return decimal.Zero, fmt.Errorf("base units must be an integer, got %q", baseUnits)
	}
	if n.IsNegative() {
		return decimal.Zero, fmt.Errorf("base units must be non-negative, got %q", baseUnits)
	}
	if decimals < 0 {
		return decimal.Zero, fmt.Errorf("decimals must be >= 0, got %d", decimals)
	}
	return n.Shift(int32(-decimals)), nil
}
