package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MinorUnitExponent is the number of decimal places between major and minor currency units.
const MinorUnitExponent = 2

// MaxAmountMinor caps a single consult charge (1,000,000.00 in major units).
const MaxAmountMinor int64 = 100_000_000

// ParseAmount converts a major-unit decimal string such as "500" or "499.50" to minor units.
func ParseAmount(raw string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, fmt.Errorf("%w: amount is required", ErrValidation)
	}

	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q is not a number", ErrValidation, raw)
	}

	return AmountFromDecimal(value)
}

func AmountFromDecimal(value decimal.Decimal) (int64, error) {
	if !value.IsPositive() {
		return 0, fmt.Errorf("%w: amount must be positive", ErrValidation)
	}

	minor := value.Shift(MinorUnitExponent)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("%w: amount %s has more than %d decimal places", ErrValidation, value.String(), MinorUnitExponent)
	}
	if minor.GreaterThan(decimal.NewFromInt(MaxAmountMinor)) {
		return 0, fmt.Errorf("%w: amount %s exceeds limit", ErrValidation, value.String())
	}

	return minor.IntPart(), nil
}

// FormatAmount renders minor units as a major-unit decimal string.
func FormatAmount(minor int64) string {
	return decimal.New(minor, -MinorUnitExponent).StringFixed(MinorUnitExponent)
}
