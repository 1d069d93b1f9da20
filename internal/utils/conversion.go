/*
This file contains common utility functions for converting between on-chain
integer token amounts and display units, with precision handling suitable for
financial decisions.
*/

package utils

import (
	"errors"
	"fmt"
	"math"
	"strings"

	sdkmath "cosmossdk.io/math"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPrecision = errors.New("precision is invalid")
	ErrAmountNil        = errors.New("amount is nil")
	ErrAmountNegative   = errors.New("amount is negative")
	ErrNotFinite        = errors.New("value is not finite")
	ErrConversionFailed = errors.New("conversion failed")
)

// FormatUnits renders an integer token amount as an exact decimal string at
// the given precision, e.g. 1500000 at 6 decimals -> "1.500000".
func FormatUnits(amount sdkmath.Int, precision int) (string, error) {
	if precision < 0 || precision > 18 {
		return "", fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidPrecision, precision)
	}
	if amount.IsNil() {
		return "", ErrAmountNil
	}
	if amount.IsNegative() {
		return "", ErrAmountNegative
	}
	if precision == 0 {
		return amount.String(), nil
	}

	raw := amount.String()
	if len(raw) <= precision {
		raw = strings.Repeat("0", precision-len(raw)+1) + raw
	}
	split := len(raw) - precision
	return raw[:split] + "." + raw[split:], nil
}

// IntToFloat64 converts an integer token amount to a display-unit float64.
func IntToFloat64(amount sdkmath.Int, precision int) (float64, error) {
	formatted, err := FormatUnits(amount, precision)
	if err != nil {
		return 0, err
	}

	dec, err := sdkmath.LegacyNewDecFromStr(formatted)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}
	result, err := dec.Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, result)
	}
	return result, nil
}

// ApprovalAmountCeil converts an integer token amount to a display-unit
// float64 that is never below the exact value: the exact decimal string is
// scaled back to base units and rounded up to the nearest unit before the
// final division. Under-approving due to floating rounding would make the
// subsequent deposit revert.
func ApprovalAmountCeil(amount sdkmath.Int, precision int) (float64, error) {
	formatted, err := FormatUnits(amount, precision)
	if err != nil {
		return 0, err
	}

	dec, err := sdkmath.LegacyNewDecFromStr(formatted)
	if err != nil {
		return 0, fmt.Errorf("%w: failed to create decimal from string: %w", ErrConversionFailed, err)
	}

	factor := sdkmath.LegacyNewDec(1)
	for i := 0; i < precision; i++ {
		factor = factor.Mul(sdkmath.LegacyNewDec(10))
	}

	baseUnits := dec.Mul(factor).Ceil()
	result, err := baseUnits.Quo(factor).Float64()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}
	if math.IsNaN(result) || math.IsInf(result, 0) {
		return 0, fmt.Errorf("%w: result is %f", ErrNotFinite, result)
	}
	if result < 0 {
		return 0, ErrAmountNegative
	}
	return result, nil
}
