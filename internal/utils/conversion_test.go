package utils

import (
	"strconv"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatUnits(t *testing.T) {
	cases := []struct {
		name      string
		amount    int64
		precision int
		expected  string
	}{
		{"whole and fraction", 1500000, 6, "1.500000"},
		{"less than one", 123, 6, "0.000123"},
		{"exactly one unit", 1, 6, "0.000001"},
		{"zero", 0, 6, "0.000000"},
		{"zero precision", 42, 0, "42"},
		{"large amount", 500000000, 6, "500.000000"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FormatUnits(sdkmath.NewInt(tc.amount), tc.precision)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, got)
		})
	}
}

func TestFormatUnitsRejectsInvalidInput(t *testing.T) {
	_, err := FormatUnits(sdkmath.NewInt(1), -1)
	assert.ErrorIs(t, err, ErrInvalidPrecision)

	_, err = FormatUnits(sdkmath.NewInt(1), 19)
	assert.ErrorIs(t, err, ErrInvalidPrecision)

	_, err = FormatUnits(sdkmath.NewInt(-5), 6)
	assert.ErrorIs(t, err, ErrAmountNegative)

	_, err = FormatUnits(sdkmath.Int{}, 6)
	assert.ErrorIs(t, err, ErrAmountNil)
}

func TestIntToFloat64(t *testing.T) {
	got, err := IntToFloat64(sdkmath.NewInt(1500000), 6)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, got, 1e-12)

	got, err = IntToFloat64(sdkmath.NewInt(500000000), 6)
	require.NoError(t, err)
	assert.InDelta(t, 500.0, got, 1e-9)
}

func TestApprovalAmountCeilNeverUnderApproves(t *testing.T) {
	// Exact representable values stay exact.
	got, err := ApprovalAmountCeil(sdkmath.NewInt(1000000), 6)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got)

	// Sweep a range of awkward base-unit amounts: scaling the result back to
	// base units must never land below the original amount.
	amounts := []int64{1, 7, 999999, 1000001, 123456789, 999999999999999}
	for _, amount := range amounts {
		approved, err := ApprovalAmountCeil(sdkmath.NewInt(amount), 6)
		require.NoError(t, err)

		dec, err := sdkmath.LegacyNewDecFromStr(strconv.FormatFloat(approved, 'f', -1, 64))
		require.NoError(t, err)
		back := dec.MulInt64(1_000000).TruncateInt()
		assert.True(t, back.GTE(sdkmath.NewInt(amount)),
			"approval %v scaled back to %s, below original %d", approved, back, amount)
	}
}
