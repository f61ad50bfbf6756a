package flow

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScaleToUnits(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"0.33", 330000},
		{"1", 1000000},
		{"1.00", 1000000},
		{"0.1", 100000},
		{"12.345678", 12345678},
		{"0.1234567", 123456}, // digits past the token precision are truncated
		{"0.9999999", 999999},
		{".5", 500000},
		{"0", 0},
	}
	for _, tc := range cases {
		got, err := ScaleToUnits(tc.in, 6)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got.Int64(), tc.in)
	}
}

func TestScaleToUnitsRejectsBadInput(t *testing.T) {
	for _, in := range []string{"", "abc", "-1", "1.2.3", "1,5", "0x10"} {
		_, err := ScaleToUnits(in, 6)
		assert.Error(t, err, in)
	}
}

func TestFormatUnits(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{330000, "0.33"},
		{1000000, "1"},
		{100000, "0.1"},
		{12345678, "12.345678"},
		{0, "0"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, FormatUnits(big.NewInt(tc.in), 6))
	}
}
