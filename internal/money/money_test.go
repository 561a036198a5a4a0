package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMajor(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"12", 1200},
		{"12.5", 1250},
		{"0.005", 1},
		{"0.004", 0},
		{"1000.99", 100099},
	}
	for _, tt := range tests {
		got, err := ParseMajor(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseMajor("ten")
	assert.Error(t, err)
}

func TestRoundMinorHalfUp(t *testing.T) {
	assert.Equal(t, int64(3), RoundMinor(decimal.RequireFromString("2.5")))
	assert.Equal(t, int64(2), RoundMinor(decimal.RequireFromString("2.49")))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "KES 1,234,567.05", Format(123456705, "KES"))
	assert.Equal(t, "KES -0.50", Format(-50, "KES"))
	assert.Equal(t, "KES 999.00", Format(FromMajor(999), "KES"))
	assert.True(t, ToDecimal(150).Equal(decimal.RequireFromString("1.5")))
}
