package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsPositive(t *testing.T) {
	assert.True(t, Amount(1).IsPositive())
	assert.False(t, Zero.IsPositive())
	assert.False(t, Amount(-1).IsPositive())
}

func TestSplit(t *testing.T) {
	cases := []struct {
		name          string
		amount        Amount
		n             int
		wantShare     Amount
		wantRemainder Amount
	}{
		{"even", 90, 3, 30, 0},
		{"remainder", 100, 3, 33, 1},
		{"single", 100, 1, 100, 0},
		{"smaller than n", 2, 5, 0, 2},
		{"one unit", 1, 3, 0, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			share, remainder := tc.amount.Split(tc.n)
			assert.Equal(t, tc.wantShare, share)
			assert.Equal(t, tc.wantRemainder, remainder)
			assert.Equal(t, tc.amount, share*Amount(tc.n)+remainder)
		})
	}
}

func TestString(t *testing.T) {
	assert.Equal(t, "200000", Amount(200_000).String())
	assert.Equal(t, "-5", Amount(-5).String())
}
