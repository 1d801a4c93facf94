package allocation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lanfiasave/pkg/money"
)

func TestSplit_SingleBeneficiaryGetsFullAmount(t *testing.T) {
	result := Split(100_000, "donor-1", []Entry{
		{BeneficiaryID: "b1", PriorBalance: 150_000},
	})

	require.Len(t, result.Shares, 1)
	assert.Equal(t, money.Amount(100_000), result.Shares[0].Amount)

	require.Len(t, result.Effects, 1)
	effect := result.Effects[0]
	assert.Equal(t, EffectGoalReached, effect.Kind)
	assert.Equal(t, money.Amount(250_000), effect.NewBalance)
	assert.Contains(t, effect.Message, "reached your funding goal")
}

func TestSplit_EvenSplitNoRemainder(t *testing.T) {
	result := Split(90, "donor-1", []Entry{
		{BeneficiaryID: "b1"}, {BeneficiaryID: "b2"}, {BeneficiaryID: "b3"},
	})

	require.Len(t, result.Shares, 3)
	var sum money.Amount
	for _, share := range result.Shares {
		assert.Equal(t, money.Amount(30), share.Amount)
		sum += share.Amount
	}
	assert.Equal(t, money.Amount(90), sum)

	for _, effect := range result.Effects {
		assert.Equal(t, EffectGoalProgress, effect.Kind)
	}
}

func TestSplit_RemainderGoesToFirstBeneficiary(t *testing.T) {
	result := Split(100, "donor-1", []Entry{
		{BeneficiaryID: "b1"}, {BeneficiaryID: "b2"}, {BeneficiaryID: "b3"},
	})

	require.Len(t, result.Shares, 3)
	assert.Equal(t, money.Amount(34), result.Shares[0].Amount)
	assert.Equal(t, money.Amount(33), result.Shares[1].Amount)
	assert.Equal(t, money.Amount(33), result.Shares[2].Amount)

	var sum money.Amount
	for _, share := range result.Shares {
		sum += share.Amount
	}
	assert.Equal(t, money.Amount(100), sum)
}

func TestSplit_SumInvariantHoldsForAwkwardAmounts(t *testing.T) {
	cases := []struct {
		name   string
		amount money.Amount
		n      int
	}{
		{"prime amount many beneficiaries", 9973, 7},
		{"amount smaller than headcount", 2, 5},
		{"one unit", 1, 3},
		{"large donation", 1_000_000_001, 13},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			entries := make([]Entry, tc.n)
			for i := range entries {
				entries[i] = Entry{BeneficiaryID: string(rune('a' + i))}
			}
			result := Split(tc.amount, "donor", entries)

			var sum money.Amount
			for _, share := range result.Shares {
				sum += share.Amount
			}
			assert.Equal(t, tc.amount, sum)

			// Remainder is bounded: no share deviates from nominal by more
			// than the full remainder, and only the first share deviates.
			nominal, _ := tc.amount.Split(tc.n)
			for i, share := range result.Shares[1:] {
				assert.Equal(t, nominal, share.Amount, "share %d", i+1)
			}
		})
	}
}

func TestSplit_GoalProgressCarriesRemaining(t *testing.T) {
	result := Split(50_000, "donor-1", []Entry{
		{BeneficiaryID: "b1", PriorBalance: 100_000},
	})

	effect := result.Effects[0]
	assert.Equal(t, EffectGoalProgress, effect.Kind)
	assert.Equal(t, money.Amount(50_000), effect.Remaining)
	assert.Contains(t, effect.Message, "50000 remaining")
}

func TestSplit_ExactThresholdCountsAsReached(t *testing.T) {
	result := Split(50_000, "donor-1", []Entry{
		{BeneficiaryID: "b1", PriorBalance: 150_000},
	})

	effect := result.Effects[0]
	assert.Equal(t, EffectGoalReached, effect.Kind)
	assert.Equal(t, GoalThreshold, effect.NewBalance)
}

func TestSplit_AlreadyOverThresholdDoesNotFireAgain(t *testing.T) {
	// A beneficiary already past the goal receiving more (possible via
	// explicit attach) must not emit a second GoalReached.
	result := Split(10_000, "donor-1", []Entry{
		{BeneficiaryID: "b1", PriorBalance: 210_000},
	})

	effect := result.Effects[0]
	assert.Equal(t, EffectGoalProgress, effect.Kind)
	assert.Equal(t, money.Amount(0), effect.Remaining)
}

func TestSplit_PanicsOnEmptyEntries(t *testing.T) {
	assert.Panics(t, func() { Split(100, "donor", nil) })
}

func TestSplit_PanicsOnNonPositiveAmount(t *testing.T) {
	assert.Panics(t, func() { Split(0, "donor", []Entry{{BeneficiaryID: "b1"}}) })
}

func TestCredit_MessageNamesDonorAndShare(t *testing.T) {
	effect := Credit(Entry{BeneficiaryID: "b1", PriorBalance: 0}, 2_500, "donor-9")
	assert.Contains(t, effect.Message, "2500")
	assert.Contains(t, effect.Message, "donor-9")
}
