// Package allocation computes per-beneficiary shares and goal-threshold
// transitions for a donation. It is pure: no persistence, no side effects.
// The ledger invokes it inside the distribution transaction and persists
// whatever it returns.
package allocation

import (
	"fmt"

	"lanfiasave/pkg/money"
)

// GoalThreshold is the cumulative amount at which a beneficiary has met their
// funding objective and stops being eligible for further allocation.
const GoalThreshold money.Amount = 200_000

// EffectKind labels the threshold outcome of crediting one share.
type EffectKind string

const (
	// EffectGoalReached fires when a credit moves a beneficiary's cumulative
	// total from below to at-or-above GoalThreshold. The ledger flips the
	// eligibility flag off in response.
	EffectGoalReached EffectKind = "goal_reached"
	// EffectGoalProgress fires otherwise and carries the remaining amount.
	EffectGoalProgress EffectKind = "goal_progress"
)

// Entry is one resolved beneficiary with their balance before this donation.
// Order matters: the rounding remainder is assigned to the first entry.
type Entry struct {
	BeneficiaryID string
	PriorBalance  money.Amount
}

// Share is one beneficiary's computed portion of the donation.
type Share struct {
	BeneficiaryID string
	Amount        money.Amount
}

// Effect describes what crediting one share does to the beneficiary's goal
// standing, together with the confirmation text the notification sink will
// deliver. Formatting beyond plain text is an external concern.
type Effect struct {
	Kind          EffectKind
	BeneficiaryID string
	NewBalance    money.Amount
	// Remaining is the distance to GoalThreshold after the credit; zero when
	// the goal has been reached.
	Remaining money.Amount
	Message   string
}

// Result is the full outcome of splitting one donation.
type Result struct {
	Shares       []Share
	Effects      []Effect
	DonorMessage string
}

// Split partitions amount across the entries and derives threshold effects.
//
// With a single entry the share is the full amount. With N > 1 entries the
// nominal share is amount/N in truncating fixed-point division; the remainder
// goes to the first entry so the shares always sum exactly to amount. An
// empty entry set or a non-positive amount is a caller defect: the ledger
// rejects both before invoking the engine.
func Split(amount money.Amount, donor string, entries []Entry) Result {
	if len(entries) == 0 {
		panic("allocation: empty beneficiary set")
	}
	if !amount.IsPositive() {
		panic("allocation: non-positive amount")
	}

	nominal, remainder := amount.Split(len(entries))

	result := Result{
		Shares:       make([]Share, 0, len(entries)),
		Effects:      make([]Effect, 0, len(entries)),
		DonorMessage: fmt.Sprintf("Your donation of %s has been validated and distributed.", amount),
	}

	for i, entry := range entries {
		share := nominal
		if i == 0 {
			share += remainder
		}
		result.Shares = append(result.Shares, Share{BeneficiaryID: entry.BeneficiaryID, Amount: share})
		result.Effects = append(result.Effects, Credit(entry, share, donor))
	}
	return result
}

// Credit derives the threshold effect of adding share to one beneficiary's
// cumulative total. The ledger calls it with the balance actually observed at
// increment time, so a concurrent distribution of a different donation to the
// same beneficiary cannot produce a stale threshold decision.
func Credit(entry Entry, share money.Amount, donor string) Effect {
	newBalance := entry.PriorBalance + share
	received := fmt.Sprintf("You have received a donation of %s from %s.", share, donor)

	if entry.PriorBalance < GoalThreshold && newBalance >= GoalThreshold {
		return Effect{
			Kind:          EffectGoalReached,
			BeneficiaryID: entry.BeneficiaryID,
			NewBalance:    newBalance,
			Message:       received + " Congratulations! You have reached your funding goal.",
		}
	}

	remaining := GoalThreshold - newBalance
	if remaining < 0 {
		remaining = 0
	}
	return Effect{
		Kind:          EffectGoalProgress,
		BeneficiaryID: entry.BeneficiaryID,
		NewBalance:    newBalance,
		Remaining:     remaining,
		Message:       fmt.Sprintf("%s You have %s remaining to reach your funding goal.", received, remaining),
	}
}
