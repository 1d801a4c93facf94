package audit

import (
	"time"

	"lanfiasave/pkg/money"
)

// Action labels what happened to the ledger.
type Action string

const (
	ActionDonationCreated      Action = "donation_created"
	ActionDonationDistributed  Action = "donation_distributed"
	ActionDistributionReversed Action = "distribution_reversed"
	ActionAllocationWithdrawn  Action = "allocation_withdrawn"
)

// Event is emitted from ledger operations to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID         string
	Action     Action
	DonationID string
	// Subject is the acting party: the validator for distributions, the
	// beneficiary for withdrawals.
	Subject   string
	Amount    money.Amount
	Detail    string
	Timestamp time.Time
}
