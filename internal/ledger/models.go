package ledger

import (
	"time"

	"lanfiasave/pkg/money"
)

// DonationState is the donation lifecycle state. The only forward edge is
// Pending -> Distributed; the reverse edge exists solely as the
// administrative reversal of an erroneous distribution.
type DonationState string

const (
	StatePending     DonationState = "pending"
	StateDistributed DonationState = "distributed"
)

// Donation is a pledge of a fixed amount from a donor. Amount is immutable
// after creation. The target is either the attached beneficiary set or, when
// none are attached, every eligible validated member of Category at
// distribution time.
type Donation struct {
	ID          string
	DonorID     string
	Category    string
	Amount      money.Amount
	Provenance  string
	Description string
	State       DonationState
	CreatedAt   time.Time
	// DistributedAt is set exactly once, when the state flips to Distributed,
	// and cleared only by an administrative reversal.
	DistributedAt *time.Time
}

// Allocation records one beneficiary's share of one donation. The share is
// computed once at distribution time and never recomputed; the withdrawn flag
// is the only mutable field and flips false -> true monotonically, owned by
// the receiving beneficiary's own action.
type Allocation struct {
	ID            string
	DonationID    string
	BeneficiaryID string
	Share         money.Amount
	Withdrawn     bool
	WithdrawnAt   *time.Time
	ComputedAt    time.Time
}

// DonationStatus is the read model returned by GetState: lifecycle state plus
// the attached (or distribution-resolved) beneficiary set.
type DonationStatus struct {
	Donation      *Donation
	Beneficiaries []string
	Allocations   []*Allocation
}
