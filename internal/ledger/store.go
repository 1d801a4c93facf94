package ledger

import (
	"context"
	"time"

	"lanfiasave/pkg/money"
)

// Store persists donations and allocations. Implementations must honor the
// context-carried transaction when one is open (Postgres) or rely on the
// TxRunner's per-donation lock (memory); mutation methods are otherwise
// individually atomic.
type Store interface {
	CreateDonation(ctx context.Context, d *Donation) error
	GetDonation(ctx context.Context, donationID string) (*Donation, error)
	// GetDonationForUpdate reads the donation with a write lock held for the
	// remainder of the enclosing transaction. This is the serialization point
	// for the at-most-once distribution contract.
	GetDonationForUpdate(ctx context.Context, donationID string) (*Donation, error)
	// SetDonationState transitions the lifecycle state. distributedAt is
	// recorded on Pending -> Distributed and cleared on reversal.
	SetDonationState(ctx context.Context, donationID string, state DonationState, distributedAt *time.Time) error
	ListByDonor(ctx context.Context, donorID string) ([]*Donation, error)

	// AttachBeneficiaries adds to the donation's attach set; attaching an
	// already-attached beneficiary is a no-op.
	AttachBeneficiaries(ctx context.Context, donationID string, beneficiaryIDs []string) error
	ListAttached(ctx context.Context, donationID string) ([]string, error)

	InsertAllocations(ctx context.Context, allocations []*Allocation) error
	DeleteAllocations(ctx context.Context, donationID string) error
	GetAllocation(ctx context.Context, allocationID string) (*Allocation, error)
	ListAllocationsByDonation(ctx context.Context, donationID string) ([]*Allocation, error)
	ListAllocationsByBeneficiary(ctx context.Context, beneficiaryID string, withdrawn bool) ([]*Allocation, error)
	// MarkWithdrawn flips the withdrawn flag. Returns the allocation's share
	// and whether this call performed the flip (false when already withdrawn).
	MarkWithdrawn(ctx context.Context, allocationID string, at time.Time) (money.Amount, bool, error)
	// MarkAllWithdrawn withdraws every outstanding allocation of a
	// distributed donation owned by the beneficiary in one batch. Returns the
	// total withdrawn and the allocations flipped by this call.
	MarkAllWithdrawn(ctx context.Context, beneficiaryID string, at time.Time) (money.Amount, []*Allocation, error)
}

// TxRunner executes fn inside a transactional boundary scoped to one
// donation. Two concurrent runs against the same donation serialize; partial
// effects are never observable.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type donationKey struct{}

var donationKeyCtx = donationKey{}

// WithDonation tags the context with the donation a transaction is about to
// operate on, so lock-based runners can pick their scope.
func WithDonation(ctx context.Context, donationID string) context.Context {
	return context.WithValue(ctx, donationKeyCtx, donationID)
}

// DonationFrom extracts the tagged donation ID, if any.
func DonationFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(donationKeyCtx).(string)
	return id, ok
}
