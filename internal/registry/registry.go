package registry

import (
	"context"

	"lanfiasave/pkg/money"
)

// Registry is the beneficiary-registry contract the ledger consumes. The
// registry itself is an external collaborator; implementations here exist so
// the ledger can be embedded and tested without the surrounding platform.
//
// ResolveCategory returns only eligible, administratively validated members.
// IncrementBalance must be an atomic read-modify-write: concurrent increments
// from distributions of different donations are never lost.
type Registry interface {
	Get(ctx context.Context, beneficiaryID string) (*Beneficiary, error)
	ResolveCategory(ctx context.Context, category string) ([]*Beneficiary, error)
	GetBalance(ctx context.Context, beneficiaryID string) (money.Amount, error)
	IncrementBalance(ctx context.Context, beneficiaryID string, delta money.Amount) (money.Amount, error)
	SetEligible(ctx context.Context, beneficiaryID string, eligible bool) error
}
