package registry

import (
	"context"
	"sort"
	"sync"

	pkgerrors "lanfiasave/pkg/domain-errors"
	"lanfiasave/pkg/money"
)

// InMemoryRegistry keeps beneficiaries in a map guarded by a mutex. It backs
// unit tests and in-process embedding where the real registry is absent.
type InMemoryRegistry struct {
	mu            sync.RWMutex
	beneficiaries map[string]*Beneficiary
}

func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{beneficiaries: make(map[string]*Beneficiary)}
}

// Put inserts or replaces a beneficiary record. Test and seeding helper.
func (r *InMemoryRegistry) Put(b *Beneficiary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *b
	r.beneficiaries[b.ID] = &clone
}

func (r *InMemoryRegistry) Get(_ context.Context, beneficiaryID string) (*Beneficiary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.beneficiaries[beneficiaryID]
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "beneficiary %s not found", beneficiaryID)
	}
	clone := *b
	return &clone, nil
}

// ResolveCategory returns eligible, validated members of the category in
// stable ID order so share remainders land deterministically.
func (r *InMemoryRegistry) ResolveCategory(_ context.Context, category string) ([]*Beneficiary, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var members []*Beneficiary
	for _, b := range r.beneficiaries {
		if b.Category == category && b.Eligible() {
			clone := *b
			members = append(members, &clone)
		}
	}
	sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
	return members, nil
}

func (r *InMemoryRegistry) GetBalance(_ context.Context, beneficiaryID string) (money.Amount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.beneficiaries[beneficiaryID]
	if !ok {
		return 0, pkgerrors.Newf(pkgerrors.CodeNotFound, "beneficiary %s not found", beneficiaryID)
	}
	return b.AmountReceived, nil
}

func (r *InMemoryRegistry) IncrementBalance(_ context.Context, beneficiaryID string, delta money.Amount) (money.Amount, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.beneficiaries[beneficiaryID]
	if !ok {
		return 0, pkgerrors.Newf(pkgerrors.CodeNotFound, "beneficiary %s not found", beneficiaryID)
	}
	b.AmountReceived += delta
	return b.AmountReceived, nil
}

func (r *InMemoryRegistry) SetEligible(_ context.Context, beneficiaryID string, eligible bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.beneficiaries[beneficiaryID]
	if !ok {
		return pkgerrors.Newf(pkgerrors.CodeNotFound, "beneficiary %s not found", beneficiaryID)
	}
	b.Vulnerable = eligible
	return nil
}
