package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	pkgerrors "lanfiasave/pkg/domain-errors"
	"lanfiasave/pkg/money"
)

// InMemoryStore keeps donations and allocations in maps guarded by a single
// mutex. Multi-step atomicity comes from the memory TxRunner: the service
// checks every precondition before its first write, so a failed distribution
// leaves no partial state behind.
type InMemoryStore struct {
	mu          sync.RWMutex
	donations   map[string]*Donation
	attached    map[string][]string
	allocations map[string]*Allocation
	byDonation  map[string][]string
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		donations:   make(map[string]*Donation),
		attached:    make(map[string][]string),
		allocations: make(map[string]*Allocation),
		byDonation:  make(map[string][]string),
	}
}

func (s *InMemoryStore) CreateDonation(_ context.Context, d *Donation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.donations[d.ID]; exists {
		return pkgerrors.Newf(pkgerrors.CodeConflict, "donation %s already exists", d.ID)
	}
	clone := *d
	s.donations[d.ID] = &clone
	return nil
}

func (s *InMemoryStore) GetDonation(_ context.Context, donationID string) (*Donation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(donationID)
}

// GetDonationForUpdate is identical to GetDonation in memory: the per-donation
// shard lock held by the TxRunner is the write lock.
func (s *InMemoryStore) GetDonationForUpdate(_ context.Context, donationID string) (*Donation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(donationID)
}

func (s *InMemoryStore) getLocked(donationID string) (*Donation, error) {
	d, ok := s.donations[donationID]
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "donation %s not found", donationID)
	}
	clone := *d
	return &clone, nil
}

func (s *InMemoryStore) SetDonationState(_ context.Context, donationID string, state DonationState, distributedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.donations[donationID]
	if !ok {
		return pkgerrors.Newf(pkgerrors.CodeNotFound, "donation %s not found", donationID)
	}
	d.State = state
	d.DistributedAt = distributedAt
	return nil
}

func (s *InMemoryStore) ListByDonor(_ context.Context, donorID string) ([]*Donation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Donation
	for _, d := range s.donations {
		if d.DonorID == donorID {
			clone := *d
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) AttachBeneficiaries(_ context.Context, donationID string, beneficiaryIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.donations[donationID]; !ok {
		return pkgerrors.Newf(pkgerrors.CodeNotFound, "donation %s not found", donationID)
	}
	current := s.attached[donationID]
	seen := make(map[string]struct{}, len(current))
	for _, id := range current {
		seen[id] = struct{}{}
	}
	for _, id := range beneficiaryIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		current = append(current, id)
	}
	s.attached[donationID] = current
	return nil
}

func (s *InMemoryStore) ListAttached(_ context.Context, donationID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string{}, s.attached[donationID]...), nil
}

func (s *InMemoryStore) InsertAllocations(_ context.Context, allocations []*Allocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range allocations {
		if _, exists := s.allocations[a.ID]; exists {
			return pkgerrors.Newf(pkgerrors.CodeConflict, "allocation %s already exists", a.ID)
		}
	}
	for _, a := range allocations {
		clone := *a
		s.allocations[a.ID] = &clone
		s.byDonation[a.DonationID] = append(s.byDonation[a.DonationID], a.ID)
	}
	return nil
}

func (s *InMemoryStore) DeleteAllocations(_ context.Context, donationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.byDonation[donationID] {
		delete(s.allocations, id)
	}
	delete(s.byDonation, donationID)
	return nil
}

func (s *InMemoryStore) GetAllocation(_ context.Context, allocationID string) (*Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.allocations[allocationID]
	if !ok {
		return nil, pkgerrors.Newf(pkgerrors.CodeNotFound, "allocation %s not found", allocationID)
	}
	clone := *a
	return &clone, nil
}

func (s *InMemoryStore) ListAllocationsByDonation(_ context.Context, donationID string) ([]*Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Allocation
	for _, id := range s.byDonation[donationID] {
		clone := *s.allocations[id]
		out = append(out, &clone)
	}
	return out, nil
}

func (s *InMemoryStore) ListAllocationsByBeneficiary(_ context.Context, beneficiaryID string, withdrawn bool) ([]*Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Allocation
	for _, a := range s.allocations {
		if a.BeneficiaryID == beneficiaryID && a.Withdrawn == withdrawn {
			clone := *a
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ComputedAt.Before(out[j].ComputedAt) })
	return out, nil
}

func (s *InMemoryStore) MarkWithdrawn(_ context.Context, allocationID string, at time.Time) (money.Amount, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.allocations[allocationID]
	if !ok {
		return 0, false, pkgerrors.Newf(pkgerrors.CodeNotFound, "allocation %s not found", allocationID)
	}
	if a.Withdrawn {
		return a.Share, false, nil
	}
	a.Withdrawn = true
	a.WithdrawnAt = &at
	return a.Share, true, nil
}

func (s *InMemoryStore) MarkAllWithdrawn(_ context.Context, beneficiaryID string, at time.Time) (money.Amount, []*Allocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total money.Amount
	var flipped []*Allocation
	for _, a := range s.allocations {
		if a.BeneficiaryID != beneficiaryID || a.Withdrawn {
			continue
		}
		a.Withdrawn = true
		a.WithdrawnAt = &at
		total += a.Share
		clone := *a
		flipped = append(flipped, &clone)
	}
	sort.Slice(flipped, func(i, j int) bool { return flipped[i].ComputedAt.Before(flipped[j].ComputedAt) })
	return total, flipped, nil
}
