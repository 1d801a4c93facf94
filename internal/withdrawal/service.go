// Package withdrawal lets a beneficiary mark their own allocation shares as
// collected. Withdrawal never moves money; it records the collection fact on
// the allocation, per share, so one beneficiary's action can never appear to
// withdraw a donation for everyone it fanned out to.
package withdrawal

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"lanfiasave/internal/audit"
	"lanfiasave/internal/ledger"
	"lanfiasave/internal/ledger/metrics"
	pkgerrors "lanfiasave/pkg/domain-errors"
	"lanfiasave/pkg/money"
)

// Recorder appends audit events. Satisfied by audit.Publisher.
type Recorder interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service tracks withdrawals against the ledger store.
type Service struct {
	store    ledger.Store
	metrics  *metrics.Metrics
	recorder Recorder
	log      zerolog.Logger
	now      func() time.Time
}

// Option customizes optional collaborators.
type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store ledger.Store, opts ...Option) *Service {
	s := &Service{store: store, log: zerolog.Nop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Withdraw marks one allocation as collected by its owner. Withdrawing an
// already-withdrawn allocation is a no-op, not an error. Fails with NotOwned
// when the allocation belongs to someone else and NotYetDistributed when the
// parent donation is not Distributed (unreachable given that allocations are
// created at distribution time; kept for defensive completeness).
func (s *Service) Withdraw(ctx context.Context, allocationID, beneficiaryID string) error {
	a, err := s.store.GetAllocation(ctx, allocationID)
	if err != nil {
		return err
	}
	if a.BeneficiaryID != beneficiaryID {
		return pkgerrors.Newf(pkgerrors.CodeNotOwned, "allocation %s does not belong to beneficiary %s", allocationID, beneficiaryID)
	}
	d, err := s.store.GetDonation(ctx, a.DonationID)
	if err != nil {
		return err
	}
	if d.State != ledger.StateDistributed {
		return pkgerrors.Newf(pkgerrors.CodeNotYetDistributed, "donation %s is not yet distributed", a.DonationID)
	}

	share, flipped, err := s.store.MarkWithdrawn(ctx, allocationID, s.now())
	if err != nil {
		return err
	}
	if !flipped {
		return nil
	}

	s.metrics.AddWithdrawals(1)
	s.record(ctx, audit.Event{
		Action:     audit.ActionAllocationWithdrawn,
		DonationID: a.DonationID,
		Subject:    beneficiaryID,
		Amount:     share,
	})
	return nil
}

// WithdrawAll withdraws every outstanding allocation owned by the beneficiary
// in one atomic batch and returns the total amount withdrawn.
func (s *Service) WithdrawAll(ctx context.Context, beneficiaryID string) (money.Amount, error) {
	total, flipped, err := s.store.MarkAllWithdrawn(ctx, beneficiaryID, s.now())
	if err != nil {
		return 0, err
	}

	s.metrics.AddWithdrawals(len(flipped))
	for _, a := range flipped {
		s.record(ctx, audit.Event{
			Action:     audit.ActionAllocationWithdrawn,
			DonationID: a.DonationID,
			Subject:    beneficiaryID,
			Amount:     a.Share,
		})
	}
	return total, nil
}

// ListOutstanding returns the beneficiary's not-yet-withdrawn allocations.
func (s *Service) ListOutstanding(ctx context.Context, beneficiaryID string) ([]*ledger.Allocation, error) {
	return s.store.ListAllocationsByBeneficiary(ctx, beneficiaryID, false)
}

// ListWithdrawn returns the beneficiary's withdrawn allocations.
func (s *Service) ListWithdrawn(ctx context.Context, beneficiaryID string) ([]*ledger.Allocation, error) {
	return s.store.ListAllocationsByBeneficiary(ctx, beneficiaryID, true)
}

// OutstandingTotal sums the beneficiary's not-yet-withdrawn shares.
func (s *Service) OutstandingTotal(ctx context.Context, beneficiaryID string) (money.Amount, error) {
	allocations, err := s.ListOutstanding(ctx, beneficiaryID)
	if err != nil {
		return 0, err
	}
	var total money.Amount
	for _, a := range allocations {
		total += a.Share
	}
	return total, nil
}

func (s *Service) record(ctx context.Context, event audit.Event) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Emit(ctx, event); err != nil {
		s.log.Warn().Err(err).Str("action", string(event.Action)).Msg("audit append failed")
	}
}
