package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"lanfiasave/internal/allocation"
	"lanfiasave/internal/audit"
	"lanfiasave/internal/ledger/lock"
	"lanfiasave/internal/ledger/metrics"
	"lanfiasave/internal/notification"
	"lanfiasave/internal/registry"
	pkgerrors "lanfiasave/pkg/domain-errors"
	"lanfiasave/pkg/money"
)

// maxDistributeAttempts bounds transparent retries on storage conflicts
// before the failure surfaces to the caller.
const maxDistributeAttempts = 3

// Recorder appends audit events. Satisfied by audit.Publisher.
type Recorder interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service owns the donation lifecycle state machine and guarantees
// at-most-once distribution. It orchestrates the registry, the allocation
// engine and the notification sink; all multi-row effects of one distribution
// commit or abort together through the TxRunner.
type Service struct {
	store    Store
	runner   TxRunner
	registry registry.Registry
	sink     notification.Sink
	lock     lock.DistributionLock
	metrics  *metrics.Metrics
	recorder Recorder
	log      zerolog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// Option customizes optional service collaborators.
type Option func(*Service)

// WithLock installs a cross-process distribution lock.
func WithLock(l lock.DistributionLock) Option {
	return func(s *Service) { s.lock = l }
}

// WithMetrics installs ledger metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithRecorder installs the audit recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithLogger installs a structured logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithClock overrides the time source. Test hook.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, runner TxRunner, reg registry.Registry, sink notification.Sink, opts ...Option) *Service {
	s := &Service{
		store:    store,
		runner:   runner,
		registry: reg,
		sink:     sink,
		lock:     lock.Noop{},
		log:      zerolog.Nop(),
		tracer:   otel.Tracer("lanfiasave/ledger"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewDonation is the intake payload for CreateDonation.
type NewDonation struct {
	DonorID     string
	Category    string
	Amount      money.Amount
	Provenance  string
	Description string
	// BeneficiaryIDs optionally targets the donation at specific
	// beneficiaries. Non-binding until distribution.
	BeneficiaryIDs []string
}

// CreateDonation registers a pledge in the Pending state. The amount is
// immutable afterwards and must be strictly positive.
func (s *Service) CreateDonation(ctx context.Context, input NewDonation) (*Donation, error) {
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeBadRequest, "donation amount must be greater than zero")
	}
	if input.DonorID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeBadRequest, "donor is required")
	}
	for _, id := range input.BeneficiaryIDs {
		if _, err := s.registry.Get(ctx, id); err != nil {
			return nil, err
		}
	}

	d := &Donation{
		ID:          uuid.NewString(),
		DonorID:     input.DonorID,
		Category:    input.Category,
		Amount:      input.Amount,
		Provenance:  input.Provenance,
		Description: input.Description,
		State:       StatePending,
		CreatedAt:   s.now(),
	}
	if err := s.store.CreateDonation(ctx, d); err != nil {
		return nil, err
	}
	if len(input.BeneficiaryIDs) > 0 {
		if err := s.store.AttachBeneficiaries(ctx, d.ID, input.BeneficiaryIDs); err != nil {
			return nil, err
		}
	}

	s.record(ctx, audit.Event{
		Action:     audit.ActionDonationCreated,
		DonationID: d.ID,
		Subject:    d.DonorID,
		Amount:     d.Amount,
		Detail:     "category " + d.Category,
	})
	return d, nil
}

// AttachBeneficiaries adds explicit targets to a Pending donation. Attaching
// an already-attached beneficiary is a no-op; attaching to a distributed
// donation fails with AlreadyDistributed.
func (s *Service) AttachBeneficiaries(ctx context.Context, donationID string, beneficiaryIDs []string) error {
	ctx = WithDonation(ctx, donationID)
	return s.runner.RunInTx(ctx, func(ctx context.Context) error {
		d, err := s.store.GetDonationForUpdate(ctx, donationID)
		if err != nil {
			return err
		}
		if d.State != StatePending {
			return pkgerrors.Newf(pkgerrors.CodeAlreadyDistributed, "donation %s is already distributed", donationID)
		}
		for _, id := range beneficiaryIDs {
			if _, err := s.registry.Get(ctx, id); err != nil {
				return err
			}
		}
		return s.store.AttachBeneficiaries(ctx, donationID, beneficiaryIDs)
	})
}

// GetState returns the donation's lifecycle state together with its attached
// (or distribution-resolved) beneficiaries and any persisted allocations.
func (s *Service) GetState(ctx context.Context, donationID string) (*DonationStatus, error) {
	d, err := s.store.GetDonation(ctx, donationID)
	if err != nil {
		return nil, err
	}
	attached, err := s.store.ListAttached(ctx, donationID)
	if err != nil {
		return nil, err
	}
	allocations, err := s.store.ListAllocationsByDonation(ctx, donationID)
	if err != nil {
		return nil, err
	}
	return &DonationStatus{Donation: d, Beneficiaries: attached, Allocations: allocations}, nil
}

// ValidateAndDistribute transitions a Pending donation to Distributed exactly
// once: it resolves the beneficiary set, computes shares, credits balances,
// persists allocations and flips the state as one atomic unit. Concurrent
// calls against the same donation yield one success; the rest fail with
// AlreadyDistributed. An empty resolved set fails with
// NoEligibleBeneficiaries and leaves the donation Pending, untouched.
// The distribution lock is taken per attempt, so a caller losing the race to
// a cross-process winner re-reads state after the winner commits instead of
// surfacing the lock contention itself.
func (s *Service) ValidateAndDistribute(ctx context.Context, donationID, actor string) ([]*Allocation, error) {
	ctx, span := s.tracer.Start(ctx, "ledger.ValidateAndDistribute")
	defer span.End()
	start := s.now()

	var dist distribution
	var err error
	for attempt := 1; ; attempt++ {
		dist, err = s.distributeOnce(ctx, donationID)
		if err == nil || !pkgerrors.HasCode(err, pkgerrors.CodeConflict) || attempt >= maxDistributeAttempts {
			break
		}
		s.log.Warn().Str("donation_id", donationID).Int("attempt", attempt).Msg("distribution conflict, retrying")
		time.Sleep(time.Duration(attempt) * 25 * time.Millisecond)
	}
	if err != nil {
		// A conflict that survives the retry budget usually means another
		// worker won the donation; report the terminal state once it has.
		if pkgerrors.HasCode(err, pkgerrors.CodeConflict) {
			if d, stateErr := s.store.GetDonation(ctx, donationID); stateErr == nil && d.State != StatePending {
				err = pkgerrors.Newf(pkgerrors.CodeAlreadyDistributed, "donation %s is already distributed", donationID)
			}
		}
		s.observeDistribution(err, start)
		return nil, err
	}

	s.metrics.ObserveDistribution("distributed", s.now().Sub(start))
	s.metrics.AddAllocations(len(dist.created))
	s.record(ctx, audit.Event{
		Action:     audit.ActionDonationDistributed,
		DonationID: donationID,
		Subject:    actor,
		Amount:     dist.amount,
	})
	s.notifyDistribution(ctx, dist)
	return dist.created, nil
}

// distribution is the outcome of one committed distribution, carried out of
// the transaction for post-commit notification and metrics.
type distribution struct {
	created      []*Allocation
	effects      []allocation.Effect
	donorID      string
	donorMessage string
	amount       money.Amount
}

func (s *Service) distributeOnce(ctx context.Context, donationID string) (distribution, error) {
	release, err := s.lock.Acquire(ctx, donationID)
	if err != nil {
		return distribution{}, err
	}
	defer release()

	var dist distribution
	ctx = WithDonation(ctx, donationID)
	err = s.runner.RunInTx(ctx, func(ctx context.Context) error {
		d, err := s.store.GetDonationForUpdate(ctx, donationID)
		if err != nil {
			return err
		}
		if d.State != StatePending {
			return pkgerrors.Newf(pkgerrors.CodeAlreadyDistributed, "donation %s is already distributed", donationID)
		}
		dist.donorID, dist.amount = d.DonorID, d.Amount

		targets, resolvedFromCategory, err := s.resolveTargets(ctx, d)
		if err != nil {
			return err
		}
		if len(targets) == 0 {
			return pkgerrors.Newf(pkgerrors.CodeNoEligibleBeneficiaries,
				"no eligible validated beneficiaries for donation %s (category %s)", d.ID, d.Category)
		}

		entries := make([]allocation.Entry, len(targets))
		for i, b := range targets {
			entries[i] = allocation.Entry{BeneficiaryID: b.ID, PriorBalance: b.AmountReceived}
		}
		result := allocation.Split(d.Amount, d.DonorID, entries)
		dist.donorMessage = result.DonorMessage

		now := s.now()
		created := make([]*Allocation, 0, len(result.Shares))
		for _, share := range result.Shares {
			newBalance, err := s.registry.IncrementBalance(ctx, share.BeneficiaryID, share.Amount)
			if err != nil {
				return err
			}
			// Recompute the effect against the balance the increment actually
			// observed: a concurrent distribution of another donation may have
			// moved it since the entry was read.
			effect := allocation.Credit(allocation.Entry{
				BeneficiaryID: share.BeneficiaryID,
				PriorBalance:  newBalance - share.Amount,
			}, share.Amount, d.DonorID)
			if effect.Kind == allocation.EffectGoalReached {
				if err := s.registry.SetEligible(ctx, share.BeneficiaryID, false); err != nil {
					return err
				}
			}
			dist.effects = append(dist.effects, effect)
			created = append(created, &Allocation{
				ID:            uuid.NewString(),
				DonationID:    d.ID,
				BeneficiaryID: share.BeneficiaryID,
				Share:         share.Amount,
				ComputedAt:    now,
			})
		}

		if err := s.store.InsertAllocations(ctx, created); err != nil {
			return err
		}
		dist.created = created
		if resolvedFromCategory {
			// Record the resolved members so later reads never re-derive
			// category membership.
			ids := make([]string, len(targets))
			for i, b := range targets {
				ids[i] = b.ID
			}
			if err := s.store.AttachBeneficiaries(ctx, d.ID, ids); err != nil {
				return err
			}
		}
		return s.store.SetDonationState(ctx, d.ID, StateDistributed, &now)
	})
	if err != nil {
		return distribution{}, err
	}
	return dist, nil
}

// resolveTargets returns the explicit attach set when present, otherwise all
// eligible validated members of the donation's category.
func (s *Service) resolveTargets(ctx context.Context, d *Donation) ([]*registry.Beneficiary, bool, error) {
	attached, err := s.store.ListAttached(ctx, d.ID)
	if err != nil {
		return nil, false, err
	}
	if len(attached) > 0 {
		targets := make([]*registry.Beneficiary, len(attached))
		for i, id := range attached {
			b, err := s.registry.Get(ctx, id)
			if err != nil {
				return nil, false, err
			}
			targets[i] = b
		}
		return targets, false, nil
	}
	members, err := s.registry.ResolveCategory(ctx, d.Category)
	if err != nil {
		return nil, false, err
	}
	return members, true, nil
}

// ReverseErroneousDistribution undoes a distribution applied in error,
// atomically with the removal of the allocations it created: balances are
// decremented, eligibility restored for anyone pushed over the goal
// threshold, and the donation returned to Pending.
func (s *Service) ReverseErroneousDistribution(ctx context.Context, donationID, actor string) error {
	ctx, span := s.tracer.Start(ctx, "ledger.ReverseErroneousDistribution")
	defer span.End()

	ctx = WithDonation(ctx, donationID)
	var reversed money.Amount
	err := s.runner.RunInTx(ctx, func(ctx context.Context) error {
		d, err := s.store.GetDonationForUpdate(ctx, donationID)
		if err != nil {
			return err
		}
		if d.State != StateDistributed {
			return pkgerrors.Newf(pkgerrors.CodeBadRequest, "donation %s is not distributed", donationID)
		}
		allocations, err := s.store.ListAllocationsByDonation(ctx, donationID)
		if err != nil {
			return err
		}
		for _, a := range allocations {
			newBalance, err := s.registry.IncrementBalance(ctx, a.BeneficiaryID, -a.Share)
			if err != nil {
				return err
			}
			if newBalance < allocation.GoalThreshold {
				if err := s.registry.SetEligible(ctx, a.BeneficiaryID, true); err != nil {
					return err
				}
			}
			reversed += a.Share
		}
		if err := s.store.DeleteAllocations(ctx, donationID); err != nil {
			return err
		}
		return s.store.SetDonationState(ctx, donationID, StatePending, nil)
	})
	if err != nil {
		return err
	}

	s.record(ctx, audit.Event{
		Action:     audit.ActionDistributionReversed,
		DonationID: donationID,
		Subject:    actor,
		Amount:     reversed,
	})
	return nil
}

// DonorHistory aggregates a donor's donations the way the donor dashboard
// presents them.
type DonorHistory struct {
	Pending     []*Donation
	Distributed []*Donation
	TotalCount  int
	TotalAmount money.Amount
	// ImpactScore is the percentage of the donor's donations that have been
	// distributed.
	ImpactScore float64
}

// GetDonorHistory returns the donor's pending and distributed donations with
// totals.
func (s *Service) GetDonorHistory(ctx context.Context, donorID string) (*DonorHistory, error) {
	donations, err := s.store.ListByDonor(ctx, donorID)
	if err != nil {
		return nil, err
	}
	h := &DonorHistory{TotalCount: len(donations)}
	for _, d := range donations {
		h.TotalAmount += d.Amount
		if d.State == StateDistributed {
			h.Distributed = append(h.Distributed, d)
		} else {
			h.Pending = append(h.Pending, d)
		}
	}
	if h.TotalCount > 0 {
		h.ImpactScore = float64(len(h.Distributed)) / float64(h.TotalCount) * 100
	}
	return h, nil
}

func (s *Service) observeDistribution(err error, start time.Time) {
	outcome := "error"
	switch pkgerrors.CodeOf(err) {
	case pkgerrors.CodeAlreadyDistributed:
		outcome = "already_distributed"
	case pkgerrors.CodeNoEligibleBeneficiaries:
		outcome = "no_eligible_beneficiaries"
	}
	s.metrics.ObserveDistribution(outcome, s.now().Sub(start))
}

// notifyDistribution delivers best-effort confirmations after commit.
// Failures are logged and suppressed; they never affect the distribution.
func (s *Service) notifyDistribution(ctx context.Context, dist distribution) {
	for _, effect := range dist.effects {
		if effect.Kind == allocation.EffectGoalReached {
			s.metrics.IncGoalReached()
		}
		b, err := s.registry.Get(ctx, effect.BeneficiaryID)
		if err != nil || b.AccountID == "" {
			continue
		}
		if err := s.sink.Notify(ctx, b.AccountID, effect.Message); err != nil {
			s.log.Warn().Err(err).Str("beneficiary_id", effect.BeneficiaryID).Msg("beneficiary notification failed")
		}
	}
	if err := s.sink.Notify(ctx, dist.donorID, dist.donorMessage); err != nil {
		s.log.Warn().Err(err).Str("donor_id", dist.donorID).Msg("donor notification failed")
	}
}

func (s *Service) record(ctx context.Context, event audit.Event) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Emit(ctx, event); err != nil {
		s.log.Warn().Err(err).Str("action", string(event.Action)).Msg("audit append failed")
	}
}
