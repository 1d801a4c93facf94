package ledger_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"lanfiasave/internal/allocation"
	"lanfiasave/internal/audit"
	"lanfiasave/internal/ledger"
	"lanfiasave/internal/ledger/mocks"
	"lanfiasave/internal/notification"
	"lanfiasave/internal/registry"
	pkgerrors "lanfiasave/pkg/domain-errors"
	"lanfiasave/pkg/money"
)

type fixture struct {
	svc      *ledger.Service
	store    *ledger.InMemoryStore
	registry *registry.InMemoryRegistry
	sink     *notification.MemorySink
	audit    *audit.InMemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    ledger.NewInMemoryStore(),
		registry: registry.NewInMemoryRegistry(),
		sink:     notification.NewMemorySink(),
		audit:    audit.NewInMemoryStore(),
	}
	f.svc = ledger.NewService(f.store, ledger.NewMemoryTxRunner(), f.registry, f.sink,
		ledger.WithRecorder(audit.NewPublisher(f.audit)))
	return f
}

func (f *fixture) seedBeneficiary(id, category string, balance money.Amount) {
	f.registry.Put(&registry.Beneficiary{
		ID:             id,
		Category:       category,
		Vulnerable:     true,
		Validated:      true,
		AmountReceived: balance,
		AccountID:      "acct-" + id,
	})
}

func (f *fixture) createDonation(t *testing.T, input ledger.NewDonation) *ledger.Donation {
	t.Helper()
	d, err := f.svc.CreateDonation(context.Background(), input)
	require.NoError(t, err)
	return d
}

// contendedLock rejects the first n acquires with a conflict, as a lock held
// by another process would.
type contendedLock struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (l *contendedLock) Acquire(_ context.Context, donationID string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.calls <= l.failures {
		return nil, pkgerrors.Newf(pkgerrors.CodeConflict, "donation %s is being distributed elsewhere", donationID)
	}
	return func() {}, nil
}

func (l *contendedLock) acquires() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func TestCreateDonation_RejectsNonPositiveAmount(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateDonation(context.Background(), ledger.NewDonation{
		DonorID: "donor-1", Category: "widows", Amount: 0,
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeBadRequest, pkgerrors.CodeOf(err))
}

func TestValidateAndDistribute_SingleBeneficiaryReachesGoal(t *testing.T) {
	f := newFixture(t)
	f.seedBeneficiary("b1", "widows", 150_000)
	d := f.createDonation(t, ledger.NewDonation{
		DonorID: "donor-1", Category: "widows", Amount: 100_000,
		BeneficiaryIDs: []string{"b1"},
	})

	created, err := f.svc.ValidateAndDistribute(context.Background(), d.ID, "admin-1")
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, money.Amount(100_000), created[0].Share)

	balance, err := f.registry.GetBalance(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, money.Amount(250_000), balance)

	b, err := f.registry.Get(context.Background(), "b1")
	require.NoError(t, err)
	assert.False(t, b.Vulnerable, "goal reached must flip eligibility off")

	status, err := f.svc.GetState(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StateDistributed, status.Donation.State)
	assert.NotNil(t, status.Donation.DistributedAt)

	messages := f.sink.Sent("acct-b1")
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "reached your funding goal")
	donorMessages := f.sink.Sent("donor-1")
	require.Len(t, donorMessages, 1)
	assert.Contains(t, donorMessages[0], "validated and distributed")
}

func TestValidateAndDistribute_CategoryEvenSplit(t *testing.T) {
	f := newFixture(t)
	f.seedBeneficiary("b1", "orphans", 0)
	f.seedBeneficiary("b2", "orphans", 0)
	f.seedBeneficiary("b3", "orphans", 0)
	d := f.createDonation(t, ledger.NewDonation{
		DonorID: "donor-1", Category: "orphans", Amount: 90,
	})

	created, err := f.svc.ValidateAndDistribute(context.Background(), d.ID, "admin-1")
	require.NoError(t, err)
	require.Len(t, created, 3)

	var sum money.Amount
	for _, a := range created {
		assert.Equal(t, money.Amount(30), a.Share)
		sum += a.Share
	}
	assert.Equal(t, d.Amount, sum)

	// Resolved members are recorded on the donation for traceability.
	status, err := f.svc.GetState(context.Background(), d.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b1", "b2", "b3"}, status.Beneficiaries)
}

func TestValidateAndDistribute_RemainderAssignedDeterministically(t *testing.T) {
	f := newFixture(t)
	f.seedBeneficiary("b1", "widows", 0)
	f.seedBeneficiary("b2", "widows", 0)
	f.seedBeneficiary("b3", "widows", 0)
	d := f.createDonation(t, ledger.NewDonation{
		DonorID: "donor-1", Category: "widows", Amount: 100,
		BeneficiaryIDs: []string{"b1", "b2", "b3"},
	})

	created, err := f.svc.ValidateAndDistribute(context.Background(), d.ID, "admin-1")
	require.NoError(t, err)
	require.Len(t, created, 3)

	shares := map[string]money.Amount{}
	for _, a := range created {
		shares[a.BeneficiaryID] = a.Share
	}
	assert.Equal(t, money.Amount(34), shares["b1"], "first attached beneficiary takes the remainder")
	assert.Equal(t, money.Amount(33), shares["b2"])
	assert.Equal(t, money.Amount(33), shares["b3"])
}

func TestValidateAndDistribute_EmptyCategoryLeavesDonationPending(t *testing.T) {
	f := newFixture(t)
	d := f.createDonation(t, ledger.NewDonation{
		DonorID: "donor-1", Category: "nobody-here", Amount: 500,
	})

	_, err := f.svc.ValidateAndDistribute(context.Background(), d.ID, "admin-1")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNoEligibleBeneficiaries, pkgerrors.CodeOf(err))

	status, err := f.svc.GetState(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatePending, status.Donation.State)
	assert.Empty(t, status.Allocations)
}

func TestValidateAndDistribute_SecondCallFailsAlreadyDistributed(t *testing.T) {
	f := newFixture(t)
	f.seedBeneficiary("b1", "widows", 0)
	d := f.createDonation(t, ledger.NewDonation{
		DonorID: "donor-1", Category: "widows", Amount: 1_000,
	})

	_, err := f.svc.ValidateAndDistribute(context.Background(), d.ID, "admin-1")
	require.NoError(t, err)

	_, err = f.svc.ValidateAndDistribute(context.Background(), d.ID, "admin-2")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeAlreadyDistributed, pkgerrors.CodeOf(err))
}

func TestValidateAndDistribute_ConcurrentCallsDistributeExactlyOnce(t *testing.T) {
	f := newFixture(t)
	f.seedBeneficiary("b1", "widows", 0)
	f.seedBeneficiary("b2", "widows", 0)
	d := f.createDonation(t, ledger.NewDonation{
		DonorID: "donor-1", Category: "widows", Amount: 10_000,
	})

	const attempts = 16
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.ValidateAndDistribute(context.Background(), d.ID, "admin-1")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, rejections int
	for err := range results {
		if err == nil {
			successes++
			continue
		}
		require.Equal(t, pkgerrors.CodeAlreadyDistributed, pkgerrors.CodeOf(err))
		rejections++
	}
	assert.Equal(t, 1, successes, "exactly one distribution must win")
	assert.Equal(t, attempts-1, rejections)

	// Exactly one allocation set exists and nobody was credited twice.
	status, err := f.svc.GetState(context.Background(), d.ID)
	require.NoError(t, err)
	require.Len(t, status.Allocations, 2)
	b1, err := f.registry.GetBalance(context.Background(), "b1")
	require.NoError(t, err)
	b2, err := f.registry.GetBalance(context.Background(), "b2")
	require.NoError(t, err)
	assert.Equal(t, d.Amount, b1+b2)
}

func TestValidateAndDistribute_RetriesLockContention(t *testing.T) {
	f := newFixture(t)
	f.seedBeneficiary("b1", "widows", 0)
	d := f.createDonation(t, ledger.NewDonation{
		DonorID: "donor-1", Category: "widows", Amount: 1_000,
	})

	l := &contendedLock{failures: 1}
	svc := ledger.NewService(f.store, ledger.NewMemoryTxRunner(), f.registry, f.sink,
		ledger.WithLock(l))

	created, err := svc.ValidateAndDistribute(context.Background(), d.ID, "admin-1")
	require.NoError(t, err, "a transiently held lock must be retried, not surfaced")
	require.Len(t, created, 1)
	assert.Equal(t, 2, l.acquires())
}

func TestValidateAndDistribute_LockHeldByWinnerReportsAlreadyDistributed(t *testing.T) {
	f := newFixture(t)
	f.seedBeneficiary("b1", "widows", 0)
	d := f.createDonation(t, ledger.NewDonation{
		DonorID: "donor-1", Category: "widows", Amount: 1_000,
	})
	_, err := f.svc.ValidateAndDistribute(context.Background(), d.ID, "admin-1")
	require.NoError(t, err)

	// A caller whose every acquire loses to another process must report the
	// donation's committed state, not the lock contention.
	svc := ledger.NewService(f.store, ledger.NewMemoryTxRunner(), f.registry, f.sink,
		ledger.WithLock(&contendedLock{failures: 100}))

	_, err = svc.ValidateAndDistribute(context.Background(), d.ID, "admin-2")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeAlreadyDistributed, pkgerrors.CodeOf(err))
}

func TestCreateDonation_RejectsUnknownBeneficiary(t *testing.T) {
	f := newFixture(t)
	f.seedBeneficiary("b1", "widows", 0)

	_, err := f.svc.CreateDonation(context.Background(), ledger.NewDonation{
		DonorID: "donor-1", Category: "widows", Amount: 100,
		BeneficiaryIDs: []string{"b1", "ghost"},
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestAttachBeneficiaries_IdempotentWhilePending(t *testing.T) {
	f := newFixture(t)
	f.seedBeneficiary("b1", "widows", 0)
	d := f.createDonation(t, ledger.NewDonation{
		DonorID: "donor-1", Category: "widows", Amount: 100,
	})

	require.NoError(t, f.svc.AttachBeneficiaries(context.Background(), d.ID, []string{"b1"}))
	require.NoError(t, f.svc.AttachBeneficiaries(context.Background(), d.ID, []string{"b1"}))

	status, err := f.svc.GetState(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"b1"}, status.Beneficiaries)
}

func TestAttachBeneficiaries_FailsAfterDistribution(t *testing.T) {
	f := newFixture(t)
	f.seedBeneficiary("b1", "widows", 0)
	f.seedBeneficiary("b2", "widows", 0)
	d := f.createDonation(t, ledger.NewDonation{
		DonorID: "donor-1", Category: "widows", Amount: 100,
	})
	_, err := f.svc.ValidateAndDistribute(context.Background(), d.ID, "admin-1")
	require.NoError(t, err)

	err = f.svc.AttachBeneficiaries(context.Background(), d.ID, []string{"b2"})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeAlreadyDistributed, pkgerrors.CodeOf(err))
}

func TestAttachBeneficiaries_UnknownBeneficiaryRejected(t *testing.T) {
	f := newFixture(t)
	d := f.createDonation(t, ledger.NewDonation{
		DonorID: "donor-1", Category: "widows", Amount: 100,
	})

	err := f.svc.AttachBeneficiaries(context.Background(), d.ID, []string{"ghost"})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestReverseErroneousDistribution_RestoresBalancesAndEligibility(t *testing.T) {
	f := newFixture(t)
	f.seedBeneficiary("b1", "widows", 150_000)
	d := f.createDonation(t, ledger.NewDonation{
		DonorID: "donor-1", Category: "widows", Amount: 100_000,
	})
	_, err := f.svc.ValidateAndDistribute(context.Background(), d.ID, "admin-1")
	require.NoError(t, err)

	require.NoError(t, f.svc.ReverseErroneousDistribution(context.Background(), d.ID, "admin-1"))

	balance, err := f.registry.GetBalance(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, money.Amount(150_000), balance)

	b, err := f.registry.Get(context.Background(), "b1")
	require.NoError(t, err)
	assert.True(t, b.Vulnerable, "reversal below threshold restores eligibility")

	status, err := f.svc.GetState(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatePending, status.Donation.State)
	assert.Empty(t, status.Allocations)

	// The donation can be distributed again after the reversal.
	_, err = f.svc.ValidateAndDistribute(context.Background(), d.ID, "admin-1")
	require.NoError(t, err)
}

func TestReverseErroneousDistribution_RequiresDistributedState(t *testing.T) {
	f := newFixture(t)
	d := f.createDonation(t, ledger.NewDonation{
		DonorID: "donor-1", Category: "widows", Amount: 100,
	})

	err := f.svc.ReverseErroneousDistribution(context.Background(), d.ID, "admin-1")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeBadRequest, pkgerrors.CodeOf(err))
}

func TestThresholdMonotonicity_GoalReachedExcludesFromLaterCategoryRounds(t *testing.T) {
	f := newFixture(t)
	f.seedBeneficiary("b1", "widows", 190_000)
	f.seedBeneficiary("b2", "widows", 0)

	first := f.createDonation(t, ledger.NewDonation{
		DonorID: "donor-1", Category: "widows", Amount: 20_000,
		BeneficiaryIDs: []string{"b1"},
	})
	_, err := f.svc.ValidateAndDistribute(context.Background(), first.ID, "admin-1")
	require.NoError(t, err)

	// b1 crossed the goal; a later category-wide donation only reaches b2.
	second := f.createDonation(t, ledger.NewDonation{
		DonorID: "donor-2", Category: "widows", Amount: 5_000,
	})
	created, err := f.svc.ValidateAndDistribute(context.Background(), second.ID, "admin-1")
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, "b2", created[0].BeneficiaryID)
}

func TestValidateAndDistribute_NotificationFailureDoesNotAffectOutcome(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	store := ledger.NewInMemoryStore()
	reg := registry.NewInMemoryRegistry()
	reg.Put(&registry.Beneficiary{
		ID: "b1", Category: "widows", Vulnerable: true, Validated: true, AccountID: "acct-b1",
	})

	mockSink := mocks.NewMockSink(ctrl)
	mockSink.EXPECT().
		Notify(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(errors.New("delivery channel down")).
		AnyTimes()

	svc := ledger.NewService(store, ledger.NewMemoryTxRunner(), reg, mockSink)
	d, err := svc.CreateDonation(context.Background(), ledger.NewDonation{
		DonorID: "donor-1", Category: "widows", Amount: 300,
	})
	require.NoError(t, err)

	created, err := svc.ValidateAndDistribute(context.Background(), d.ID, "admin-1")
	require.NoError(t, err, "notification failure must never roll back a distribution")
	require.Len(t, created, 1)

	status, err := svc.GetState(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StateDistributed, status.Donation.State)
}

func TestValidateAndDistribute_EmitsAuditTrail(t *testing.T) {
	f := newFixture(t)
	f.seedBeneficiary("b1", "widows", 0)
	d := f.createDonation(t, ledger.NewDonation{
		DonorID: "donor-1", Category: "widows", Amount: 700,
	})
	_, err := f.svc.ValidateAndDistribute(context.Background(), d.ID, "admin-1")
	require.NoError(t, err)

	events, err := audit.NewPublisher(f.audit).List(context.Background(), d.ID)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, audit.ActionDonationCreated, events[0].Action)
	assert.Equal(t, audit.ActionDonationDistributed, events[1].Action)
	assert.Equal(t, "admin-1", events[1].Subject)
}

func TestGetDonorHistory_SplitsPendingAndDistributed(t *testing.T) {
	f := newFixture(t)
	f.seedBeneficiary("b1", "widows", 0)

	first := f.createDonation(t, ledger.NewDonation{
		DonorID: "donor-1", Category: "widows", Amount: 100,
	})
	_ = f.createDonation(t, ledger.NewDonation{
		DonorID: "donor-1", Category: "widows", Amount: 250,
	})
	_, err := f.svc.ValidateAndDistribute(context.Background(), first.ID, "admin-1")
	require.NoError(t, err)

	history, err := f.svc.GetDonorHistory(context.Background(), "donor-1")
	require.NoError(t, err)
	assert.Equal(t, 2, history.TotalCount)
	assert.Equal(t, money.Amount(350), history.TotalAmount)
	assert.Len(t, history.Pending, 1)
	assert.Len(t, history.Distributed, 1)
	assert.InDelta(t, 50.0, history.ImpactScore, 0.001)
}

func TestGoalThresholdConstant(t *testing.T) {
	// The funding objective is a platform-wide constant.
	assert.Equal(t, money.Amount(200_000), allocation.GoalThreshold)
}
