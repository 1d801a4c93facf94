package withdrawal_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lanfiasave/internal/audit"
	"lanfiasave/internal/ledger"
	"lanfiasave/internal/withdrawal"
	pkgerrors "lanfiasave/pkg/domain-errors"
	"lanfiasave/pkg/money"
)

func seedDistributedDonation(t *testing.T, store *ledger.InMemoryStore, donationID string, shares map[string]money.Amount) map[string]string {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, store.CreateDonation(ctx, &ledger.Donation{
		ID:        donationID,
		DonorID:   "donor-1",
		Category:  "widows",
		Amount:    sum(shares),
		State:     ledger.StatePending,
		CreatedAt: time.Now(),
	}))

	allocationIDs := make(map[string]string, len(shares))
	var allocations []*ledger.Allocation
	i := 0
	for beneficiaryID, share := range shares {
		id := donationID + "-alloc-" + beneficiaryID
		allocationIDs[beneficiaryID] = id
		allocations = append(allocations, &ledger.Allocation{
			ID:            id,
			DonationID:    donationID,
			BeneficiaryID: beneficiaryID,
			Share:         share,
			ComputedAt:    time.Now().Add(time.Duration(i) * time.Millisecond),
		})
		i++
	}
	require.NoError(t, store.InsertAllocations(ctx, allocations))
	now := time.Now()
	require.NoError(t, store.SetDonationState(ctx, donationID, ledger.StateDistributed, &now))
	return allocationIDs
}

func sum(shares map[string]money.Amount) money.Amount {
	var total money.Amount
	for _, s := range shares {
		total += s
	}
	return total
}

func TestWithdraw_MarksSingleAllocation(t *testing.T) {
	store := ledger.NewInMemoryStore()
	ids := seedDistributedDonation(t, store, "d1", map[string]money.Amount{"b1": 600, "b2": 400})
	svc := withdrawal.NewService(store)

	require.NoError(t, svc.Withdraw(context.Background(), ids["b1"], "b1"))

	withdrawn, err := svc.ListWithdrawn(context.Background(), "b1")
	require.NoError(t, err)
	require.Len(t, withdrawn, 1)
	assert.True(t, withdrawn[0].Withdrawn)
	assert.NotNil(t, withdrawn[0].WithdrawnAt)

	// b2's share of the same donation is untouched.
	outstanding, err := svc.ListOutstanding(context.Background(), "b2")
	require.NoError(t, err)
	require.Len(t, outstanding, 1)
	assert.False(t, outstanding[0].Withdrawn)
}

func TestWithdraw_IdempotentOnRepeat(t *testing.T) {
	store := ledger.NewInMemoryStore()
	ids := seedDistributedDonation(t, store, "d1", map[string]money.Amount{"b1": 600})
	auditStore := audit.NewInMemoryStore()
	svc := withdrawal.NewService(store, withdrawal.WithRecorder(audit.NewPublisher(auditStore)))

	require.NoError(t, svc.Withdraw(context.Background(), ids["b1"], "b1"))
	require.NoError(t, svc.Withdraw(context.Background(), ids["b1"], "b1"))

	// A repeated withdrawal is a no-op: one audit event, still one record.
	assert.Len(t, auditStore.All(), 1)
	withdrawn, err := svc.ListWithdrawn(context.Background(), "b1")
	require.NoError(t, err)
	assert.Len(t, withdrawn, 1)
}

func TestWithdraw_RejectsForeignAllocation(t *testing.T) {
	store := ledger.NewInMemoryStore()
	ids := seedDistributedDonation(t, store, "d1", map[string]money.Amount{"b1": 600, "b2": 400})
	svc := withdrawal.NewService(store)

	err := svc.Withdraw(context.Background(), ids["b1"], "b2")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotOwned, pkgerrors.CodeOf(err))

	outstanding, err := svc.OutstandingTotal(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, money.Amount(600), outstanding)
}

func TestWithdraw_UnknownAllocation(t *testing.T) {
	svc := withdrawal.NewService(ledger.NewInMemoryStore())

	err := svc.Withdraw(context.Background(), "missing", "b1")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestWithdraw_RequiresDistributedDonation(t *testing.T) {
	store := ledger.NewInMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.CreateDonation(ctx, &ledger.Donation{
		ID: "d1", DonorID: "donor-1", Amount: 100, State: ledger.StatePending, CreatedAt: time.Now(),
	}))
	require.NoError(t, store.InsertAllocations(ctx, []*ledger.Allocation{
		{ID: "a1", DonationID: "d1", BeneficiaryID: "b1", Share: 100, ComputedAt: time.Now()},
	}))
	svc := withdrawal.NewService(store)

	err := svc.Withdraw(ctx, "a1", "b1")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotYetDistributed, pkgerrors.CodeOf(err))
}

func TestWithdrawAll_FlipsEveryOutstandingShare(t *testing.T) {
	store := ledger.NewInMemoryStore()
	seedDistributedDonation(t, store, "d1", map[string]money.Amount{"b1": 600, "b2": 400})
	seedDistributedDonation(t, store, "d2", map[string]money.Amount{"b1": 250})
	auditStore := audit.NewInMemoryStore()
	svc := withdrawal.NewService(store, withdrawal.WithRecorder(audit.NewPublisher(auditStore)))

	total, err := svc.WithdrawAll(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, money.Amount(850), total)

	outstanding, err := svc.OutstandingTotal(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, money.Amount(0), outstanding)
	withdrawn, err := svc.ListWithdrawn(context.Background(), "b1")
	require.NoError(t, err)
	assert.Len(t, withdrawn, 2)
	assert.Len(t, auditStore.All(), 2)

	// Other beneficiaries keep their shares outstanding.
	other, err := svc.OutstandingTotal(context.Background(), "b2")
	require.NoError(t, err)
	assert.Equal(t, money.Amount(400), other)
}

func TestWithdrawAll_NothingOutstandingIsZero(t *testing.T) {
	store := ledger.NewInMemoryStore()
	svc := withdrawal.NewService(store)

	total, err := svc.WithdrawAll(context.Background(), "b1")
	require.NoError(t, err)
	assert.Equal(t, money.Amount(0), total)
}
