package paying

import (
	"context"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	models "github.com/fatflowers/paying/internal/models"
	"github.com/fatflowers/paying/pkg/types"
)

type sinkRecorder struct {
	entities []string
	ids      []string
	errs     []error
}

func (s *sinkRecorder) sink(ctx context.Context, entity, id string, err error) {
	s.entities = append(s.entities, entity)
	s.ids = append(s.ids, id)
	s.errs = append(s.errs, err)
}

func TestCheckTransactionsConfirmsPaid(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	paidAt := testNow.Add(-5 * time.Minute)
	adapter := &fakeAdapter{
		txStatus: map[string]*TransactionStatusResult{
			"tx-paid": {Kind: TransactionStatusKindSuccess, PurchasedAt: &paidAt},
		},
	}
	e := newTestEngine(repo, adapter)
	seedPurchase(t, repo, "tx-paid")

	require.NoError(t, e.CheckTransactions(ctx, nil))

	tx, err := repo.RequireTransaction(ctx, "tx-paid")
	require.NoError(t, err)
	require.NotNil(t, tx.CompletedAt)
	assert.True(t, tx.CompletedAt.Equal(paidAt))
}

func TestCheckTransactionsClosesRemotelyCanceled(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	adapter := &fakeAdapter{
		txStatus: map[string]*TransactionStatusResult{
			"tx-cycle": {Kind: TransactionStatusKindCanceled, Reason: lo.ToPtr("payment declined")},
		},
	}
	e := newTestEngine(repo, adapter)
	seedLineage(t, repo, "orig-1")
	seedCycle(t, repo, "tx-cycle", "orig-1", testNow, 30*24*time.Hour)

	require.NoError(t, e.CheckTransactions(ctx, nil))

	tx, err := repo.RequireTransaction(ctx, "tx-cycle")
	require.NoError(t, err)
	assert.Equal(t, types.TransactionStatusCanceled, tx.Status())
	require.NotNil(t, tx.CancelReason)
	assert.Equal(t, "payment declined", *tx.CancelReason)

	// Default config: one canceled charge does not kill the agreement.
	ot, err := repo.RequireOriginalTransaction(ctx, "orig-1")
	require.NoError(t, err)
	assert.Nil(t, ot.CanceledAt)
}

func TestCheckTransactionsCancelsLineageWhenConfigured(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	adapter := &fakeAdapter{
		txStatus: map[string]*TransactionStatusResult{
			"tx-cycle": {Kind: TransactionStatusKindCanceled},
		},
	}
	e := newTestEngine(repo, adapter)
	e.cfg.Paying.CancelLineageOnRemoteCancel = true
	seedLineage(t, repo, "orig-1")
	seedCycle(t, repo, "tx-cycle", "orig-1", testNow, 30*24*time.Hour)

	require.NoError(t, e.CheckTransactions(ctx, nil))

	ot, err := repo.RequireOriginalTransaction(ctx, "orig-1")
	require.NoError(t, err)
	require.NotNil(t, ot.CanceledAt)
	assert.False(t, ot.RenewalEnabled)
}

func TestCheckTransactionsLeavesPendingAlone(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	e := newTestEngine(repo, &fakeAdapter{})
	seedPurchase(t, repo, "tx-waiting")

	require.NoError(t, e.CheckTransactions(ctx, nil))

	tx, err := repo.RequireTransaction(ctx, "tx-waiting")
	require.NoError(t, err)
	assert.Equal(t, types.TransactionStatusPending, tx.Status())
}

func TestCheckTransactionsIsolatesItemFailures(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	paidAt := testNow
	adapter := &fakeAdapter{
		txStatus: map[string]*TransactionStatusResult{
			"tx-a": {Kind: TransactionStatusKindSuccess, PurchasedAt: &paidAt},
			"tx-b": {Kind: TransactionStatusKindSuccess, PurchasedAt: &paidAt},
		},
	}
	e := newTestEngine(repo, adapter)
	seedPurchase(t, repo, "tx-a")
	seedPurchase(t, repo, "tx-b")
	// tx-a's confirm write fails; tx-b must still be processed.
	e.repo = &failingRepo{fakeRepo: repo, failUpdateTx: "tx-a"}

	rec := &sinkRecorder{}
	require.NoError(t, e.CheckTransactions(ctx, rec.sink))

	require.Len(t, rec.errs, 1)
	assert.Equal(t, "transaction", rec.entities[0])
	assert.Equal(t, "tx-a", rec.ids[0])

	txB, err := repo.RequireTransaction(ctx, "tx-b")
	require.NoError(t, err)
	require.NotNil(t, txB.CompletedAt)
}

// failingRepo fails UpdateTransaction for one id, otherwise delegates.
type failingRepo struct {
	*fakeRepo
	failUpdateTx string
}

func (r *failingRepo) UpdateTransaction(ctx context.Context, id string, fields map[string]any) error {
	if id == r.failUpdateTx {
		return assert.AnError
	}
	return r.fakeRepo.UpdateTransaction(ctx, id, fields)
}

func TestCheckUncompletedSubscriptionsConfirmsMandate(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	subscribedAt := testNow.Add(-time.Hour)
	adapter := &fakeAdapter{
		subStatus: map[string]*SubscriptionStatusResult{
			"orig-1": {
				Kind:         SubscriptionStatusKindSubscribed,
				SubscribedAt: &subscribedAt,
				Extra:        map[string]any{"agreement_no": "AG-7"},
			},
		},
	}
	e := newTestEngine(repo, adapter)
	seedLineage(t, repo, "orig-1")

	require.NoError(t, e.CheckUncompletedSubscriptions(ctx, nil))

	ot, err := repo.RequireOriginalTransaction(ctx, "orig-1")
	require.NoError(t, err)
	require.NotNil(t, ot.SubscribedAt)
	assert.True(t, ot.SubscribedAt.Equal(subscribedAt))
	assert.Equal(t, "AG-7", ot.ServiceExtra["agreement_no"])
}

func TestCheckUncompletedSubscriptionsClosesCanceled(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	adapter := &fakeAdapter{
		subStatus: map[string]*SubscriptionStatusResult{
			"orig-1": {Kind: SubscriptionStatusKindCanceled, Reason: lo.ToPtr("sign aborted")},
		},
	}
	e := newTestEngine(repo, adapter)
	seedLineage(t, repo, "orig-1")

	require.NoError(t, e.CheckUncompletedSubscriptions(ctx, nil))

	ot, err := repo.RequireOriginalTransaction(ctx, "orig-1")
	require.NoError(t, err)
	require.NotNil(t, ot.CanceledAt)
	require.NotNil(t, ot.CancelReason)
	assert.Equal(t, "sign aborted", *ot.CancelReason)
}

func renewableLineage(t *testing.T, repo *fakeRepo, id string, expiresAt time.Time) *models.OriginalTransaction {
	t.Helper()
	ot := seedLineage(t, repo, id)
	require.NoError(t, repo.UpdateOriginalTransaction(context.Background(), ot.ID, map[string]any{
		"starts_at":     expiresAt.Add(-30 * 24 * time.Hour),
		"expires_at":    expiresAt,
		"subscribed_at": expiresAt.Add(-30 * 24 * time.Hour),
	}))
	got, err := repo.RequireOriginalTransaction(context.Background(), id)
	require.NoError(t, err)
	return got
}

func TestCheckSubscriptionRenewalsCharges(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	expiry := testNow.Add(12 * time.Hour)
	adapter := &fakeAdapter{
		rechargeFn: func(ot *models.OriginalTransaction) (Action, error) {
			return &SubscriptionRenewalAction{
				TransactionID:         "tx-renewal",
				OriginalTransactionID: ot.ID,
				ProductID:             ot.RenewalProductOrCurrent(),
				PurchasedAt:           testNow,
				Duration:              30 * 24 * time.Hour,
			}, nil
		},
	}
	e := newTestEngine(repo, adapter)
	renewableLineage(t, repo, "orig-1", expiry)

	require.NoError(t, e.CheckSubscriptionRenewals(ctx, nil))

	ot, err := repo.RequireOriginalTransaction(ctx, "orig-1")
	require.NoError(t, err)
	assert.True(t, ot.ExpiresAt.Equal(expiry.Add(30*24*time.Hour)))

	tx, err := repo.RequireTransaction(ctx, "tx-renewal")
	require.NoError(t, err)
	require.NotNil(t, tx.CompletedAt)
}

func TestCheckSubscriptionRenewalsSkipsOutsideWindow(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	charged := 0
	adapter := &fakeAdapter{
		rechargeFn: func(ot *models.OriginalTransaction) (Action, error) {
			charged++
			return nil, nil
		},
	}
	e := newTestEngine(repo, adapter)
	// Expires well past the 24h lookahead.
	renewableLineage(t, repo, "orig-far", testNow.Add(20*24*time.Hour))

	require.NoError(t, e.CheckSubscriptionRenewals(ctx, nil))
	assert.Zero(t, charged)
}

func TestCheckSubscriptionRenewalsSkipsRenewalDisabled(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	charged := 0
	adapter := &fakeAdapter{
		rechargeFn: func(ot *models.OriginalTransaction) (Action, error) {
			charged++
			return nil, nil
		},
	}
	e := newTestEngine(repo, adapter)
	ot := renewableLineage(t, repo, "orig-off", testNow.Add(time.Hour))
	require.NoError(t, repo.UpdateOriginalTransaction(ctx, ot.ID, map[string]any{"renewal_enabled": false}))

	require.NoError(t, e.CheckSubscriptionRenewals(ctx, nil))
	assert.Zero(t, charged)
}

func TestCheckSubscriptionRenewalsInFlightIsNoop(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	adapter := &fakeAdapter{rechargeFn: func(ot *models.OriginalTransaction) (Action, error) { return nil, nil }}
	e := newTestEngine(repo, adapter)
	expiry := testNow.Add(time.Hour)
	renewableLineage(t, repo, "orig-1", expiry)

	require.NoError(t, e.CheckSubscriptionRenewals(ctx, nil))

	ot, err := repo.RequireOriginalTransaction(ctx, "orig-1")
	require.NoError(t, err)
	assert.True(t, ot.ExpiresAt.Equal(expiry))
	assert.Nil(t, ot.LastFailedAt)
}

func TestCheckSubscriptionRenewalsRecordsFailure(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	adapter := &fakeAdapter{
		rechargeFn: func(ot *models.OriginalTransaction) (Action, error) {
			return &RechargeFailedAction{
				OriginalTransactionID: ot.ID,
				Reason:                "card expired",
				FailedAt:              testNow,
			}, nil
		},
	}
	e := newTestEngine(repo, adapter)
	renewableLineage(t, repo, "orig-1", testNow.Add(time.Hour))

	require.NoError(t, e.CheckSubscriptionRenewals(ctx, nil))

	ot, err := repo.RequireOriginalTransaction(ctx, "orig-1")
	require.NoError(t, err)
	require.NotNil(t, ot.LastFailedReason)
	assert.Equal(t, "card expired", *ot.LastFailedReason)
	assert.Nil(t, ot.CanceledAt)
}

func TestCheckSubscriptionRenewalsSinkOnAdapterError(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	adapter := &fakeAdapter{
		rechargeFn: func(ot *models.OriginalTransaction) (Action, error) { return nil, assert.AnError },
	}
	e := newTestEngine(repo, adapter)
	renewableLineage(t, repo, "orig-1", testNow.Add(time.Hour))

	rec := &sinkRecorder{}
	require.NoError(t, e.CheckSubscriptionRenewals(ctx, rec.sink))
	require.Len(t, rec.errs, 1)
	assert.Equal(t, "original_transaction", rec.entities[0])
	assert.ErrorIs(t, rec.errs[0], assert.AnError)
}
