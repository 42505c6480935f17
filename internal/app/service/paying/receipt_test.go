package paying

import (
	"context"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func monthlyReceipt() *ReceiptContent {
	subscribedAt := testNow.Add(-60 * 24 * time.Hour)
	firstStart := subscribedAt
	secondStart := firstStart.Add(30 * 24 * time.Hour)
	return &ReceiptContent{
		Subscription: &ReceiptSubscription{
			OriginalTransactionID: "orig-receipt",
			ProductID:             "premium_monthly",
			SubscribedAt:          &subscribedAt,
			RenewalEnabled:        lo.ToPtr(true),
			Extra:                 map[string]any{"environment": "production"},
			Cycles: []*ReceiptCycle{
				{
					TransactionID: "tx-cycle-1",
					ProductID:     "premium_monthly",
					PurchasedAt:   firstStart,
					StartsAt:      firstStart,
					Duration:      30 * 24 * time.Hour,
				},
				{
					TransactionID: "tx-cycle-2",
					ProductID:     "premium_monthly",
					PurchasedAt:   secondStart,
					StartsAt:      secondStart,
					Duration:      30 * 24 * time.Hour,
				},
			},
		},
		Purchases: []*ReceiptPurchase{
			{TransactionID: "tx-coin-1", ProductID: "coin_pack", PurchasedAt: testNow.Add(-time.Hour)},
		},
	}
}

func TestHandleReceiptRecoversLineage(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	adapter := &fakeAdapter{receipt: monthlyReceipt()}
	e := newTestEngine(repo, adapter)

	require.NoError(t, e.HandleReceipt(ctx, testProvider, "user-1", []byte(`{}`)))

	ot, err := repo.RequireOriginalTransaction(ctx, "orig-receipt")
	require.NoError(t, err)
	assert.Equal(t, "user-1", ot.UserID)
	require.NotNil(t, ot.ProductGroup)
	assert.Equal(t, "premium", *ot.ProductGroup)
	require.NotNil(t, ot.SubscribedAt)
	assert.True(t, ot.RenewalEnabled)
	assert.Equal(t, "production", ot.ServiceExtra["environment"])

	// Two cycles stack into one continuous 60 day window.
	subscribedAt := testNow.Add(-60 * 24 * time.Hour)
	require.NotNil(t, ot.StartsAt)
	assert.True(t, ot.StartsAt.Equal(subscribedAt))
	require.NotNil(t, ot.ExpiresAt)
	assert.True(t, ot.ExpiresAt.Equal(subscribedAt.Add(60*24*time.Hour)))

	for _, id := range []string{"tx-cycle-1", "tx-cycle-2"} {
		tx, err := repo.RequireTransaction(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, tx.CompletedAt, id)
	}

	coin, err := repo.RequireTransaction(ctx, "tx-coin-1")
	require.NoError(t, err)
	require.NotNil(t, coin.CompletedAt)
	assert.Nil(t, coin.OriginalTransactionID)
}

func TestHandleReceiptReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	adapter := &fakeAdapter{receipt: monthlyReceipt()}
	e := newTestEngine(repo, adapter)

	require.NoError(t, e.HandleReceipt(ctx, testProvider, "user-1", []byte(`{}`)))

	before, err := repo.RequireOriginalTransaction(ctx, "orig-receipt")
	require.NoError(t, err)
	txCount := len(repo.txs)

	require.NoError(t, e.HandleReceipt(ctx, testProvider, "user-1", []byte(`{}`)))

	after, err := repo.RequireOriginalTransaction(ctx, "orig-receipt")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, txCount, len(repo.txs), "replay creates no new rows")
}

func TestHandleReceiptFillsGapsOnly(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	adapter := &fakeAdapter{receipt: monthlyReceipt()}
	e := newTestEngine(repo, adapter)

	// The first cycle is already settled; the receipt must only add the rest.
	require.NoError(t, e.HandleReceipt(ctx, testProvider, "user-1", []byte(`{}`)))
	secondExpiry := testNow.Add(-60 * 24 * time.Hour).Add(60 * 24 * time.Hour)

	// A third cycle appears on the next submission.
	thirdStart := testNow.Add(-60 * 24 * time.Hour).Add(60 * 24 * time.Hour)
	adapter.receipt.Subscription.Cycles = append(adapter.receipt.Subscription.Cycles, &ReceiptCycle{
		TransactionID: "tx-cycle-3",
		ProductID:     "premium_monthly",
		PurchasedAt:   thirdStart,
		StartsAt:      thirdStart,
		Duration:      30 * 24 * time.Hour,
	})
	require.NoError(t, e.HandleReceipt(ctx, testProvider, "user-1", []byte(`{}`)))

	ot, err := repo.RequireOriginalTransaction(ctx, "orig-receipt")
	require.NoError(t, err)
	assert.True(t, ot.ExpiresAt.Equal(secondExpiry.Add(30*24*time.Hour)))
}

func TestHandleReceiptUnknownProvider(t *testing.T) {
	e := newTestEngine(newFakeRepo(), &fakeAdapter{})
	err := e.HandleReceipt(context.Background(), "nope", "user-1", []byte(`{}`))
	require.ErrorIs(t, err, ErrUnknownProvider)
}

func TestHandleReceiptParseError(t *testing.T) {
	e := newTestEngine(newFakeRepo(), &fakeAdapter{})
	err := e.HandleReceipt(context.Background(), testProvider, "user-1", []byte(`{}`))
	require.Error(t, err)
}
