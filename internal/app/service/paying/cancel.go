package paying

import (
	"context"
	"fmt"

	"github.com/fatflowers/paying/pkg/logctx"
	"github.com/samber/lo"

	"github.com/fatflowers/paying/pkg/types"
)

// CancelSubscription cancels a lineage through its provider. Returns whether
// the lineage is canceled after the call: true for an already-canceled
// lineage (idempotent), false when the provider refused.
//
// The ledger is only touched after the provider confirms; afterwards the row
// is re-read and must show canceled, anything else is a consistency fault.
func (e *Engine) CancelSubscription(ctx context.Context, originalTransactionID string) (bool, error) {
	ot, err := e.repo.RequireOriginalTransaction(ctx, originalTransactionID)
	if err != nil {
		return false, err
	}
	if ot.IsCanceled() {
		return true, nil
	}

	adapter, err := e.adapter(ot.ProviderID)
	if err != nil {
		return false, err
	}

	ok, err := adapter.CancelSubscription(ctx, ot)
	if err != nil {
		return false, fmt.Errorf("provider %s cancel call failed for %s: %w", ot.ProviderID, ot.ID, err)
	}
	if !ok {
		logctx.FromCtx(ctx, e.log).Warnw("provider refused cancellation",
			"provider", ot.ProviderID, "original_transaction_id", ot.ID)
		return false, nil
	}

	if err := e.ApplyAction(ctx, ot.ProviderID, &SubscriptionCanceledAction{
		OriginalTransactionID: ot.ID,
		CanceledAt:            e.now(),
		Reason:                lo.ToPtr("requested"),
	}); err != nil {
		return false, err
	}

	after, err := e.repo.RequireOriginalTransaction(ctx, ot.ID)
	if err != nil {
		return false, err
	}
	if after.Status(e.now()) != types.SubscriptionStatusCanceled {
		return false, fmt.Errorf("lineage %s: %w", ot.ID, ErrCancelNotConfirmed)
	}
	return true, nil
}
