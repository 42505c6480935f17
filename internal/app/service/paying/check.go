package paying

import (
	"context"
	"time"

	"github.com/fatflowers/paying/pkg/logctx"

	models "github.com/fatflowers/paying/internal/models"
)

// ErrorSink receives per-item failures from a sweep. A sweep never aborts on
// one item: the error is delivered here and iteration continues.
type ErrorSink func(ctx context.Context, entity, id string, err error)

func (e *Engine) sink(sweep string, onError ErrorSink) ErrorSink {
	return func(ctx context.Context, entity, id string, err error) {
		e.biz.CountSweepFailure(sweep)
		logctx.FromCtx(ctx, e.log).Errorw("sweep item failed",
			"sweep", sweep, "entity", entity, "id", id, "error", err)
		if onError != nil {
			onError(ctx, entity, id, err)
		}
	}
}

// CheckTransactions reconciles pending charges against the provider: paid
// ones get confirmed, remotely canceled ones get closed.
//
// A canceled renewal charge closes only the transaction; the parent lineage
// is touched only when cancel_lineage_on_remote_cancel is set.
func (e *Engine) CheckTransactions(ctx context.Context, onError ErrorSink) error {
	sink := e.sink("check_transactions", onError)
	return e.repo.EachPendingTransaction(ctx, e.cfg.Paying.SweepBatchSize, func(tx *models.Transaction) error {
		if err := e.checkTransaction(ctx, tx); err != nil {
			sink(ctx, "transaction", tx.ID, err)
		}
		return nil
	})
}

func (e *Engine) checkTransaction(ctx context.Context, tx *models.Transaction) error {
	adapter, err := e.adapter(tx.ProviderID)
	if err != nil {
		return err
	}
	res, err := adapter.QueryTransactionStatus(ctx, tx.ID)
	if err != nil {
		return err
	}

	switch res.Kind {
	case TransactionStatusKindSuccess:
		purchasedAt := e.now()
		if res.PurchasedAt != nil {
			purchasedAt = *res.PurchasedAt
		}
		return e.ApplyAction(ctx, tx.ProviderID, &PaymentConfirmedAction{
			TransactionID: tx.ID,
			PurchasedAt:   purchasedAt,
		})
	case TransactionStatusKindCanceled:
		canceledAt := e.now()
		if res.CanceledAt != nil {
			canceledAt = *res.CanceledAt
		}
		fields := map[string]any{"canceled_at": canceledAt}
		if res.Reason != nil {
			fields["cancel_reason"] = *res.Reason
		}
		if err := e.repo.UpdateTransaction(ctx, tx.ID, fields); err != nil {
			return err
		}
		if e.cfg.Paying.CancelLineageOnRemoteCancel && tx.IsSubscription() && tx.OriginalTransactionID != nil {
			return e.ApplyAction(ctx, tx.ProviderID, &SubscriptionCanceledAction{
				OriginalTransactionID: *tx.OriginalTransactionID,
				CanceledAt:            canceledAt,
				Reason:                res.Reason,
			})
		}
		return nil
	default:
		return nil
	}
}

// CheckUncompletedSubscriptions resolves lineages whose recurring mandate was
// never confirmed by the provider.
func (e *Engine) CheckUncompletedSubscriptions(ctx context.Context, onError ErrorSink) error {
	sink := e.sink("check_uncompleted_subscriptions", onError)
	return e.repo.EachUncompletedOriginalTransaction(ctx, e.cfg.Paying.SweepBatchSize, func(ot *models.OriginalTransaction) error {
		if err := e.checkUncompletedSubscription(ctx, ot); err != nil {
			sink(ctx, "original_transaction", ot.ID, err)
		}
		return nil
	})
}

func (e *Engine) checkUncompletedSubscription(ctx context.Context, ot *models.OriginalTransaction) error {
	adapter, err := e.adapter(ot.ProviderID)
	if err != nil {
		return err
	}
	res, err := adapter.QuerySubscriptionStatus(ctx, ot.ID)
	if err != nil {
		return err
	}

	switch res.Kind {
	case SubscriptionStatusKindSubscribed:
		subscribedAt := e.now()
		if res.SubscribedAt != nil {
			subscribedAt = *res.SubscribedAt
		}
		return e.ApplyAction(ctx, ot.ProviderID, &SubscribedAction{
			OriginalTransactionID: ot.ID,
			SubscribedAt:          subscribedAt,
			Extra:                 res.Extra,
			AutoRenewalEnabled:    res.AutoRenewalEnabled,
		})
	case SubscriptionStatusKindCanceled:
		canceledAt := e.now()
		if res.CanceledAt != nil {
			canceledAt = *res.CanceledAt
		}
		return e.ApplyAction(ctx, ot.ProviderID, &SubscriptionCanceledAction{
			OriginalTransactionID: ot.ID,
			CanceledAt:            canceledAt,
			Reason:                res.Reason,
		})
	default:
		return nil
	}
}

// CheckSubscriptionRenewals charges lineages that expire within the
// configured lookahead window. Whatever the adapter reports back (renewal,
// cancellation, failure) is applied as-is; a nil action means the charge is
// still in flight.
func (e *Engine) CheckSubscriptionRenewals(ctx context.Context, onError ErrorSink) error {
	sink := e.sink("check_subscription_renewals", onError)
	expiringBefore := e.now().Add(e.cfg.Paying.RenewalBefore())
	return e.repo.EachRenewableOriginalTransaction(ctx, expiringBefore, e.cfg.Paying.SweepBatchSize, func(ot *models.OriginalTransaction) error {
		if err := e.checkSubscriptionRenewal(ctx, ot); err != nil {
			sink(ctx, "original_transaction", ot.ID, err)
		}
		return nil
	})
}

func (e *Engine) checkSubscriptionRenewal(ctx context.Context, ot *models.OriginalTransaction) error {
	adapter, err := e.adapter(ot.ProviderID)
	if err != nil {
		return err
	}
	started := time.Now()
	action, err := adapter.RechargeSubscription(ctx, ot, e.now().Add(e.cfg.Paying.PurchaseExpiresAfter()))
	e.biz.ObserveAdapterCall(string(ot.ProviderID), "recharge_subscription", time.Since(started))
	if err != nil {
		return err
	}
	if action == nil {
		return nil
	}
	return e.ApplyAction(ctx, ot.ProviderID, action)
}
