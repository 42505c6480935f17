package paying

import (
	"context"
	"fmt"

	"github.com/fatflowers/paying/pkg/logctx"
	"github.com/fatflowers/paying/pkg/types"

	models "github.com/fatflowers/paying/internal/models"
)

// HandleReceipt reconciles a client-submitted receipt against the ledger.
// The whole operation is idempotent: replaying the same receipt creates no
// new rows and changes no state.
func (e *Engine) HandleReceipt(ctx context.Context, provider types.PaymentProvider, userID string, raw []byte) error {
	adapter, err := e.adapter(provider)
	if err != nil {
		return err
	}
	content, err := adapter.ParseReceipt(ctx, userID, raw)
	if err != nil {
		return fmt.Errorf("provider %s receipt parse failed: %w", provider, err)
	}
	if content == nil {
		return nil
	}

	if content.Subscription != nil {
		if err := e.reconcileSubscription(ctx, provider, userID, content.Subscription); err != nil {
			return err
		}
	}
	for _, p := range content.Purchases {
		if err := e.reconcilePurchase(ctx, provider, userID, p); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) reconcileSubscription(ctx context.Context, provider types.PaymentProvider, userID string, sub *ReceiptSubscription) error {
	ot, err := e.repo.OriginalTransaction(ctx, sub.OriginalTransactionID)
	if err != nil {
		return err
	}
	if ot == nil {
		product := e.cfg.GetProductByID(sub.ProductID)
		var group *string
		if product != nil {
			group = product.Group
		}
		ot = &models.OriginalTransaction{
			ID:           sub.OriginalTransactionID,
			UserID:       userID,
			ProviderID:   provider,
			ProductID:    sub.ProductID,
			ProductGroup: group,
		}
		if err := e.repo.CreateOriginalTransaction(ctx, ot); err != nil {
			return fmt.Errorf("failed to persist lineage %s: %w", ot.ID, err)
		}
		logctx.FromCtx(ctx, e.log).Infow("lineage recovered from receipt",
			"user_id", userID, "original_transaction_id", ot.ID)
	}

	if sub.SubscribedAt != nil && ot.SubscribedAt == nil {
		if err := e.ApplyAction(ctx, provider, &SubscribedAction{
			OriginalTransactionID: ot.ID,
			SubscribedAt:          *sub.SubscribedAt,
			Extra:                 sub.Extra,
			AutoRenewalEnabled:    sub.RenewalEnabled,
		}); err != nil {
			return err
		}
	}

	for _, cycle := range sub.Cycles {
		tx, err := e.repo.Transaction(ctx, cycle.TransactionID)
		if err != nil {
			return err
		}
		if tx != nil && tx.CompletedAt != nil {
			continue
		}
		if err := e.ApplyAction(ctx, provider, &SubscriptionRenewalAction{
			TransactionID:         cycle.TransactionID,
			OriginalTransactionID: ot.ID,
			ProductID:             cycle.ProductID,
			PurchasedAt:           cycle.PurchasedAt,
			Duration:              cycle.Duration,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) reconcilePurchase(ctx context.Context, provider types.PaymentProvider, userID string, p *ReceiptPurchase) error {
	tx, err := e.repo.Transaction(ctx, p.TransactionID)
	if err != nil {
		return err
	}
	if tx == nil {
		product := e.cfg.GetProductByID(p.ProductID)
		var group *string
		if product != nil {
			group = product.Group
		}
		tx = &models.Transaction{
			ID:           p.TransactionID,
			Type:         types.TransactionTypePurchase,
			UserID:       userID,
			ProviderID:   provider,
			ProductID:    p.ProductID,
			ProductGroup: group,
		}
		if err := e.repo.CreateTransaction(ctx, tx); err != nil {
			return fmt.Errorf("failed to persist purchase %s: %w", tx.ID, err)
		}
	}
	if tx.CompletedAt != nil {
		return nil
	}
	return e.ApplyAction(ctx, provider, &PaymentConfirmedAction{
		TransactionID: p.TransactionID,
		PurchasedAt:   p.PurchasedAt,
	})
}
