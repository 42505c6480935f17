package paying

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fatflowers/paying/pkg/logctx"
	"github.com/fatflowers/paying/pkg/types"

	models "github.com/fatflowers/paying/internal/models"
)

// keyedMutex serializes work per key. Used so two concurrent prepare calls
// for the same user+group cannot both pass the "cancel previous active
// lineage" step.
type keyedMutex struct {
	mu sync.Map
}

func (m *keyedMutex) lock(key string) func() {
	v, _ := m.mu.LoadOrStore(key, &sync.Mutex{})
	l := v.(*sync.Mutex)
	l.Lock()
	return l.Unlock
}

type PrepareSubscriptionResult struct {
	OriginalTransaction *models.OriginalTransaction `json:"original_transaction"`
	Transaction         *models.Transaction         `json:"transaction"`
	// Response is the provider payload the client needs to complete payment.
	Response json.RawMessage `json:"response"`
}

type PreparePurchaseResult struct {
	Transaction *models.Transaction `json:"transaction"`
	Response    json.RawMessage     `json:"response"`
}

// PrepareSubscription opens a new subscription lineage for the user. A still
// active lineage in the same product group is canceled first, and the new
// entitlement window attaches after any remaining one, so pre-purchases stack
// instead of overlapping.
func (e *Engine) PrepareSubscription(ctx context.Context, provider types.PaymentProvider, productID, userID string) (*PrepareSubscriptionResult, error) {
	adapter, err := e.adapter(provider)
	if err != nil {
		return nil, err
	}
	product := e.cfg.GetProductByID(productID)
	if product == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, productID)
	}
	if !product.IsSubscription() {
		return nil, fmt.Errorf("product %s is not a subscription", productID)
	}

	if group := product.GroupOrEmpty(); group != "" {
		unlock := e.prepareLocks.lock(userID + "|" + group)
		defer unlock()
	}

	now := e.now()
	startsAt := now

	if group := product.GroupOrEmpty(); group != "" {
		active, err := e.repo.ActiveOriginalTransactionsInGroup(ctx, userID, group)
		if err != nil {
			return nil, err
		}
		for _, prev := range active {
			ok, err := e.CancelSubscription(ctx, prev.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to cancel previous lineage %s: %w", prev.ID, err)
			}
			if !ok {
				return nil, fmt.Errorf("previous lineage %s: %w", prev.ID, ErrCancelNotConfirmed)
			}
			if prev.ExpiresAt != nil && prev.ExpiresAt.After(startsAt) {
				startsAt = *prev.ExpiresAt
			}
		}
	}

	paymentExpiresAt := now.Add(e.cfg.Paying.PurchaseExpiresAfter())
	prepared, err := adapter.PrepareSubscriptionData(ctx, &PrepareSubscriptionOptions{
		UserID:           userID,
		Product:          product,
		StartsAt:         startsAt,
		PaymentExpiresAt: paymentExpiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("provider %s failed to prepare subscription: %w", provider, err)
	}

	ot := &models.OriginalTransaction{
		ID:           prepared.OriginalTransactionID,
		UserID:       userID,
		ProviderID:   provider,
		ProductID:    product.ID,
		ProductGroup: product.Group,
		// Unconfirmed until the provider reports the mandate; the window is
		// opened by the first payment confirmation.
		RenewalEnabled: false,
	}
	if err := e.repo.CreateOriginalTransaction(ctx, ot); err != nil {
		return nil, fmt.Errorf("failed to persist lineage %s: %w", ot.ID, err)
	}

	durationMS := prepared.Duration.Milliseconds()
	tx := &models.Transaction{
		ID:                    prepared.TransactionID,
		Type:                  types.TransactionTypeSubscription,
		UserID:                userID,
		ProviderID:            provider,
		ProductID:             product.ID,
		ProductGroup:          product.Group,
		OriginalTransactionID: &ot.ID,
		StartsAt:              &startsAt,
		DurationMS:            &durationMS,
		PaymentExpiresAt:      &paymentExpiresAt,
		Raw:                   jsonOrEmpty(prepared.Response),
	}
	if err := e.repo.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to persist transaction %s: %w", tx.ID, err)
	}

	logctx.FromCtx(ctx, e.log).Infow("subscription prepared",
		"user_id", userID, "provider", provider, "product_id", productID,
		"original_transaction_id", ot.ID, "transaction_id", tx.ID,
		"starts_at", startsAt)

	return &PrepareSubscriptionResult{OriginalTransaction: ot, Transaction: tx, Response: prepared.Response}, nil
}

// PreparePurchase opens a pending one-off charge.
func (e *Engine) PreparePurchase(ctx context.Context, provider types.PaymentProvider, productID, userID string) (*PreparePurchaseResult, error) {
	adapter, err := e.adapter(provider)
	if err != nil {
		return nil, err
	}
	product := e.cfg.GetProductByID(productID)
	if product == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, productID)
	}

	paymentExpiresAt := e.now().Add(e.cfg.Paying.PurchaseExpiresAfter())
	prepared, err := adapter.PreparePurchaseData(ctx, &PreparePurchaseOptions{
		UserID:           userID,
		Product:          product,
		PaymentExpiresAt: paymentExpiresAt,
	})
	if err != nil {
		return nil, fmt.Errorf("provider %s failed to prepare purchase: %w", provider, err)
	}

	tx := &models.Transaction{
		ID:               prepared.TransactionID,
		Type:             types.TransactionTypePurchase,
		UserID:           userID,
		ProviderID:       provider,
		ProductID:        product.ID,
		ProductGroup:     product.Group,
		PaymentExpiresAt: &paymentExpiresAt,
		Raw:              jsonOrEmpty(prepared.Response),
	}
	if err := e.repo.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to persist transaction %s: %w", tx.ID, err)
	}

	logctx.FromCtx(ctx, e.log).Infow("purchase prepared",
		"user_id", userID, "provider", provider, "product_id", productID,
		"transaction_id", tx.ID)

	return &PreparePurchaseResult{Transaction: tx, Response: prepared.Response}, nil
}

func jsonOrEmpty(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}
