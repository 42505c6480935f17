package paying

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	models "github.com/fatflowers/paying/internal/models"
	"github.com/fatflowers/paying/pkg/config"
	"github.com/fatflowers/paying/pkg/logctx"
	"github.com/fatflowers/paying/pkg/metrics"
	"github.com/fatflowers/paying/pkg/tool"
	"github.com/fatflowers/paying/pkg/types"
)

var (
	ErrUnknownProvider = errors.New("unknown payment provider")
	ErrUnknownAction   = errors.New("unknown action")
	// ErrAlreadyCompleted guards against double confirmation of one charge.
	ErrAlreadyCompleted = errors.New("transaction has already been completed")
	// ErrExpiryRegression guards the monotone expiresAt invariant: renewals
	// extend the window, never shrink it.
	ErrExpiryRegression   = errors.New("expiry time regression")
	ErrCancelNotConfirmed = errors.New("cancellation not confirmed by provider")
	ErrUnknownProduct     = errors.New("unknown product")
)

// AuditLogger persists action/notification audit rows. Implemented by the
// notification_log service; may be nil in tests.
type AuditLogger interface {
	SaveAction(ctx context.Context, row *models.ActionLog)
	SaveNotification(ctx context.Context, row *models.PaymentNotificationLog)
}

// Engine owns every write to the two ledger entities. Provider adapters only
// produce Actions and results; the engine interprets them.
type Engine struct {
	repo     Repository
	adapters map[types.PaymentProvider]Adapter
	cfg      *config.Config
	log      *zap.SugaredLogger
	audit    AuditLogger
	biz      *metrics.Business

	// now is swappable so tests can pin the clock.
	now func() time.Time

	prepareLocks keyedMutex
}

func NewEngine(repo Repository, adapters map[types.PaymentProvider]Adapter, cfg *config.Config, log *zap.SugaredLogger, audit AuditLogger, biz *metrics.Business) *Engine {
	return &Engine{
		repo:     repo,
		adapters: adapters,
		cfg:      cfg,
		log:      log,
		audit:    audit,
		biz:      biz,
		now:      time.Now,
	}
}

func (e *Engine) adapter(provider types.PaymentProvider) (Adapter, error) {
	a, ok := e.adapters[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	return a, nil
}

// ApplyAction dispatches one normalized provider event onto the ledger.
// Unknown action types are a programming error, not a recoverable condition.
func (e *Engine) ApplyAction(ctx context.Context, provider types.PaymentProvider, action Action) error {
	if action == nil {
		return nil
	}

	var err error
	switch a := action.(type) {
	case *PaymentConfirmedAction:
		err = e.applyPaymentConfirmed(ctx, provider, a)
	case *SubscribedAction:
		err = e.applySubscribed(ctx, a)
	case *SubscriptionRenewalAction:
		err = e.applySubscriptionRenewal(ctx, provider, a)
	case *ChangeRenewalStatusAction:
		err = e.applyChangeRenewalStatus(ctx, a)
	case *ChangeRenewalInfoAction:
		err = e.applyChangeRenewalInfo(ctx, a)
	case *SubscriptionCanceledAction:
		err = e.applySubscriptionCanceled(ctx, a)
	case *RechargeFailedAction:
		err = e.applyRechargeFailed(ctx, a)
	default:
		return fmt.Errorf("%w: %T", ErrUnknownAction, action)
	}

	e.biz.CountAction(string(provider), action.ActionType(), err)
	return err
}

// applyPaymentConfirmed completes a charge. For subscription cycles it
// extends the parent lineage's window to startsAt+duration.
func (e *Engine) applyPaymentConfirmed(ctx context.Context, provider types.PaymentProvider, a *PaymentConfirmedAction) error {
	tx, err := e.repo.RequireTransaction(ctx, a.TransactionID)
	if err != nil {
		return err
	}
	if tx.CompletedAt != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyCompleted, tx.ID)
	}

	if err := e.repo.UpdateTransaction(ctx, tx.ID, map[string]any{
		"purchased_at":       a.PurchasedAt,
		"completed_at":       a.PurchasedAt,
		"payment_expires_at": nil,
	}); err != nil {
		return fmt.Errorf("failed to complete transaction %s: %w", tx.ID, err)
	}

	if !tx.IsSubscription() || tx.OriginalTransactionID == nil {
		return nil
	}
	if tx.StartsAt == nil || tx.DurationMS == nil {
		return fmt.Errorf("subscription transaction %s has no window", tx.ID)
	}

	ot, err := e.repo.RequireOriginalTransaction(ctx, *tx.OriginalTransactionID)
	if err != nil {
		return err
	}

	expiresAt := tx.StartsAt.Add(tx.Duration())
	if ot.ExpiresAt != nil && expiresAt.Before(*ot.ExpiresAt) {
		return fmt.Errorf("%w: lineage %s has %s, cycle %s yields %s",
			ErrExpiryRegression, ot.ID, ot.ExpiresAt.Format(time.RFC3339), tx.ID, expiresAt.Format(time.RFC3339))
	}

	fields := map[string]any{"expires_at": expiresAt}
	if ot.StartsAt == nil {
		fields["starts_at"] = *tx.StartsAt
	}
	if err := e.repo.UpdateOriginalTransaction(ctx, ot.ID, fields); err != nil {
		return fmt.Errorf("failed to extend lineage %s: %w", ot.ID, err)
	}

	e.logAction(ctx, ot.UserID, tx.ProviderID, a.ActionType(), &tx.ID, &ot.ID, ot)
	return nil
}

func (e *Engine) applySubscribed(ctx context.Context, a *SubscribedAction) error {
	ot, err := e.repo.RequireOriginalTransaction(ctx, a.OriginalTransactionID)
	if err != nil {
		return err
	}
	if ot.IsCanceled() {
		logctx.FromCtx(ctx, e.log).Warnw("subscribed action on canceled lineage ignored", "original_transaction_id", ot.ID)
		return nil
	}

	renewalEnabled := true
	if a.AutoRenewalEnabled != nil {
		renewalEnabled = *a.AutoRenewalEnabled
	}

	fields := map[string]any{
		"subscribed_at":   a.SubscribedAt,
		"renewal_enabled": renewalEnabled,
	}
	if len(a.Extra) > 0 {
		merged := datatypes.JSONMap{}
		for k, v := range ot.ServiceExtra {
			merged[k] = v
		}
		for k, v := range a.Extra {
			merged[k] = v
		}
		fields["service_extra"] = merged
	}
	if err := e.repo.UpdateOriginalTransaction(ctx, ot.ID, fields); err != nil {
		return fmt.Errorf("failed to mark lineage %s subscribed: %w", ot.ID, err)
	}

	e.logAction(ctx, ot.UserID, ot.ProviderID, a.ActionType(), nil, &ot.ID, ot)
	return nil
}

// applySubscriptionRenewal creates the cycle transaction when the provider
// reports a renewal we have not seen, then confirms its payment. The new
// cycle starts where the lineage currently ends.
func (e *Engine) applySubscriptionRenewal(ctx context.Context, provider types.PaymentProvider, a *SubscriptionRenewalAction) error {
	ot, err := e.repo.RequireOriginalTransaction(ctx, a.OriginalTransactionID)
	if err != nil {
		return err
	}
	if ot.IsCanceled() {
		logctx.FromCtx(ctx, e.log).Warnw("renewal on canceled lineage ignored", "original_transaction_id", ot.ID)
		return nil
	}

	tx, err := e.repo.Transaction(ctx, a.TransactionID)
	if err != nil {
		return err
	}
	if tx == nil {
		startsAt := a.PurchasedAt
		if ot.ExpiresAt != nil {
			startsAt = *ot.ExpiresAt
		}
		durationMS := a.Duration.Milliseconds()
		tx = &models.Transaction{
			ID:                    a.TransactionID,
			Type:                  types.TransactionTypeSubscription,
			UserID:                ot.UserID,
			ProviderID:            provider,
			ProductID:             a.ProductID,
			ProductGroup:          ot.ProductGroup,
			OriginalTransactionID: &ot.ID,
			StartsAt:              &startsAt,
			DurationMS:            &durationMS,
		}
		if err := e.repo.CreateTransaction(ctx, tx); err != nil {
			return fmt.Errorf("failed to create renewal transaction %s: %w", tx.ID, err)
		}
	}

	if ot.ProductID != a.ProductID {
		// Plan change becomes effective on the first renewal that charges it.
		if err := e.repo.UpdateOriginalTransaction(ctx, ot.ID, map[string]any{"product_id": a.ProductID}); err != nil {
			return fmt.Errorf("failed to update lineage product %s: %w", ot.ID, err)
		}
	}

	return e.applyPaymentConfirmed(ctx, provider, &PaymentConfirmedAction{
		TransactionID: a.TransactionID,
		PurchasedAt:   a.PurchasedAt,
	})
}

func (e *Engine) applyChangeRenewalStatus(ctx context.Context, a *ChangeRenewalStatusAction) error {
	ot, err := e.repo.RequireOriginalTransaction(ctx, a.OriginalTransactionID)
	if err != nil {
		return err
	}
	if ot.IsCanceled() {
		return nil
	}
	if err := e.repo.UpdateOriginalTransaction(ctx, ot.ID, map[string]any{"renewal_enabled": a.RenewalEnabled}); err != nil {
		return fmt.Errorf("failed to change renewal status of %s: %w", ot.ID, err)
	}
	e.logAction(ctx, ot.UserID, ot.ProviderID, a.ActionType(), nil, &ot.ID, ot)
	return nil
}

func (e *Engine) applyChangeRenewalInfo(ctx context.Context, a *ChangeRenewalInfoAction) error {
	ot, err := e.repo.RequireOriginalTransaction(ctx, a.OriginalTransactionID)
	if err != nil {
		return err
	}
	if ot.IsCanceled() {
		return nil
	}
	fields := map[string]any{
		"renewal_enabled": a.RenewalEnabled,
	}
	if a.ProductID != "" {
		fields["product_id"] = a.ProductID
	}
	if a.RenewalProductID != "" {
		fields["renewal_product_id"] = a.RenewalProductID
	}
	if err := e.repo.UpdateOriginalTransaction(ctx, ot.ID, fields); err != nil {
		return fmt.Errorf("failed to change renewal info of %s: %w", ot.ID, err)
	}
	e.logAction(ctx, ot.UserID, ot.ProviderID, a.ActionType(), nil, &ot.ID, ot)
	return nil
}

// applySubscriptionCanceled is idempotent: canceling a canceled lineage is a
// no-op. renewalEnabled is forced off so the renewal sweep skips it.
func (e *Engine) applySubscriptionCanceled(ctx context.Context, a *SubscriptionCanceledAction) error {
	ot, err := e.repo.RequireOriginalTransaction(ctx, a.OriginalTransactionID)
	if err != nil {
		return err
	}
	if ot.IsCanceled() {
		return nil
	}
	fields := map[string]any{
		"canceled_at":     a.CanceledAt,
		"renewal_enabled": false,
	}
	if a.Reason != nil {
		fields["cancel_reason"] = *a.Reason
	}
	if err := e.repo.UpdateOriginalTransaction(ctx, ot.ID, fields); err != nil {
		return fmt.Errorf("failed to cancel lineage %s: %w", ot.ID, err)
	}
	e.logAction(ctx, ot.UserID, ot.ProviderID, a.ActionType(), nil, &ot.ID, ot)
	return nil
}

func (e *Engine) applyRechargeFailed(ctx context.Context, a *RechargeFailedAction) error {
	ot, err := e.repo.RequireOriginalTransaction(ctx, a.OriginalTransactionID)
	if err != nil {
		return err
	}
	if err := e.repo.UpdateOriginalTransaction(ctx, ot.ID, map[string]any{
		"last_failed_reason": a.Reason,
		"last_failed_at":     a.FailedAt,
	}); err != nil {
		return fmt.Errorf("failed to record recharge failure on %s: %w", ot.ID, err)
	}
	logctx.FromCtx(ctx, e.log).Infow("recharge failed",
		"original_transaction_id", ot.ID, "reason", a.Reason)
	return nil
}

func (e *Engine) logAction(ctx context.Context, userID string, provider types.PaymentProvider, actionType string, txID, otID *string, before *models.OriginalTransaction) {
	if e.audit == nil {
		return
	}
	e.audit.SaveAction(ctx, &models.ActionLog{
		ID:                    tool.GenerateUUIDV7(),
		UserID:                userID,
		ProviderID:            provider,
		ActionType:            actionType,
		TransactionID:         txID,
		OriginalTransactionID: otID,
		Before:                datatypes.NewJSONType(before),
	})
}
