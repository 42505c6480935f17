package paying

import (
	"context"
	"fmt"

	"gorm.io/datatypes"

	models "github.com/fatflowers/paying/internal/models"
	"github.com/fatflowers/paying/pkg/logctx"
	"github.com/fatflowers/paying/pkg/tool"
	"github.com/fatflowers/paying/pkg/types"
)

// HandleCallback parses one raw provider callback and applies the resulting
// action. The raw payload is always written to the notification audit log,
// whatever the outcome.
func (e *Engine) HandleCallback(ctx context.Context, provider types.PaymentProvider, raw []byte) (Action, error) {
	adapter, err := e.adapter(provider)
	if err != nil {
		return nil, err
	}

	row := &models.PaymentNotificationLog{
		ID:               tool.GenerateUUIDV7(),
		ProviderID:       provider,
		NotificationTime: e.now(),
		Data:             datatypes.JSON(raw),
		Status:           models.PaymentNotificationLogStatusReceived,
	}
	if tid, ok := ctx.Value("traceID").(string); ok {
		row.TraceID = tid
	}

	action, err := adapter.ParseCallback(ctx, raw)
	if err != nil {
		e.saveNotification(ctx, row, models.PaymentNotificationLogStatusHandleFailed)
		return nil, fmt.Errorf("provider %s callback parse failed: %w", provider, err)
	}
	if action == nil {
		logctx.FromCtx(ctx, e.log).Infow("callback carried no action", "provider", provider)
		e.saveNotification(ctx, row, models.PaymentNotificationLogStatusHandled)
		return nil, nil
	}

	row.ActionType = action.ActionType()
	fillNotificationIDs(row, action)

	if err := e.ApplyAction(ctx, provider, action); err != nil {
		e.saveNotification(ctx, row, models.PaymentNotificationLogStatusHandleFailed)
		return nil, err
	}
	e.saveNotification(ctx, row, models.PaymentNotificationLogStatusHandled)
	return action, nil
}

func (e *Engine) saveNotification(ctx context.Context, row *models.PaymentNotificationLog, status models.PaymentNotificationLogStatus) {
	if e.audit == nil {
		return
	}
	row.Status = status
	e.audit.SaveNotification(ctx, row)
}

func fillNotificationIDs(row *models.PaymentNotificationLog, action Action) {
	switch a := action.(type) {
	case *PaymentConfirmedAction:
		row.TransactionID = &a.TransactionID
	case *SubscribedAction:
		row.OriginalTransactionID = &a.OriginalTransactionID
	case *SubscriptionRenewalAction:
		row.TransactionID = &a.TransactionID
		row.OriginalTransactionID = &a.OriginalTransactionID
	case *ChangeRenewalStatusAction:
		row.OriginalTransactionID = &a.OriginalTransactionID
	case *ChangeRenewalInfoAction:
		row.OriginalTransactionID = &a.OriginalTransactionID
	case *SubscriptionCanceledAction:
		row.OriginalTransactionID = &a.OriginalTransactionID
	case *RechargeFailedAction:
		row.OriginalTransactionID = &a.OriginalTransactionID
	}
}
