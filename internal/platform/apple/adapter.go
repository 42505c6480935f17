package apple

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/awa/go-iap/appstore/api"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/fatflowers/paying/internal/app/service/paying"
	models "github.com/fatflowers/paying/internal/models"
	"github.com/fatflowers/paying/internal/platform/apple/apple_iap"
	"github.com/fatflowers/paying/internal/platform/apple/apple_notification"
	"github.com/fatflowers/paying/pkg/config"
	"github.com/fatflowers/paying/pkg/logctx"
	"github.com/fatflowers/paying/pkg/tool"
	"github.com/fatflowers/paying/pkg/types"
)

// Adapter integrates the App Store. Purchases run on-device through
// StoreKit, so preparation only mints ledger ids and tells the client what to
// buy; the authoritative transaction ids arrive later through receipts and
// server notifications.
type Adapter struct {
	cfg    *config.Config
	client *api.StoreClient
	log    *zap.SugaredLogger
}

func NewAdapter(cfg *config.Config, log *zap.SugaredLogger) (*Adapter, error) {
	a := &Adapter{cfg: cfg, log: log}
	if cfg.Apple.KeyID != "" {
		client, err := apple_iap.NewStoreClient(&apple_iap.ClientOptions{
			KeyID:      cfg.Apple.KeyID,
			KeyContent: cfg.Apple.KeyContent,
			BundleID:   cfg.Apple.BundleID,
			Issuer:     cfg.Apple.Issuer,
			Sandbox:    !cfg.Apple.IsProd,
		})
		if err != nil {
			return nil, err
		}
		a.client = client
	}
	return a, nil
}

func (a *Adapter) Provider() types.PaymentProvider { return types.PaymentProviderApple }

func (a *Adapter) GenerateTransactionID() string         { return tool.GenerateUUIDV7() }
func (a *Adapter) GenerateOriginalTransactionID() string { return tool.GenerateUUIDV7() }

type preparedPayload struct {
	ProviderProductID string `json:"provider_product_id"`
	AppAccountToken   string `json:"app_account_token,omitempty"`
	PaymentExpiresAt  int64  `json:"payment_expires_at"`
}

func (a *Adapter) PrepareSubscriptionData(ctx context.Context, opts *paying.PrepareSubscriptionOptions) (*paying.PreparedSubscription, error) {
	if opts.Product.DurationDays == nil {
		return nil, fmt.Errorf("product %s has no duration", opts.Product.ID)
	}
	response, err := a.clientPayload(opts.Product, opts.UserID, opts.PaymentExpiresAt)
	if err != nil {
		return nil, err
	}
	return &paying.PreparedSubscription{
		Response:              response,
		Duration:              time.Duration(*opts.Product.DurationDays) * 24 * time.Hour,
		TransactionID:         a.GenerateTransactionID(),
		OriginalTransactionID: a.GenerateOriginalTransactionID(),
	}, nil
}

func (a *Adapter) PreparePurchaseData(ctx context.Context, opts *paying.PreparePurchaseOptions) (*paying.PreparedPurchase, error) {
	response, err := a.clientPayload(opts.Product, opts.UserID, opts.PaymentExpiresAt)
	if err != nil {
		return nil, err
	}
	return &paying.PreparedPurchase{
		Response:      response,
		TransactionID: a.GenerateTransactionID(),
	}, nil
}

func (a *Adapter) clientPayload(product *types.Product, userID string, paymentExpiresAt time.Time) (json.RawMessage, error) {
	payload := preparedPayload{
		ProviderProductID: product.ProviderProductID,
		PaymentExpiresAt:  paymentExpiresAt.UnixMilli(),
	}
	// appAccountToken lets notifications be attributed back to the user.
	if token, err := apple_iap.UserIDToUUID(userID); err == nil {
		payload.AppAccountToken = token
	}
	return json.Marshal(payload)
}

// ParseCallback verifies an App Store Server Notification V2 JWS payload and
// normalizes it. Notification types outside our lifecycle return (nil, nil).
func (a *Adapter) ParseCallback(ctx context.Context, raw []byte) (paying.Action, error) {
	var request apple_notification.AppStoreServerRequest
	if err := json.Unmarshal(raw, &request); err != nil {
		return nil, fmt.Errorf("malformed notification body: %w", err)
	}
	notification, err := apple_notification.New(request.SignedPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to verify signed payload: %w", err)
	}
	if notification.IsTestNotification {
		return nil, nil
	}
	action := a.mapNotification(notification)
	if action == nil {
		logctx.FromCtx(ctx, a.log).Infow("unhandled apple notification",
			"type", notification.Payload.NotificationType, "subtype", notification.Payload.Subtype)
	}
	return action, nil
}

func (a *Adapter) mapNotification(n *apple_notification.AppStoreServerNotification) paying.Action {
	tx := n.TransactionInfo
	if tx == nil {
		return nil
	}
	signedAt := time.UnixMilli(n.Payload.SignedDate)

	renewalEnabled := func() *bool {
		if n.RenewalInfo == nil {
			return nil
		}
		return lo.ToPtr(n.RenewalInfo.AutoRenewStatus == 1)
	}

	switch n.Payload.NotificationType {
	case "SUBSCRIBED":
		return &paying.SubscribedAction{
			OriginalTransactionID: tx.OriginalTransactionId,
			SubscribedAt:          time.UnixMilli(tx.PurchaseDate),
			AutoRenewalEnabled:    renewalEnabled(),
		}
	case "DID_RENEW":
		return &paying.SubscriptionRenewalAction{
			TransactionID:         tx.TransactionId,
			OriginalTransactionID: tx.OriginalTransactionId,
			ProductID:             a.catalogProductID(tx.ProductId),
			PurchasedAt:           time.UnixMilli(tx.PurchaseDate),
			Duration:              time.Duration(tx.ExpiresDate-tx.PurchaseDate) * time.Millisecond,
		}
	case "ONE_TIME_CHARGE":
		return &paying.PaymentConfirmedAction{
			TransactionID: tx.TransactionId,
			PurchasedAt:   time.UnixMilli(tx.PurchaseDate),
		}
	case "DID_CHANGE_RENEWAL_STATUS":
		enabled := n.Payload.Subtype == "AUTO_RENEW_ENABLED"
		if n.RenewalInfo != nil {
			enabled = n.RenewalInfo.AutoRenewStatus == 1
		}
		return &paying.ChangeRenewalStatusAction{
			OriginalTransactionID: tx.OriginalTransactionId,
			RenewalEnabled:        enabled,
		}
	case "DID_CHANGE_RENEWAL_PREF":
		action := &paying.ChangeRenewalInfoAction{
			OriginalTransactionID: tx.OriginalTransactionId,
			RenewalEnabled:        true,
			ProductID:             a.catalogProductID(tx.ProductId),
		}
		if n.RenewalInfo != nil {
			action.RenewalEnabled = n.RenewalInfo.AutoRenewStatus == 1
			action.RenewalProductID = a.catalogProductID(n.RenewalInfo.AutoRenewProductId)
		}
		return action
	case "EXPIRED", "REVOKE":
		return &paying.SubscriptionCanceledAction{
			OriginalTransactionID: tx.OriginalTransactionId,
			CanceledAt:            signedAt,
			Reason:                lo.ToPtr(n.Payload.Subtype),
		}
	case "DID_FAIL_TO_RENEW", "GRACE_PERIOD_EXPIRED":
		reason := n.Payload.Subtype
		if reason == "" {
			reason = "billing issue"
		}
		return &paying.RechargeFailedAction{
			OriginalTransactionID: tx.OriginalTransactionId,
			Reason:                reason,
			FailedAt:              signedAt,
		}
	default:
		return nil
	}
}

type receiptRequest struct {
	ReceiptData string `json:"receipt_data"`
}

// ParseReceipt verifies a base64 receipt and rebuilds the reconciliation
// content: subscription cycles for entries with an expiry, plain purchases
// otherwise.
func (a *Adapter) ParseReceipt(ctx context.Context, userID string, raw []byte) (*paying.ReceiptContent, error) {
	var req receiptRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, fmt.Errorf("malformed receipt body: %w", err)
	}
	receipt, err := apple_iap.VerifyReceipt(ctx, req.ReceiptData, !a.cfg.Apple.IsProd)
	if err != nil {
		return nil, err
	}

	content := &paying.ReceiptContent{}
	subscriptions := map[string]*paying.ReceiptSubscription{}
	for _, info := range receipt.LatestReceiptInfo {
		purchasedAt := time.UnixMilli(msToInt(info.PurchaseDateMs))
		if info.ExpiresDateMs == "" {
			content.Purchases = append(content.Purchases, &paying.ReceiptPurchase{
				TransactionID: info.TransactionId,
				ProductID:     a.catalogProductID(info.ProductId),
				PurchasedAt:   purchasedAt,
			})
			continue
		}
		sub := subscriptions[info.OriginalTransactionId]
		if sub == nil {
			sub = &paying.ReceiptSubscription{
				OriginalTransactionID: info.OriginalTransactionId,
				ProductID:             a.catalogProductID(info.ProductId),
				SubscribedAt:          &purchasedAt,
			}
			subscriptions[info.OriginalTransactionId] = sub
			// one lineage per receipt; Apple keys renewals by the original id
			if content.Subscription == nil {
				content.Subscription = sub
			}
		}
		expiresAt := time.UnixMilli(msToInt(info.ExpiresDateMs))
		sub.Cycles = append(sub.Cycles, &paying.ReceiptCycle{
			TransactionID: info.TransactionId,
			ProductID:     a.catalogProductID(info.ProductId),
			PurchasedAt:   purchasedAt,
			StartsAt:      purchasedAt,
			Duration:      expiresAt.Sub(purchasedAt),
		})
	}
	return content, nil
}

func (a *Adapter) QueryTransactionStatus(ctx context.Context, transactionID string) (*paying.TransactionStatusResult, error) {
	if a.client == nil {
		return &paying.TransactionStatusResult{Kind: paying.TransactionStatusKindPending}, nil
	}
	rsp, err := a.client.GetTransactionInfo(ctx, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction %s: %w", transactionID, err)
	}
	tx, err := a.client.ParseSignedTransaction(rsp.SignedTransactionInfo)
	if err != nil {
		return nil, err
	}
	if tx.RevocationDate > 0 {
		return &paying.TransactionStatusResult{
			Kind:       paying.TransactionStatusKindCanceled,
			CanceledAt: lo.ToPtr(time.UnixMilli(int64(tx.RevocationDate))),
			Reason:     lo.ToPtr("revoked"),
		}, nil
	}
	if tx.PurchaseDate > 0 {
		return &paying.TransactionStatusResult{
			Kind:        paying.TransactionStatusKindSuccess,
			PurchasedAt: lo.ToPtr(time.UnixMilli(int64(tx.PurchaseDate))),
		}, nil
	}
	return &paying.TransactionStatusResult{Kind: paying.TransactionStatusKindPending}, nil
}

func (a *Adapter) QuerySubscriptionStatus(ctx context.Context, originalTransactionID string) (*paying.SubscriptionStatusResult, error) {
	if a.client == nil {
		return &paying.SubscriptionStatusResult{Kind: paying.SubscriptionStatusKindPending}, nil
	}
	rsp, err := a.client.GetALLSubscriptionStatuses(ctx, originalTransactionID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscription %s: %w", originalTransactionID, err)
	}
	for _, group := range rsp.Data {
		for _, last := range group.LastTransactions {
			if last.OriginalTransactionId != originalTransactionID {
				continue
			}
			// https://developer.apple.com/documentation/appstoreserverapi/status
			if last.Status == 5 {
				return &paying.SubscriptionStatusResult{
					Kind:   paying.SubscriptionStatusKindCanceled,
					Reason: lo.ToPtr("revoked"),
				}, nil
			}
			result := &paying.SubscriptionStatusResult{Kind: paying.SubscriptionStatusKindSubscribed}
			if tx, err := a.client.ParseSignedTransaction(last.SignedTransactionInfo); err == nil && tx.PurchaseDate > 0 {
				result.SubscribedAt = lo.ToPtr(time.UnixMilli(int64(tx.PurchaseDate)))
			}
			return result, nil
		}
	}
	return &paying.SubscriptionStatusResult{Kind: paying.SubscriptionStatusKindPending}, nil
}

// RechargeSubscription is store-driven for Apple: renewals happen on their
// side and arrive as DID_RENEW notifications.
func (a *Adapter) RechargeSubscription(ctx context.Context, lineage *models.OriginalTransaction, paymentExpiresAt time.Time) (paying.Action, error) {
	return nil, nil
}

// CancelSubscription cannot be done server-side; users cancel through the
// App Store subscription management UI.
func (a *Adapter) CancelSubscription(ctx context.Context, lineage *models.OriginalTransaction) (bool, error) {
	return false, nil
}

func (a *Adapter) catalogProductID(providerProductID string) string {
	if p, err := a.cfg.GetProductByProviderProductID(types.PaymentProviderApple, providerProductID); err == nil {
		return p.ID
	}
	return providerProductID
}

func msToInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

var _ paying.Adapter = (*Adapter)(nil)
