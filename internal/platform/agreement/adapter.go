package agreement

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/fatflowers/paying/internal/app/service/paying"
	models "github.com/fatflowers/paying/internal/models"
	"github.com/fatflowers/paying/pkg/config"
	"github.com/fatflowers/paying/pkg/logctx"
	"github.com/fatflowers/paying/pkg/tool"
	"github.com/fatflowers/paying/pkg/types"
)

// ServiceExtraAgreementNo is where the provider-issued agreement number lives
// on a lineage. It is set by the sign callback and required for recharges.
const ServiceExtraAgreementNo = "agreement_no"

const (
	codeSuccess    = "10000"
	codeInProgress = "10003"
	codeBizFailed  = "40004"
)

// Sub codes of codeBizFailed that mean the agreement no longer exists on the
// provider side, so the lineage is dead rather than temporarily failing.
var agreementInvalidSubCodes = map[string]bool{
	"TRADE_BUYER_NOT_MATCH":        true,
	"MERCHANT_AGREEMENT_NOT_EXIST": true,
	"MERCHANT_AGREEMENT_INVALID":   true,
	"BUYER_NOT_EXIST":              true,
	"AGREEMENT_NOT_EXIST":          true,
}

// Adapter talks to the self-hosted agreement-pay gateway: a signed JSON API
// where subscriptions are backed by a withholding agreement and renewals are
// merchant-initiated charges against it.
type Adapter struct {
	cfg        *config.Config
	log        *zap.SugaredLogger
	httpClient *http.Client
}

func NewAdapter(cfg *config.Config, log *zap.SugaredLogger) *Adapter {
	return &Adapter{
		cfg:        cfg,
		log:        log,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

func (a *Adapter) Provider() types.PaymentProvider { return types.PaymentProviderAgreement }

func (a *Adapter) GenerateTransactionID() string         { return tool.GenerateUUIDV7() }
func (a *Adapter) GenerateOriginalTransactionID() string { return tool.GenerateUUIDV7() }

func (a *Adapter) sign(data []byte) string {
	mac := hmac.New(sha256.New, []byte(a.cfg.Agreement.Secret))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

type apiResponse struct {
	Code    string `json:"code"`
	SubCode string `json:"sub_code,omitempty"`
	Msg     string `json:"msg,omitempty"`

	TradeStatus string `json:"trade_status,omitempty"`
	PaidAt      int64  `json:"paid_at,omitempty"`

	AgreementNo     string `json:"agreement_no,omitempty"`
	AgreementStatus string `json:"agreement_status,omitempty"`
	SignedAt        int64  `json:"signed_at,omitempty"`
	InvalidAt       int64  `json:"invalid_at,omitempty"`
}

func (a *Adapter) call(ctx context.Context, path string, payload any) (*apiResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.Agreement.Endpoint+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Agreement-App-Id", a.cfg.Agreement.AppID)
	req.Header.Set("X-Agreement-Signature", a.sign(body))

	rsp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agreement gateway request failed: %w", err)
	}
	defer rsp.Body.Close()

	raw, err := io.ReadAll(rsp.Body)
	if err != nil {
		return nil, err
	}
	if rsp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("agreement gateway returned %d: %s", rsp.StatusCode, raw)
	}
	var result apiResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("malformed gateway response: %w", err)
	}
	return &result, nil
}

type signedOrder struct {
	AppID            string `json:"app_id"`
	OutTradeNo       string `json:"out_trade_no"`
	MerchantOrderNo  string `json:"merchant_order_no,omitempty"`
	ProductID        string `json:"product_id"`
	PaymentExpiresAt int64  `json:"payment_expires_at"`
	// Set for subscription orders: the client signs a withholding agreement
	// keyed by the lineage id while paying the first cycle.
	ExternalAgreementNo string `json:"external_agreement_no,omitempty"`
	Sign                string `json:"sign"`
}

func (a *Adapter) signedOrderPayload(order *signedOrder) (json.RawMessage, error) {
	order.AppID = a.cfg.Agreement.AppID
	unsigned, err := json.Marshal(order)
	if err != nil {
		return nil, err
	}
	order.Sign = a.sign(unsigned)
	return json.Marshal(order)
}

func (a *Adapter) PrepareSubscriptionData(ctx context.Context, opts *paying.PrepareSubscriptionOptions) (*paying.PreparedSubscription, error) {
	if opts.Product.DurationDays == nil {
		return nil, fmt.Errorf("product %s has no duration", opts.Product.ID)
	}
	transactionID := a.GenerateTransactionID()
	originalTransactionID := a.GenerateOriginalTransactionID()

	response, err := a.signedOrderPayload(&signedOrder{
		OutTradeNo:          transactionID,
		MerchantOrderNo:     originalTransactionID,
		ProductID:           opts.Product.ProviderProductID,
		PaymentExpiresAt:    opts.PaymentExpiresAt.UnixMilli(),
		ExternalAgreementNo: originalTransactionID,
	})
	if err != nil {
		return nil, err
	}
	return &paying.PreparedSubscription{
		Response:              response,
		Duration:              time.Duration(*opts.Product.DurationDays) * 24 * time.Hour,
		TransactionID:         transactionID,
		OriginalTransactionID: originalTransactionID,
	}, nil
}

func (a *Adapter) PreparePurchaseData(ctx context.Context, opts *paying.PreparePurchaseOptions) (*paying.PreparedPurchase, error) {
	transactionID := a.GenerateTransactionID()
	response, err := a.signedOrderPayload(&signedOrder{
		OutTradeNo:       transactionID,
		ProductID:        opts.Product.ProviderProductID,
		PaymentExpiresAt: opts.PaymentExpiresAt.UnixMilli(),
	})
	if err != nil {
		return nil, err
	}
	return &paying.PreparedPurchase{Response: response, TransactionID: transactionID}, nil
}

type callbackEnvelope struct {
	Sign string          `json:"sign"`
	Data json.RawMessage `json:"data"`
}

type callbackData struct {
	NotifyType string `json:"notify_type"`

	// trade_status_sync
	OutTradeNo  string `json:"out_trade_no,omitempty"`
	TradeStatus string `json:"trade_status,omitempty"`
	PaidAt      int64  `json:"paid_at,omitempty"`

	// agreement_sign / agreement_unsign
	ExternalAgreementNo string `json:"external_agreement_no,omitempty"`
	AgreementNo         string `json:"agreement_no,omitempty"`
	AgreementStatus     string `json:"agreement_status,omitempty"`
	SignedAt            int64  `json:"signed_at,omitempty"`
	UnsignedAt          int64  `json:"unsigned_at,omitempty"`
}

// ParseCallback verifies the envelope signature and maps gateway notifications.
func (a *Adapter) ParseCallback(ctx context.Context, raw []byte) (paying.Action, error) {
	var envelope callbackEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("malformed callback body: %w", err)
	}
	if !hmac.Equal([]byte(envelope.Sign), []byte(a.sign(envelope.Data))) {
		return nil, errors.New("callback signature mismatch")
	}
	var data callbackData
	if err := json.Unmarshal(envelope.Data, &data); err != nil {
		return nil, fmt.Errorf("malformed callback data: %w", err)
	}

	switch data.NotifyType {
	case "trade_status_sync":
		if data.TradeStatus != "TRADE_SUCCESS" && data.TradeStatus != "TRADE_FINISHED" {
			return nil, fmt.Errorf("unexpected trade status: %s", data.TradeStatus)
		}
		return &paying.PaymentConfirmedAction{
			TransactionID: data.OutTradeNo,
			PurchasedAt:   time.UnixMilli(data.PaidAt),
		}, nil
	case "agreement_sign":
		if data.AgreementStatus != "NORMAL" {
			return nil, fmt.Errorf("unexpected agreement status: %s", data.AgreementStatus)
		}
		return &paying.SubscribedAction{
			OriginalTransactionID: data.ExternalAgreementNo,
			SubscribedAt:          time.UnixMilli(data.SignedAt),
			Extra:                 map[string]any{ServiceExtraAgreementNo: data.AgreementNo},
		}, nil
	case "agreement_unsign":
		return &paying.SubscriptionCanceledAction{
			OriginalTransactionID: data.ExternalAgreementNo,
			CanceledAt:            time.UnixMilli(data.UnsignedAt),
			Reason:                lo.ToPtr("agreement unsigned"),
		}, nil
	default:
		logctx.FromCtx(ctx, a.log).Infow("unhandled agreement notification", "type", data.NotifyType)
		return nil, nil
	}
}

// ParseReceipt is not supported: the gateway has no client-held receipts,
// everything arrives through callbacks.
func (a *Adapter) ParseReceipt(ctx context.Context, userID string, raw []byte) (*paying.ReceiptContent, error) {
	return nil, errors.New("agreement provider does not issue receipts")
}

func (a *Adapter) QueryTransactionStatus(ctx context.Context, transactionID string) (*paying.TransactionStatusResult, error) {
	rsp, err := a.call(ctx, "/trade/query", map[string]string{"out_trade_no": transactionID})
	if err != nil {
		return nil, err
	}
	switch {
	case rsp.TradeStatus == "TRADE_SUCCESS" || rsp.TradeStatus == "TRADE_FINISHED":
		return &paying.TransactionStatusResult{
			Kind:        paying.TransactionStatusKindSuccess,
			PurchasedAt: lo.ToPtr(time.UnixMilli(rsp.PaidAt)),
		}, nil
	case rsp.TradeStatus == "TRADE_CLOSED",
		rsp.Code == codeBizFailed && rsp.SubCode == "TRADE_NOT_EXIST":
		return &paying.TransactionStatusResult{
			Kind:   paying.TransactionStatusKindCanceled,
			Reason: lo.ToPtr(rsp.TradeStatus + rsp.SubCode),
		}, nil
	default:
		return &paying.TransactionStatusResult{Kind: paying.TransactionStatusKindPending}, nil
	}
}

func (a *Adapter) QuerySubscriptionStatus(ctx context.Context, originalTransactionID string) (*paying.SubscriptionStatusResult, error) {
	rsp, err := a.call(ctx, "/agreement/query", map[string]string{"external_agreement_no": originalTransactionID})
	if err != nil {
		return nil, err
	}
	switch {
	case rsp.AgreementStatus == "NORMAL":
		result := &paying.SubscriptionStatusResult{
			Kind:         paying.SubscriptionStatusKindSubscribed,
			SubscribedAt: lo.ToPtr(time.UnixMilli(rsp.SignedAt)),
		}
		if rsp.AgreementNo != "" {
			result.Extra = map[string]any{ServiceExtraAgreementNo: rsp.AgreementNo}
		}
		return result, nil
	case rsp.Code == codeBizFailed && rsp.SubCode != "SYSTEM_ERROR" && rsp.SubCode != "INVALID_PARAMETER":
		result := &paying.SubscriptionStatusResult{
			Kind:   paying.SubscriptionStatusKindCanceled,
			Reason: lo.ToPtr(rsp.SubCode),
		}
		if rsp.InvalidAt > 0 {
			result.CanceledAt = lo.ToPtr(time.UnixMilli(rsp.InvalidAt))
		}
		return result, nil
	default:
		return &paying.SubscriptionStatusResult{Kind: paying.SubscriptionStatusKindPending}, nil
	}
}

// RechargeSubscription charges the next cycle against the stored agreement.
func (a *Adapter) RechargeSubscription(ctx context.Context, lineage *models.OriginalTransaction, paymentExpiresAt time.Time) (paying.Action, error) {
	agreementNo, _ := lineage.ServiceExtra[ServiceExtraAgreementNo].(string)
	if agreementNo == "" {
		return nil, fmt.Errorf("lineage %s has no agreement number", lineage.ID)
	}
	productID := lineage.RenewalProductOrCurrent()
	product := a.cfg.GetProductByID(productID)
	if product == nil || product.DurationDays == nil {
		return nil, fmt.Errorf("no subscription product %s", productID)
	}

	transactionID := a.GenerateTransactionID()
	rsp, err := a.call(ctx, "/trade/pay", map[string]any{
		"out_trade_no": transactionID,
		"product_id":   product.ProviderProductID,
		"agreement_no": agreementNo,
		"time_expire":  paymentExpiresAt.UnixMilli(),
	})
	if err != nil {
		return nil, err
	}

	switch {
	case rsp.Code == codeSuccess:
		return &paying.SubscriptionRenewalAction{
			TransactionID:         transactionID,
			OriginalTransactionID: lineage.ID,
			ProductID:             product.ID,
			PurchasedAt:           time.UnixMilli(rsp.PaidAt),
			Duration:              time.Duration(*product.DurationDays) * 24 * time.Hour,
		}, nil
	case rsp.Code == codeInProgress:
		// settles later through a trade_status_sync callback
		return nil, nil
	case rsp.Code == codeBizFailed && agreementInvalidSubCodes[rsp.SubCode]:
		return &paying.SubscriptionCanceledAction{
			OriginalTransactionID: lineage.ID,
			CanceledAt:            time.Now(),
			Reason:                lo.ToPtr(rsp.SubCode),
		}, nil
	default:
		return &paying.RechargeFailedAction{
			OriginalTransactionID: lineage.ID,
			Reason:                fmt.Sprintf("%s/%s: %s", rsp.Code, rsp.SubCode, rsp.Msg),
			FailedAt:              time.Now(),
		}, nil
	}
}

// CancelSubscription unsigns the withholding agreement.
func (a *Adapter) CancelSubscription(ctx context.Context, lineage *models.OriginalTransaction) (bool, error) {
	rsp, err := a.call(ctx, "/agreement/unsign", map[string]string{"external_agreement_no": lineage.ID})
	if err != nil {
		return false, err
	}
	if rsp.Code != codeSuccess {
		logctx.FromCtx(ctx, a.log).Warnw("agreement unsign refused",
			"lineage", lineage.ID, "code", rsp.Code, "sub_code", rsp.SubCode, "msg", rsp.Msg)
		return false, nil
	}
	return true, nil
}

var _ paying.Adapter = (*Adapter)(nil)
