package agreement

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/fatflowers/paying/internal/app/service/paying"
	models "github.com/fatflowers/paying/internal/models"
	"github.com/fatflowers/paying/pkg/config"
	"github.com/fatflowers/paying/pkg/types"
	"github.com/samber/lo"
)

func newTestAdapter(endpoint string) *Adapter {
	cfg := &config.Config{
		Agreement: config.AgreementConfig{
			Endpoint: endpoint,
			AppID:    "app-1",
			Secret:   "test-secret",
		},
		Products: []*types.Product{
			{
				ID:                "premium_monthly",
				ProviderID:        types.PaymentProviderAgreement,
				ProviderProductID: "premium-monthly",
				Kind:              types.ProductKindSubscription,
				Group:             lo.ToPtr("premium"),
				DurationDays:      lo.ToPtr(int64(30)),
			},
		},
	}
	return NewAdapter(cfg, zap.NewNop().Sugar())
}

func signedCallback(t *testing.T, a *Adapter, data any) []byte {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	body, err := json.Marshal(callbackEnvelope{Sign: a.sign(raw), Data: raw})
	require.NoError(t, err)
	return body
}

func TestParseCallbackPayment(t *testing.T) {
	a := newTestAdapter("")
	paidAt := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	action, err := a.ParseCallback(context.Background(), signedCallback(t, a, map[string]any{
		"notify_type":  "trade_status_sync",
		"out_trade_no": "tx-1",
		"trade_status": "TRADE_SUCCESS",
		"paid_at":      paidAt.UnixMilli(),
	}))
	require.NoError(t, err)

	confirmed, ok := action.(*paying.PaymentConfirmedAction)
	require.True(t, ok)
	assert.Equal(t, "tx-1", confirmed.TransactionID)
	assert.Equal(t, paidAt, confirmed.PurchasedAt.UTC())
}

func TestParseCallbackSign(t *testing.T) {
	a := newTestAdapter("")

	action, err := a.ParseCallback(context.Background(), signedCallback(t, a, map[string]any{
		"notify_type":           "agreement_sign",
		"external_agreement_no": "orig-1",
		"agreement_no":          "AG-20250301",
		"agreement_status":      "NORMAL",
		"signed_at":             time.Now().UnixMilli(),
	}))
	require.NoError(t, err)

	subscribed, ok := action.(*paying.SubscribedAction)
	require.True(t, ok)
	assert.Equal(t, "orig-1", subscribed.OriginalTransactionID)
	assert.Equal(t, "AG-20250301", subscribed.Extra[ServiceExtraAgreementNo])
}

func TestParseCallbackRejectsBadSignature(t *testing.T) {
	a := newTestAdapter("")

	data, _ := json.Marshal(map[string]any{"notify_type": "trade_status_sync"})
	body, _ := json.Marshal(callbackEnvelope{Sign: "deadbeef", Data: data})

	_, err := a.ParseCallback(context.Background(), body)
	assert.ErrorContains(t, err, "signature mismatch")
}

func TestParseCallbackIgnoresUnknownNotify(t *testing.T) {
	a := newTestAdapter("")

	action, err := a.ParseCallback(context.Background(), signedCallback(t, a, map[string]any{
		"notify_type": "balance_sync",
	}))
	require.NoError(t, err)
	assert.Nil(t, action)
}

func gatewayStub(t *testing.T, path string, response map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, path, r.URL.Path)
		assert.Equal(t, "app-1", r.Header.Get("X-Agreement-App-Id"))
		assert.NotEmpty(t, r.Header.Get("X-Agreement-Signature"))
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(response))
	}))
}

func lineageWithAgreement() *models.OriginalTransaction {
	return &models.OriginalTransaction{
		ID:           "orig-1",
		UserID:       "user-1",
		ProviderID:   types.PaymentProviderAgreement,
		ProductID:    "premium_monthly",
		ServiceExtra: datatypes.JSONMap{ServiceExtraAgreementNo: "AG-1"},
	}
}

func TestRechargeSubscriptionSuccess(t *testing.T) {
	paidAt := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	server := gatewayStub(t, "/trade/pay", map[string]any{
		"code":    codeSuccess,
		"paid_at": paidAt.UnixMilli(),
	})
	defer server.Close()

	a := newTestAdapter(server.URL)
	action, err := a.RechargeSubscription(context.Background(), lineageWithAgreement(), time.Now().Add(time.Hour))
	require.NoError(t, err)

	renewal, ok := action.(*paying.SubscriptionRenewalAction)
	require.True(t, ok)
	assert.Equal(t, "orig-1", renewal.OriginalTransactionID)
	assert.Equal(t, "premium_monthly", renewal.ProductID)
	assert.Equal(t, 30*24*time.Hour, renewal.Duration)
	assert.Equal(t, paidAt, renewal.PurchasedAt.UTC())
	assert.NotEmpty(t, renewal.TransactionID)
}

func TestRechargeSubscriptionInProgress(t *testing.T) {
	server := gatewayStub(t, "/trade/pay", map[string]any{"code": codeInProgress})
	defer server.Close()

	a := newTestAdapter(server.URL)
	action, err := a.RechargeSubscription(context.Background(), lineageWithAgreement(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Nil(t, action)
}

func TestRechargeSubscriptionDeadAgreement(t *testing.T) {
	server := gatewayStub(t, "/trade/pay", map[string]any{
		"code":     codeBizFailed,
		"sub_code": "AGREEMENT_NOT_EXIST",
	})
	defer server.Close()

	a := newTestAdapter(server.URL)
	action, err := a.RechargeSubscription(context.Background(), lineageWithAgreement(), time.Now().Add(time.Hour))
	require.NoError(t, err)

	canceled, ok := action.(*paying.SubscriptionCanceledAction)
	require.True(t, ok)
	assert.Equal(t, "orig-1", canceled.OriginalTransactionID)
}

func TestRechargeSubscriptionOtherFailure(t *testing.T) {
	server := gatewayStub(t, "/trade/pay", map[string]any{
		"code":     codeBizFailed,
		"sub_code": "USER_BALANCE_NOT_ENOUGH",
		"msg":      "insufficient balance",
	})
	defer server.Close()

	a := newTestAdapter(server.URL)
	action, err := a.RechargeSubscription(context.Background(), lineageWithAgreement(), time.Now().Add(time.Hour))
	require.NoError(t, err)

	failed, ok := action.(*paying.RechargeFailedAction)
	require.True(t, ok)
	assert.Contains(t, failed.Reason, "USER_BALANCE_NOT_ENOUGH")
}

func TestRechargeSubscriptionRequiresAgreementNo(t *testing.T) {
	a := newTestAdapter("")
	lineage := lineageWithAgreement()
	lineage.ServiceExtra = datatypes.JSONMap{}

	_, err := a.RechargeSubscription(context.Background(), lineage, time.Now())
	assert.ErrorContains(t, err, "no agreement number")
}

func TestCancelSubscription(t *testing.T) {
	server := gatewayStub(t, "/agreement/unsign", map[string]any{"code": codeSuccess})
	defer server.Close()

	a := newTestAdapter(server.URL)
	ok, err := a.CancelSubscription(context.Background(), lineageWithAgreement())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCancelSubscriptionRefused(t *testing.T) {
	server := gatewayStub(t, "/agreement/unsign", map[string]any{
		"code":     codeBizFailed,
		"sub_code": "AGREEMENT_STATUS_NOT_VALID",
	})
	defer server.Close()

	a := newTestAdapter(server.URL)
	ok, err := a.CancelSubscription(context.Background(), lineageWithAgreement())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueryTransactionStatus(t *testing.T) {
	paidAt := time.Date(2025, 3, 2, 0, 0, 0, 0, time.UTC)
	server := gatewayStub(t, "/trade/query", map[string]any{
		"code":         codeSuccess,
		"trade_status": "TRADE_SUCCESS",
		"paid_at":      paidAt.UnixMilli(),
	})
	defer server.Close()

	a := newTestAdapter(server.URL)
	result, err := a.QueryTransactionStatus(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, paying.TransactionStatusKindSuccess, result.Kind)
	require.NotNil(t, result.PurchasedAt)
	assert.Equal(t, paidAt, result.PurchasedAt.UTC())
}

func TestQuerySubscriptionStatusCanceled(t *testing.T) {
	server := gatewayStub(t, "/agreement/query", map[string]any{
		"code":       codeBizFailed,
		"sub_code":   "AGREEMENT_NOT_EXIST",
		"invalid_at": time.Now().UnixMilli(),
	})
	defer server.Close()

	a := newTestAdapter(server.URL)
	result, err := a.QuerySubscriptionStatus(context.Background(), "orig-1")
	require.NoError(t, err)
	assert.Equal(t, paying.SubscriptionStatusKindCanceled, result.Kind)
}

func TestPrepareSubscriptionDataSignsOrder(t *testing.T) {
	a := newTestAdapter("")
	prepared, err := a.PrepareSubscriptionData(context.Background(), &paying.PrepareSubscriptionOptions{
		UserID:           "user-1",
		Product:          a.cfg.Products[0],
		StartsAt:         time.Now(),
		PaymentExpiresAt: time.Now().Add(30 * time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, 30*24*time.Hour, prepared.Duration)
	assert.NotEmpty(t, prepared.TransactionID)
	assert.NotEmpty(t, prepared.OriginalTransactionID)

	var order signedOrder
	require.NoError(t, json.Unmarshal(prepared.Response, &order))
	assert.Equal(t, prepared.TransactionID, order.OutTradeNo)
	assert.Equal(t, prepared.OriginalTransactionID, order.ExternalAgreementNo)
	assert.NotEmpty(t, order.Sign)
}
