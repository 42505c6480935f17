package apple_iap

import (
	"context"
	"errors"
	"fmt"

	"github.com/awa/go-iap/appstore"
	"github.com/awa/go-iap/appstore/api"
)

type ClientOptions struct {
	KeyID      string
	KeyContent string
	BundleID   string
	Issuer     string
	Sandbox    bool
}

// NewStoreClient builds the App Store Server API client used for status
// queries.
func NewStoreClient(opts *ClientOptions) (*api.StoreClient, error) {
	if opts == nil {
		return nil, errors.New("opts is nil")
	}

	c := &api.StoreConfig{
		KeyContent: []byte(opts.KeyContent),
		KeyID:      opts.KeyID,
		BundleID:   opts.BundleID,
		Issuer:     opts.Issuer,
		Sandbox:    opts.Sandbox,
	}

	return api.NewStoreClient(c), nil
}

type ReceiptInfo struct {
	OriginalPurchaseDateMs  string `json:"original_purchase_date_ms"`
	OriginalPurchaseDatePst string `json:"original_purchase_date_pst"`
	InAppOwnershipType      string `json:"in_app_ownership_type"`
	AppAccountToken         string `json:"app_account_token"`
	Quantity                string `json:"quantity"`
	ProductId               string `json:"product_id"`
	TransactionId           string `json:"transaction_id"`
	PurchaseDate            string `json:"purchase_date"`
	IsTrialPeriod           string `json:"is_trial_period"`
	OriginalTransactionId   string `json:"original_transaction_id"`
	PurchaseDateMs          string `json:"purchase_date_ms"`
	PurchaseDatePst         string `json:"purchase_date_pst"`
	ExpiresDateMs           string `json:"expires_date_ms"`
	OriginalPurchaseDate    string `json:"original_purchase_date"`
}

type Receipt struct {
	LatestReceiptInfo []*ReceiptInfo `json:"latest_receipt_info"`
}

// VerifyReceipt verifies a client-submitted base64 receipt against the
// verifyReceipt endpoint and returns the latest transactions in it.
func VerifyReceipt(ctx context.Context, receiptData string, sandbox bool) (*Receipt, error) {
	client := appstore.New()
	if sandbox {
		client.ProductionURL = client.SandboxURL
	}

	var result Receipt

	err := client.Verify(ctx, appstore.IAPRequest{
		ReceiptData:            receiptData,
		ExcludeOldTransactions: true,
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("failed to verify receipt: %w", err)
	}

	return &result, nil
}
