package paying

import (
	"context"
	"encoding/json"
	"time"

	models "github.com/fatflowers/paying/internal/models"
	"github.com/fatflowers/paying/pkg/types"
)

type PrepareSubscriptionOptions struct {
	UserID           string
	Product          *types.Product
	StartsAt         time.Time
	PaymentExpiresAt time.Time
}

// PreparedSubscription is what the provider needs us to persist plus the
// opaque payload the client uses to complete payment. IDs are provider-chosen
// so that later provider events can be matched directly.
type PreparedSubscription struct {
	Response              json.RawMessage
	Duration              time.Duration
	TransactionID         string
	OriginalTransactionID string
}

type PreparePurchaseOptions struct {
	UserID           string
	Product          *types.Product
	PaymentExpiresAt time.Time
}

type PreparedPurchase struct {
	Response      json.RawMessage
	TransactionID string
}

type TransactionStatusKind string

const (
	TransactionStatusKindSuccess  TransactionStatusKind = "success"
	TransactionStatusKindCanceled TransactionStatusKind = "canceled"
	TransactionStatusKindPending  TransactionStatusKind = "pending"
)

type TransactionStatusResult struct {
	Kind        TransactionStatusKind
	PurchasedAt *time.Time
	CanceledAt  *time.Time
	Reason      *string
}

type SubscriptionStatusKind string

const (
	SubscriptionStatusKindSubscribed SubscriptionStatusKind = "subscribed"
	SubscriptionStatusKindCanceled   SubscriptionStatusKind = "canceled"
	SubscriptionStatusKindPending    SubscriptionStatusKind = "pending"
)

type SubscriptionStatusResult struct {
	Kind               SubscriptionStatusKind
	SubscribedAt       *time.Time
	CanceledAt         *time.Time
	Reason             *string
	Extra              map[string]any
	AutoRenewalEnabled *bool
}

// ReceiptContent is the reconciliation data parsed out of a client-submitted
// receipt. Applying the same receipt twice must leave the ledger unchanged.
type ReceiptContent struct {
	Subscription *ReceiptSubscription
	Purchases    []*ReceiptPurchase
}

type ReceiptSubscription struct {
	OriginalTransactionID string
	ProductID             string
	SubscribedAt          *time.Time
	RenewalEnabled        *bool
	Extra                 map[string]any
	Cycles                []*ReceiptCycle
}

// ReceiptCycle is one billing cycle present in a receipt.
type ReceiptCycle struct {
	TransactionID string
	ProductID     string
	PurchasedAt   time.Time
	StartsAt      time.Time
	Duration      time.Duration
}

type ReceiptPurchase struct {
	TransactionID string
	ProductID     string
	PurchasedAt   time.Time
}

// Adapter is the per-provider capability set. Adapters never write the
// ledger; they normalize provider interactions into Actions and results that
// the engine interprets.
type Adapter interface {
	Provider() types.PaymentProvider

	GenerateTransactionID() string
	GenerateOriginalTransactionID() string

	PrepareSubscriptionData(ctx context.Context, opts *PrepareSubscriptionOptions) (*PreparedSubscription, error)
	PreparePurchaseData(ctx context.Context, opts *PreparePurchaseOptions) (*PreparedPurchase, error)

	// ParseCallback returns (nil, nil) for callbacks that are valid but carry
	// nothing actionable.
	ParseCallback(ctx context.Context, raw []byte) (Action, error)
	ParseReceipt(ctx context.Context, userID string, raw []byte) (*ReceiptContent, error)

	QueryTransactionStatus(ctx context.Context, transactionID string) (*TransactionStatusResult, error)
	QuerySubscriptionStatus(ctx context.Context, originalTransactionID string) (*SubscriptionStatusResult, error)

	// RechargeSubscription attempts the next renewal charge. A nil Action
	// means the charge is in flight and a later callback will settle it.
	RechargeSubscription(ctx context.Context, lineage *models.OriginalTransaction, paymentExpiresAt time.Time) (Action, error)

	// CancelSubscription returns whether the provider confirmed the
	// cancellation. False with nil error is a plain refusal, not a fault.
	CancelSubscription(ctx context.Context, lineage *models.OriginalTransaction) (bool, error)
}
