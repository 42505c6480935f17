package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/fatflowers/paying/pkg/types"
)

// Transaction is one concrete charge attempt: a one-off purchase or a single
// subscription billing cycle. The ID is provider-chosen, so provider-side
// events can be matched without a mapping table.
type Transaction struct {
	ID           string                `gorm:"column:id;primary_key;type:varchar(128)" json:"id"`
	Type         types.TransactionType `gorm:"column:type;type:varchar(32);not null" json:"type"`
	UserID       string                `gorm:"column:user_id;type:varchar(64);not null;index:idx_transaction_user_id" json:"user_id"`
	ProviderID   types.PaymentProvider `gorm:"column:provider_id;type:varchar(64);not null" json:"provider_id"`
	ProductID    string                `gorm:"column:product_id;type:varchar(64);not null" json:"product_id"`
	ProductGroup *string               `gorm:"column:product_group;type:varchar(64)" json:"product_group"`
	// OriginalTransactionID links a subscription cycle to its lineage. Nil for
	// one-off purchases.
	OriginalTransactionID *string `gorm:"column:original_transaction_id;type:varchar(128);index" json:"original_transaction_id"`
	// StartsAt is when the entitlement window of this cycle begins; set for
	// subscription cycles only.
	StartsAt   *time.Time `gorm:"column:starts_at" json:"starts_at"`
	DurationMS *int64     `gorm:"column:duration_ms;type:bigint" json:"duration_ms"`

	PurchasedAt *time.Time `gorm:"column:purchased_at" json:"purchased_at"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at"`
	CanceledAt  *time.Time `gorm:"column:canceled_at" json:"canceled_at"`
	// CancelReason is the provider-reported reason, when one was given.
	CancelReason *string    `gorm:"column:cancel_reason;type:varchar(128)" json:"cancel_reason"`
	FailedAt     *time.Time `gorm:"column:failed_at" json:"failed_at"`
	// PaymentExpiresAt is the payment deadline; cleared once payment completes.
	PaymentExpiresAt *time.Time `gorm:"column:payment_expires_at" json:"payment_expires_at"`

	// Raw is the provider payload captured at preparation/confirmation time.
	Raw datatypes.JSON `gorm:"column:raw;type:jsonb;default:'{}'" json:"raw"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Transaction) TableName() string {
	return "paying_transaction"
}

// Status is derived from timestamps; it is never written to the row.
func (t *Transaction) Status() types.TransactionStatus {
	switch {
	case t.CanceledAt != nil:
		return types.TransactionStatusCanceled
	case t.CompletedAt != nil:
		return types.TransactionStatusCompleted
	case t.FailedAt != nil:
		return types.TransactionStatusFailed
	default:
		return types.TransactionStatusPending
	}
}

func (t *Transaction) IsSubscription() bool {
	return t.Type == types.TransactionTypeSubscription
}

func (t *Transaction) Duration() time.Duration {
	if t.DurationMS == nil {
		return 0
	}
	return time.Duration(*t.DurationMS) * time.Millisecond
}

// ExpiresAt is the end of this cycle's entitlement window, or nil if the
// window is not determined yet.
func (t *Transaction) ExpiresAt() *time.Time {
	if t.StartsAt == nil || t.DurationMS == nil {
		return nil
	}
	e := t.StartsAt.Add(t.Duration())
	return &e
}
