package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/fatflowers/paying/pkg/types"
)

// OriginalTransaction is the enduring record of one subscription agreement.
// It spans every renewal cycle; individual charges live in Transaction rows
// pointing back at it.
type OriginalTransaction struct {
	ID         string                `gorm:"column:id;primary_key;type:varchar(128)" json:"id"`
	UserID     string                `gorm:"column:user_id;type:varchar(64);not null;index:idx_original_transaction_user_id" json:"user_id"`
	ProviderID types.PaymentProvider `gorm:"column:provider_id;type:varchar(64);not null" json:"provider_id"`
	// ProductID is the current cycle's product; RenewalProductID is what the
	// next cycle will charge (differs during a plan change).
	ProductID        string  `gorm:"column:product_id;type:varchar(64);not null" json:"product_id"`
	RenewalProductID *string `gorm:"column:renewal_product_id;type:varchar(64)" json:"renewal_product_id"`
	ProductGroup     *string `gorm:"column:product_group;type:varchar(64);index:idx_original_transaction_group" json:"product_group"`

	StartsAt  *time.Time `gorm:"column:starts_at" json:"starts_at"`
	ExpiresAt *time.Time `gorm:"column:expires_at;index" json:"expires_at"`
	// SubscribedAt is when the provider confirmed the recurring mandate.
	SubscribedAt *time.Time `gorm:"column:subscribed_at" json:"subscribed_at"`
	CanceledAt   *time.Time `gorm:"column:canceled_at" json:"canceled_at"`
	CancelReason *string    `gorm:"column:cancel_reason;type:varchar(128)" json:"cancel_reason"`

	RenewalEnabled bool `gorm:"column:renewal_enabled;not null;default:false" json:"renewal_enabled"`

	LastFailedReason *string    `gorm:"column:last_failed_reason;type:varchar(256)" json:"last_failed_reason"`
	LastFailedAt     *time.Time `gorm:"column:last_failed_at" json:"last_failed_at"`

	// ServiceExtra holds opaque provider state, e.g. the external agreement no.
	ServiceExtra datatypes.JSONMap `gorm:"column:service_extra;type:jsonb;default:'{}'" json:"service_extra"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (OriginalTransaction) TableName() string {
	return "paying_original_transaction"
}

// Status is derived from timestamps; it is never written to the row.
// Cancellation is terminal and wins over everything else.
func (o *OriginalTransaction) Status(now time.Time) types.SubscriptionStatus {
	switch {
	case o.CanceledAt != nil:
		return types.SubscriptionStatusCanceled
	case o.StartsAt == nil || o.ExpiresAt == nil:
		return types.SubscriptionStatusPending
	case o.ExpiresAt.Before(now):
		return types.SubscriptionStatusExpired
	case o.StartsAt.After(now):
		return types.SubscriptionStatusNotStarted
	default:
		return types.SubscriptionStatusActive
	}
}

func (o *OriginalTransaction) IsCanceled() bool {
	return o.CanceledAt != nil
}

// RenewalProductOrCurrent resolves what the next cycle should charge.
func (o *OriginalTransaction) RenewalProductOrCurrent() string {
	if o.RenewalProductID != nil && *o.RenewalProductID != "" {
		return *o.RenewalProductID
	}
	return o.ProductID
}
