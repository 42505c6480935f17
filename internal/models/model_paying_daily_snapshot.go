package models

import (
	"time"

	"github.com/fatflowers/paying/pkg/types"
)

// PayingDailySnapshot is a per-day copy of a lineage's derived state, kept
// for analytics queries that would otherwise need time travel.
type PayingDailySnapshot struct {
	ID                    string                   `gorm:"column:id;type:uuid;primary_key" json:"id"`
	OriginalTransactionID string                   `gorm:"column:original_transaction_id;type:varchar(128);not null;uniqueIndex:idx_lineage_snapshot_date,priority:1" json:"original_transaction_id"`
	UserID                string                   `gorm:"column:user_id;type:varchar(64);not null" json:"user_id"`
	ProviderID            types.PaymentProvider    `gorm:"column:provider_id;type:varchar(64);not null" json:"provider_id"`
	ProductID             string                   `gorm:"column:product_id;type:varchar(64);not null" json:"product_id"`
	Status                types.SubscriptionStatus `gorm:"column:status;type:varchar(64);not null" json:"status"`
	RenewalEnabled        bool                     `gorm:"column:renewal_enabled;not null" json:"renewal_enabled"`
	ExpiresAt             *time.Time               `gorm:"column:expires_at" json:"expires_at"`
	SnapshotDate          string                   `gorm:"column:snapshot_date;uniqueIndex:idx_lineage_snapshot_date,priority:2" json:"snapshot_date"`
	SnapshotCreatedAt     time.Time                `gorm:"column:snapshot_created_at" json:"snapshot_created_at"`
}

func (PayingDailySnapshot) TableName() string {
	return "paying_daily_snapshot"
}
