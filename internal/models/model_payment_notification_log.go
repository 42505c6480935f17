package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/fatflowers/paying/pkg/types"
)

type PaymentNotificationLogStatus string

const (
	PaymentNotificationLogStatusReceived     PaymentNotificationLogStatus = "received"
	PaymentNotificationLogStatusHandled      PaymentNotificationLogStatus = "handled"
	PaymentNotificationLogStatusHandleFailed PaymentNotificationLogStatus = "handle_failed"
)

// PaymentNotificationLog is the audit trail of raw provider callbacks, kept
// for problem diagnosis and replay.
type PaymentNotificationLog struct {
	ID         string                `gorm:"column:id;type:uuid;primary_key" json:"id"`
	ProviderID types.PaymentProvider `gorm:"column:provider_id;type:varchar(64);not null" json:"provider_id"`
	TraceID    string                `gorm:"column:trace_id;type:varchar(128)" json:"trace_id"`
	// ActionType is the normalized action the callback resolved to, empty when
	// the callback was ignorable or failed to parse.
	ActionType            string                       `gorm:"column:action_type;type:varchar(64)" json:"action_type"`
	TransactionID         *string                      `gorm:"column:transaction_id;type:varchar(128)" json:"transaction_id"`
	OriginalTransactionID *string                      `gorm:"column:original_transaction_id;type:varchar(128)" json:"original_transaction_id"`
	NotificationTime      time.Time                    `gorm:"column:notification_time" json:"notification_time"`
	Data                  datatypes.JSON               `gorm:"column:data;type:jsonb" json:"data"`
	Result                *datatypes.JSON              `gorm:"column:result;type:jsonb" json:"result"`
	Status                PaymentNotificationLogStatus `gorm:"column:status;type:varchar(64);not null" json:"status"`
	CreatedAt             time.Time                    `json:"created_at"`
	UpdatedAt             time.Time                    `json:"updated_at"`
}

func (PaymentNotificationLog) TableName() string { return "payment_notification_log" }
