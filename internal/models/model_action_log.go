package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/fatflowers/paying/pkg/types"
)

// ActionLog 引擎动作变更日志
// 使用场景：记录每次应用到账本上的动作，用于问题排查
type ActionLog struct {
	ID         string                `gorm:"column:id;primary_key;type:uuid;index:idx_action_log_user_id_id,priority:2,sort:desc"`
	UserID     string                `gorm:"column:user_id;type:varchar(64);index:idx_action_log_user_id_id,priority:1;not null"`
	ProviderID types.PaymentProvider `gorm:"column:provider_id;type:varchar(64);not null"`
	// ActionType 动作类型，对应引擎的 Action 判别值
	ActionType            string  `gorm:"column:action_type;type:varchar(64);not null"`
	TransactionID         *string `gorm:"column:transaction_id;type:varchar(128)"`
	OriginalTransactionID *string `gorm:"column:original_transaction_id;type:varchar(128)"`
	// Before 变更前的世系记录，JSON格式存储
	Before datatypes.JSONType[*OriginalTransaction] `gorm:"column:before;type:jsonb;default:'null'"`
	// After 变更后的世系记录，JSON格式存储
	After datatypes.JSONType[*OriginalTransaction] `gorm:"column:after;type:jsonb;default:'null'"`
	// Extra 额外的上下文信息，如触发来源
	Extra     datatypes.JSONMap `gorm:"column:extra;type:jsonb;default:'{}'"`
	CreatedAt time.Time         `json:"created_at"`
}

func (ActionLog) TableName() string {
	return "paying_action_log"
}
