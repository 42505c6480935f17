package notification_log

import (
	"context"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/fatflowers/paying/internal/models"
	"github.com/fatflowers/paying/pkg/logctx"
	"github.com/fatflowers/paying/pkg/tool"
)

// Service persists audit rows off the request path. Writes are asynchronous:
// losing one audit row is acceptable, slowing a webhook down is not.
type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func New(db *gorm.DB, log *zap.SugaredLogger) *Service { return &Service{db: db, log: log} }

// SaveNotification persists a raw provider callback record. Nil input is ignored.
func (s *Service) SaveNotification(ctx context.Context, row *models.PaymentNotificationLog) {
	go func() {
		if row == nil {
			return
		}
		if row.ID == "" {
			row.ID = tool.GenerateUUIDV7()
		}
		if err := s.db.Save(row).Error; err != nil {
			logctx.FromCtx(ctx, s.log).Errorf("failed to save notification log: %v", err)
		}
	}()
}

// SaveAction persists one applied-action record. Nil input is ignored.
func (s *Service) SaveAction(ctx context.Context, row *models.ActionLog) {
	go func() {
		if row == nil {
			return
		}
		if row.ID == "" {
			row.ID = tool.GenerateUUIDV7()
		}
		if err := s.db.Create(row).Error; err != nil {
			logctx.FromCtx(ctx, s.log).Errorf("failed to save action log: %v", err)
		}
	}()
}
